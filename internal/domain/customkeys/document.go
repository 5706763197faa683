package customkeys

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"licence-server-go/internal/platform/errors"
)

// Entry is one externally provisioned key.
type Entry struct {
	Key    string    `json:"key"`
	Expiry time.Time `json:"expiry"`
}

// Keys 为指针以区分缺失/null 与空列表
type document struct {
	Keys *[]documentEntry `json:"keys"`
}

// documentEntry 旧版文件使用 expired 字段，读取时兼容
type documentEntry struct {
	Key     string `json:"key"`
	Expiry  string `json:"expiry,omitempty"`
	Expired string `json:"expired,omitempty"`
}

func (e documentEntry) rawExpiry() string {
	if e.Expiry != "" {
		return e.Expiry
	}
	return e.Expired
}

// LoadStats 描述一次解析的结果
type LoadStats struct {
	Total      int `json:"total"`
	Loaded     int `json:"loaded"`
	Expired    int `json:"expired"`
	Unparsable int `json:"unparsable"`
	EmptyKeys  int `json:"empty_keys"`
	Duplicates int `json:"duplicates"`
}

// parse 解析整份文档。只有文档结构错误（包括缺少 keys 数组）才返回错误；单条记录的问题计入 stats。
// 过期或无法解析的记录被跳过；同一 key 多次出现时以最后一条有效记录为准。
func parse(data []byte, now time.Time, warn func(format string, args ...any)) (map[string]time.Time, LoadStats, error) {
	var stats LoadStats
	var doc document
	if err := sonic.Unmarshal(data, &doc); err != nil {
		return nil, stats, errors.Wrap(errors.KindSource, "customkeys.parse", "malformed key document",
			fmt.Errorf("%w: %w", errors.ErrSourceMalformed, err))
	}
	if doc.Keys == nil {
		return nil, stats, errors.Wrap(errors.KindSource, "customkeys.parse", "malformed key document",
			fmt.Errorf("%w: missing \"keys\" array", errors.ErrSourceMalformed))
	}
	items := *doc.Keys

	stats.Total = len(items)
	entries := make(map[string]time.Time, len(items))
	seen := make(map[string]bool, len(items))
	for i, item := range items {
		key := strings.TrimSpace(item.Key)
		if key == "" {
			stats.EmptyKeys++
			continue
		}
		expiry, err := time.Parse(time.RFC3339, strings.TrimSpace(item.rawExpiry()))
		if err != nil {
			stats.Unparsable++
			if warn != nil {
				warn("忽略第 %d 条密钥 %s: 过期时间无法解析 %q", i, key, item.rawExpiry())
			}
			continue
		}
		if !expiry.After(now) {
			stats.Expired++
			continue
		}
		if seen[key] {
			stats.Duplicates++
		}
		seen[key] = true
		entries[key] = expiry
	}
	stats.Loaded = len(entries)
	return entries, stats, nil
}

// readFile 读取并解析密钥文件
func readFile(path string, now time.Time, warn func(format string, args ...any)) (map[string]time.Time, LoadStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, LoadStats{}, errors.Wrap(errors.KindSource, "customkeys.read", "cannot read key source",
			fmt.Errorf("%w: %w", errors.ErrSourceUnreadable, err))
	}
	return parse(data, now, warn)
}

// Save 以与读取相同的格式写出密钥文件。先写临时文件再 rename，读者不会看到半份文件。
func Save(path string, entries []Entry) error {
	items := make([]documentEntry, 0, len(entries))
	for _, e := range entries {
		items = append(items, documentEntry{
			Key:    e.Key,
			Expiry: e.Expiry.UTC().Format(time.RFC3339),
		})
	}
	doc := document{Keys: &items}
	data, err := sonic.ConfigStd.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(errors.KindSource, "customkeys.save", "failed to encode key document", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(errors.KindSource, "customkeys.save", "failed to create directory", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(errors.KindSource, "customkeys.save", "failed to create temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(errors.KindSource, "customkeys.save", "failed to write key document", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(errors.KindSource, "customkeys.save", "failed to close temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(errors.KindSource, "customkeys.save", "failed to replace key document", err)
	}
	return nil
}
