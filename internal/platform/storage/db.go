package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"licence-server-go/internal/platform/config"
	"licence-server-go/internal/platform/errors"
	"licence-server-go/internal/platform/storage/migrations"
)

// Open 打开 sqlite 数据库并设置连接池。MaxOpenConns 为 1 时所有写入天然串行。
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New(errors.KindConfig, "storage.open", "database dsn is empty")
	}

	if path := filePath(dsn); path != "" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Storage("storage.open", "failed to create data directory", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(withPragmas(dsn, cfg.BusyTimeout)), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Storage("storage.open", "failed to open database", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Storage("storage.open", "failed to get sql.DB", err)
	}
	conns := poolSize(dsn, cfg.MaxOpenConns)
	sqlDB.SetMaxOpenConns(conns)
	// 内存库在最后一个连接关闭时消失
	sqlDB.SetMaxIdleConns(conns)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Storage("storage.ping", "database unreachable", err)
	}
	return db, nil
}

// Migrate 执行全部内置迁移，返回本次应用的版本
func Migrate(db *gorm.DB) ([]string, error) {
	manager := NewMigrationManager(db)
	manager.AddMigration(
		&migrations.Migration001LicenceKeys{},
		&migrations.Migration002LicenceBindings{},
		&migrations.Migration003DomainEvents{},
	)
	return manager.RunMigrations()
}

// Close 关闭底层连接
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// poolSize 私有内存库（无 cache=shared）每个连接各自一份空库，只能用单连接
func poolSize(dsn string, n int) int {
	if n < 1 {
		return 1
	}
	if isMemory(dsn) && !strings.Contains(dsn, "cache=shared") {
		return 1
	}
	return n
}

// filePath 返回 DSN 对应的磁盘路径，内存库返回空
func filePath(dsn string) string {
	if isMemory(dsn) {
		return ""
	}
	path := strings.TrimPrefix(dsn, "sqlite://")
	path = strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

// withPragmas 追加 go-sqlite3 的连接参数，保证每个新连接都带上 busy_timeout/WAL
func withPragmas(dsn string, busy time.Duration) string {
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	params := []string{}
	if busy > 0 && !strings.Contains(dsn, "_busy_timeout") {
		params = append(params, fmt.Sprintf("_busy_timeout=%d", busy.Milliseconds()))
	}
	if !isMemory(dsn) && !strings.Contains(dsn, "_journal_mode") {
		params = append(params, "_journal_mode=WAL")
	}
	if !strings.Contains(dsn, "_txlock") {
		// 事务在 BEGIN 时即持有写锁
		params = append(params, "_txlock=immediate")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}
