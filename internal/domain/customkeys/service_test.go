package customkeys

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_FirstRunCreatesDefaultKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom_keys.json")
	svc := NewService(ServiceOptions{Path: path})
	svc.Start()
	defer svc.Stop()

	_, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, svc.Cache().IsValid(DefaultKey))
	assert.False(t, svc.Watching())
}

func TestService_MalformedInitialLoadLeavesEmptyCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom_keys.json")
	writeDoc(t, path, `not json`)

	svc := NewService(ServiceOptions{Path: path})
	svc.Start()
	defer svc.Stop()

	assert.Equal(t, 0, svc.Cache().Len())
}

func TestService_LiveReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom_keys.json")
	writeDoc(t, path, `{"keys":[{"key":"first","expiry":"2099-01-01T00:00:00Z"}]}`)

	svc := NewService(ServiceOptions{Path: path, Watch: true, Debounce: 20 * time.Millisecond})
	svc.Start()
	defer svc.Stop()
	require.True(t, svc.Watching())
	assert.True(t, svc.Cache().IsValid("first"))

	// 原子替换文件，与编辑器保存方式一致
	require.NoError(t, Save(path, []Entry{
		{Key: "first", Expiry: time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Key: "second", Expiry: time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)},
	}))
	assert.Eventually(t, func() bool {
		return svc.Cache().IsValid("second")
	}, 3*time.Second, 20*time.Millisecond)

	// 格式错误的内容不会清空缓存
	version := svc.Cache().Version()
	writeDoc(t, path, `{"keys": [`)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, version, svc.Cache().Version())
	assert.True(t, svc.Cache().IsValid("second"))
}

func TestService_LiveReloadWithoutDebounce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom_keys.json")
	writeDoc(t, path, `{"keys":[]}`)

	svc := NewService(ServiceOptions{Path: path, Watch: true})
	svc.Start()
	defer svc.Stop()

	writeDoc(t, path, `{"keys":[{"key":"now","expiry":"2099-01-01T00:00:00Z"}]}`)
	assert.Eventually(t, func() bool {
		return svc.Cache().IsValid("now")
	}, 3*time.Second, 20*time.Millisecond)
}

func TestService_StopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom_keys.json")
	svc := NewService(ServiceOptions{Path: path, Watch: true, Debounce: 10 * time.Millisecond})
	svc.Start()

	assert.NoError(t, svc.Stop())
	assert.NoError(t, svc.Stop())
	assert.False(t, svc.Watching())
}

func TestService_RunSweepsPeriodically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom_keys.json")
	clock := &fakeClock{now: time.Now().UTC()}
	require.NoError(t, Save(path, []Entry{
		{Key: "short", Expiry: clock.Now().Add(time.Hour)},
		{Key: "long", Expiry: clock.Now().Add(48 * time.Hour)},
	}))

	svc := NewService(ServiceOptions{Path: path, SweepInterval: 10 * time.Millisecond, Now: clock.Now})
	svc.Start()
	require.Equal(t, 2, svc.Cache().Len())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	clock.Advance(2 * time.Hour)
	assert.Eventually(t, func() bool {
		return svc.Cache().Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestWatcher_RejectsBadArguments(t *testing.T) {
	_, err := NewWatcher("", 0, func() {}, nil)
	assert.Error(t, err)
	_, err = NewWatcher("keys.json", 0, nil, nil)
	assert.Error(t, err)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom_keys.json")
	writeDoc(t, path, `{"keys":[]}`)

	fired := make(chan struct{}, 10)
	w, err := NewWatcher(path, 0, func() { fired <- struct{}{} }, nil)
	require.NoError(t, err)
	defer w.Stop()

	writeDoc(t, filepath.Join(dir, "other.json"), `{}`)
	select {
	case <-fired:
		t.Fatal("unexpected reload for unrelated file")
	case <-time.After(150 * time.Millisecond):
	}

	writeDoc(t, path, `{"keys":[]}`)
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expected reload for watched file")
	}
}

func TestWatcher_StopWaitsForRunningCallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom_keys.json")
	writeDoc(t, path, `{"keys":[]}`)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls atomic.Int32
	w, err := NewWatcher(path, time.Hour, func() {
		started <- struct{}{}
		<-release
		calls.Add(1)
	}, nil)
	require.NoError(t, err)

	// 模拟已触发的防抖定时器
	go w.fire()
	<-started

	stopped := make(chan struct{})
	go func() {
		_ = w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while callback was running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after callback finished")
	}
	assert.Equal(t, int32(1), calls.Load())

	// 停止后到期的定时器不再回调
	w.fire()
	assert.Equal(t, int32(1), calls.Load())
}
