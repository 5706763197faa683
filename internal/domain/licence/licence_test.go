package licence

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"licence-server-go/internal/domain/eventbus"
	"licence-server-go/internal/domain/licence/lock"
	"licence-server-go/internal/domain/licence/model"
	"licence-server-go/internal/domain/licence/store"
	"licence-server-go/internal/platform/config"
	"licence-server-go/internal/platform/errors"
	"licence-server-go/internal/platform/storage"
)

var dbSeq atomic.Int64

type fixedClock struct{ now atomic.Int64 }

func newClock(start int64) *fixedClock {
	c := &fixedClock{}
	c.now.Store(start)
	return c
}

func (c *fixedClock) Now() int64      { return c.now.Load() }
func (c *fixedClock) Set(t int64)     { c.now.Store(t) }
func (c *fixedClock) Advance(d int64) { c.now.Add(d) }

type staticCache map[string]bool

func (c staticCache) IsValid(key string) bool { return c[key] }

func sqliteStore(t *testing.T, clock model.Clock, conns int) store.Store {
	t.Helper()
	db, err := storage.Open(config.DatabaseConfig{
		DSN:          fmt.Sprintf("file:licence-mgr-%d?mode=memory&cache=shared", dbSeq.Add(1)),
		MaxOpenConns: conns,
		BusyTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })
	_, err = storage.Migrate(db)
	require.NoError(t, err)
	st, err := store.NewSQLite(db, store.Config{Clock: clock})
	require.NoError(t, err)
	return st
}

type backend struct {
	name string
	make func(t *testing.T, clock model.Clock) (store.Store, lock.Locker)
}

var backends = []backend{
	{"memory", func(t *testing.T, clock model.Clock) (store.Store, lock.Locker) {
		return store.NewMemory(store.Config{Clock: clock}), lock.NewLocal()
	}},
	{"sqlite", func(t *testing.T, clock model.Clock) (store.Store, lock.Locker) {
		return sqliteStore(t, clock, 1), lock.NewLocal()
	}},
}

func newManager(t *testing.T, st store.Store, locker lock.Locker, clock model.Clock, cache KeyCache, pub eventbus.Publisher) *Manager {
	t.Helper()
	m, err := NewManager(Options{
		Store:     st,
		Locker:    locker,
		Cache:     cache,
		Publisher: pub,
		Clock:     clock,
	})
	require.NoError(t, err)
	return m
}

func TestTryBind_QuotaIsLinearizable(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			clock := newClock(1_000)
			st, locker := b.make(t, clock)
			m := newManager(t, st, locker, clock, nil, nil)
			ctx := context.Background()

			const n, k = 3, 7
			require.NoError(t, m.Issue(ctx, "race", 10_000, true, nil, n))

			var admitted, quota atomic.Int32
			var g errgroup.Group
			for i := 0; i < n+k; i++ {
				peer := fmt.Sprintf("peer-%02d", i)
				g.Go(func() error {
					res, err := m.TryBind(ctx, "race", peer)
					if err != nil {
						return err
					}
					switch {
					case res.Outcome == model.Admitted:
						admitted.Add(1)
					case res.Outcome == model.Rejected && res.Reason == model.QuotaExceeded:
						quota.Add(1)
					default:
						return fmt.Errorf("unexpected outcome %s for %s", res, peer)
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())

			assert.Equal(t, int32(n), admitted.Load())
			assert.Equal(t, int32(k), quota.Load())

			bindings, err := m.Bindings(ctx, "race")
			require.NoError(t, err)
			assert.Len(t, bindings, n)
		})
	}
}

func TestTryBind_MultiConnectionSQLite(t *testing.T) {
	clock := newClock(1_000)
	// 多连接下依靠 key 锁 + immediate 事务保证配额
	db, err := storage.Open(config.DatabaseConfig{
		DSN:          fmt.Sprintf("%s/multi.sqlite3", t.TempDir()),
		MaxOpenConns: 4,
		BusyTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })
	_, err = storage.Migrate(db)
	require.NoError(t, err)
	st, err := store.NewSQLite(db, store.Config{Clock: clock})
	require.NoError(t, err)

	m := newManager(t, st, lock.NewLocal(), clock, nil, nil)
	ctx := context.Background()
	require.NoError(t, m.Issue(ctx, "a", 10_000, true, nil, 2))
	require.NoError(t, m.Issue(ctx, "b", 10_000, true, nil, 2))

	var admitted sync.Map
	var g errgroup.Group
	for i := 0; i < 12; i++ {
		key := []string{"a", "b"}[i%2]
		peer := fmt.Sprintf("p%d", i)
		g.Go(func() error {
			res, err := m.TryBind(ctx, key, peer)
			if err != nil {
				return err
			}
			if res.Outcome == model.Admitted {
				v, _ := admitted.LoadOrStore(key, new(atomic.Int32))
				v.(*atomic.Int32).Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, key := range []string{"a", "b"} {
		v, ok := admitted.Load(key)
		require.True(t, ok)
		assert.Equal(t, int32(2), v.(*atomic.Int32).Load(), key)
	}
}

func TestTryBind_Scenario(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			clock := newClock(1_000)
			st, locker := b.make(t, clock)
			m := newManager(t, st, locker, clock, nil, nil)
			ctx := context.Background()
			require.NoError(t, m.Issue(ctx, "K1", 10_000, true, nil, 2))

			expect := []struct {
				peer string
				want model.BindResult
			}{
				{"a", model.Admit()},
				{"b", model.Admit()},
				{"c", model.Reject(model.QuotaExceeded)},
				{"a", model.Bound()},
			}
			for _, e := range expect {
				got, err := m.TryBind(ctx, "K1", e.peer)
				require.NoError(t, err)
				assert.Equal(t, e.want, got, "peer %s", e.peer)
			}

			// 同一设备反复校验不增加计数
			for i := 0; i < 20; i++ {
				got, err := m.TryBind(ctx, "K1", "b")
				require.NoError(t, err)
				assert.Equal(t, model.Bound(), got)
			}
			bindings, err := m.Bindings(ctx, "K1")
			require.NoError(t, err)
			assert.Len(t, bindings, 2)
		})
	}
}

func TestTryBind_ExpiryBoundaryAndDeactivation(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			clock := newClock(1_000)
			st, locker := b.make(t, clock)
			m := newManager(t, st, locker, clock, nil, nil)
			ctx := context.Background()
			require.NoError(t, m.Issue(ctx, "edge", 2_000, true, nil, 5))

			got, err := m.TryBind(ctx, "edge", "early")
			require.NoError(t, err)
			assert.Equal(t, model.Admit(), got)

			clock.Set(2_000)
			got, err = m.TryBind(ctx, "edge", "late")
			require.NoError(t, err)
			assert.Equal(t, model.Reject(model.KeyInvalid), got)

			clock.Set(1_500)
			require.NoError(t, m.SetActive(ctx, "edge", false))
			got, err = m.TryBind(ctx, "edge", "new-peer")
			require.NoError(t, err)
			assert.Equal(t, model.Reject(model.KeyInvalid), got)

			// 停用不影响已有绑定
			got, err = m.TryBind(ctx, "edge", "early")
			require.NoError(t, err)
			assert.Equal(t, model.Bound(), got)
			bindings, _ := m.Bindings(ctx, "edge")
			assert.Len(t, bindings, 1)

			got, err = m.TryBind(ctx, "edge", "")
			require.NoError(t, err)
			assert.Equal(t, model.Reject(model.KeyInvalid), got)
		})
	}
}

func TestTryBind_RaisingQuotaAdmitsMore(t *testing.T) {
	clock := newClock(1_000)
	m := newManager(t, store.NewMemory(store.Config{Clock: clock}), nil, clock, nil, nil)
	ctx := context.Background()
	require.NoError(t, m.Issue(ctx, "k", 10_000, true, nil, 1))

	got, _ := m.TryBind(ctx, "k", "a")
	assert.Equal(t, model.Admit(), got)
	got, _ = m.TryBind(ctx, "k", "b")
	assert.Equal(t, model.Reject(model.QuotaExceeded), got)

	require.NoError(t, m.SetMaxBind(ctx, "k", 2))
	got, _ = m.TryBind(ctx, "k", "b")
	assert.Equal(t, model.Admit(), got)
}

func TestCheckState(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			clock := newClock(1_000)
			st, locker := b.make(t, clock)
			m := newManager(t, st, locker, clock, nil, nil)
			ctx := context.Background()
			require.NoError(t, m.Issue(ctx, "k", 5_000, true, nil, 1))

			state, err := m.CheckState(ctx, "k", "a")
			require.NoError(t, err)
			assert.Equal(t, model.CheckState{KeyValid: true}, state)

			_, err = m.TryBind(ctx, "k", "a")
			require.NoError(t, err)

			state, err = m.CheckState(ctx, "k", "a")
			require.NoError(t, err)
			assert.Equal(t, model.CheckState{KeyValid: true, AlreadyBound: true}, state)

			state, err = m.CheckState(ctx, "k", "b")
			require.NoError(t, err)
			assert.Equal(t, model.CheckState{KeyValid: true, WouldOveruse: true}, state)

			// 只读：检查不会产生绑定
			bindings, _ := m.Bindings(ctx, "k")
			assert.Len(t, bindings, 1)

			state, err = m.CheckState(ctx, "ghost", "a")
			require.NoError(t, err)
			assert.Equal(t, model.CheckState{}, state)
		})
	}
}

func TestValidate_Sources(t *testing.T) {
	clock := newClock(1_000)
	cache := staticCache{"ext1": true}
	m := newManager(t, store.NewMemory(store.Config{Clock: clock}), nil, clock, cache, nil)
	ctx := context.Background()
	require.NoError(t, m.Issue(ctx, "reg", 5_000, true, nil, 1))

	res, err := m.Validate(ctx, "reg", "p1")
	require.NoError(t, err)
	assert.Equal(t, SourceRegistered, res.Source)
	assert.Equal(t, model.Admit(), res.Result)

	res, err = m.Validate(ctx, "reg", "p2")
	require.NoError(t, err)
	assert.False(t, res.Allowed())
	assert.Equal(t, model.QuotaExceeded, res.Result.Reason)

	// 外部密钥不占配额
	for i := 0; i < 5; i++ {
		res, err = m.Validate(ctx, "ext1", fmt.Sprintf("d%d", i))
		require.NoError(t, err)
		assert.Equal(t, SourceCustom, res.Source)
		assert.True(t, res.Allowed())
	}

	res, err = m.Validate(ctx, "unknown", "p")
	require.NoError(t, err)
	assert.Equal(t, SourceNone, res.Source)
	assert.Equal(t, model.Reject(model.KeyInvalid), res.Result)

	res, err = m.Validate(ctx, "  ", "p")
	require.NoError(t, err)
	assert.False(t, res.Allowed())
}

func TestValidate_RegisteredShadowsCustom(t *testing.T) {
	clock := newClock(1_000)
	cache := staticCache{"both": true}
	m := newManager(t, store.NewMemory(store.Config{Clock: clock}), nil, clock, cache, nil)
	ctx := context.Background()
	require.NoError(t, m.Issue(ctx, "both", 5_000, false, nil, 1))

	res, err := m.Validate(ctx, "both", "p")
	require.NoError(t, err)
	assert.Equal(t, SourceRegistered, res.Source)
	assert.Equal(t, model.Reject(model.KeyInvalid), res.Result)
}

func TestCreate(t *testing.T) {
	clock := newClock(1_000)
	m := newManager(t, store.NewMemory(store.Config{Clock: clock}), nil, clock, nil, nil)
	ctx := context.Background()

	rec, err := m.Create(ctx, CreateRequest{})
	require.NoError(t, err)
	assert.True(t, ValidKeyFormat(rec.Key))
	assert.Equal(t, int64(1_000+30*86400), rec.ExpiredAt)
	assert.Equal(t, model.DefaultMaxBindIDs, rec.MaxBindIDs)
	assert.True(t, rec.Active)

	key := "0123456789abcdef0123456789ABCDEF"
	rec, err = m.Create(ctx, CreateRequest{Key: key, Duration: "permanent", Note: " team ", MaxBindIDs: 10})
	require.NoError(t, err)
	assert.Equal(t, model.PermanentExpiry, rec.ExpiredAt)
	assert.Equal(t, 10, rec.MaxBindIDs)
	require.NotNil(t, rec.Note)
	assert.Equal(t, "team", *rec.Note)

	_, err = m.Create(ctx, CreateRequest{Key: key})
	assert.True(t, errors.Is(err, errors.ErrDuplicateKey))

	_, err = m.Create(ctx, CreateRequest{Key: "K1"})
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))

	_, err = m.Create(ctx, CreateRequest{Duration: "3x"})
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

func TestExtendByOption(t *testing.T) {
	clock := newClock(1_000)
	m := newManager(t, store.NewMemory(store.Config{Clock: clock}), nil, clock, nil, nil)
	ctx := context.Background()
	require.NoError(t, m.Issue(ctx, "k", 1_000, true, nil, 1))

	require.NoError(t, m.ExtendByOption(ctx, "k", "2w"))
	rec, _ := m.Lookup(ctx, "k")
	assert.Equal(t, int64(1_000+14*86400), rec.ExpiredAt)

	require.NoError(t, m.ExtendByOption(ctx, "k", "永久"))
	rec, _ = m.Lookup(ctx, "k")
	assert.True(t, rec.Permanent())

	err := m.ExtendByOption(ctx, "missing", "1d")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	err = m.ExtendByOption(ctx, "k", "soon")
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

func TestList_ClampsLimit(t *testing.T) {
	clock := newClock(1_000)
	m := newManager(t, store.NewMemory(store.Config{Clock: clock}), nil, clock, nil, nil)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		require.NoError(t, m.Issue(ctx, fmt.Sprintf("k%02d", i), 9_000, true, nil, 1))
		clock.Advance(1)
	}

	total, recs, err := m.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(25), total)
	assert.Len(t, recs, 20)
	assert.Equal(t, "k24", recs[0].Key)

	_, recs, err = m.List(ctx, -3, 500)
	require.NoError(t, err)
	assert.Len(t, recs, 25)

	assert.Equal(t, 1, ClampLimit(-1))
	assert.Equal(t, 100, ClampLimit(101))
}

func TestManager_PublishesEvents(t *testing.T) {
	clock := newClock(1_000)
	bus := eventbus.NewAsyncEventBus(1, nil)
	bus.Start()
	defer bus.Stop()

	var mu sync.Mutex
	seen := map[string]int{}
	for _, topic := range eventbus.LicenceTopics {
		topic := topic
		require.NoError(t, bus.Subscribe(topic, func(ev eventbus.LicenceEvent) {
			mu.Lock()
			seen[topic]++
			mu.Unlock()
		}))
	}

	m := newManager(t, store.NewMemory(store.Config{Clock: clock}), nil, clock, nil, bus)
	ctx := context.Background()
	require.NoError(t, m.Issue(ctx, "k", 5_000, true, nil, 1))
	_, _ = m.TryBind(ctx, "k", "a")
	_, _ = m.TryBind(ctx, "k", "a")
	_, _ = m.TryBind(ctx, "k", "b")
	require.NoError(t, m.Extend(ctx, "k", 10))
	require.NoError(t, m.SetActive(ctx, "k", false))
	require.NoError(t, m.SetMaxBind(ctx, "k", 4))
	bus.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen[eventbus.EventLicenceIssued])
	assert.Equal(t, 1, seen[eventbus.EventBindAdmitted])
	assert.Equal(t, 1, seen[eventbus.EventBindRejected])
	assert.Equal(t, 1, seen[eventbus.EventLicenceExtended])
	assert.Equal(t, 1, seen[eventbus.EventLicenceDeactivated])
	assert.Equal(t, 1, seen[eventbus.EventLicenceMaxBind])
}

func TestTryBind_CancelledLock(t *testing.T) {
	clock := newClock(1_000)
	locker := lock.NewLocal()
	m := newManager(t, store.NewMemory(store.Config{Clock: clock}), locker, clock, nil, nil)
	require.NoError(t, m.Issue(context.Background(), "k", 5_000, true, nil, 1))

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.TryBind(ctx, "k", "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	bindings, _ := m.Bindings(context.Background(), "k")
	assert.Empty(t, bindings)
}
