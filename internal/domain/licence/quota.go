package licence

import (
	"context"
	"strings"

	"licence-server-go/internal/domain/licence/lock"
	"licence-server-go/internal/domain/licence/model"
	"licence-server-go/internal/domain/licence/store"
	"licence-server-go/internal/platform/errors"
	"licence-server-go/internal/platform/observability"
)

// Engine 设备绑定配额引擎。同一 key 的判定先串行于 Locker，再在存储事务中完成，
// 因此并发请求对同一 key 的准入是全序的。
type Engine struct {
	store  store.Store
	locker lock.Locker
	clock  model.Clock
}

// NewEngine wires the quota engine.
func NewEngine(st store.Store, locker lock.Locker, clock model.Clock) *Engine {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if clock == nil {
		clock = model.SystemClock
	}
	return &Engine{store: st, locker: locker, clock: clock}
}

// TryBind decides whether peer may consume a device slot of key.
func (e *Engine) TryBind(ctx context.Context, key, peer string) (result model.BindResult, err error) {
	if strings.TrimSpace(key) == "" || strings.TrimSpace(peer) == "" {
		return model.Reject(model.KeyInvalid), nil
	}

	ctx, end := observability.StartSpan(ctx, "licence", "try_bind")
	defer func() { end(err) }()

	unlock, err := e.locker.Lock(ctx, key)
	if err != nil {
		return model.BindResult{}, errors.Wrap(errors.KindDomain, "licence.try_bind", "failed to acquire key lock", err)
	}
	defer unlock()

	result, err = e.store.Admit(ctx, key, peer, e.clock.Now())
	if err != nil {
		return model.BindResult{}, err
	}

	labels := map[string]string{"outcome": result.Outcome.String()}
	if result.Outcome == model.Rejected {
		labels["reason"] = result.Reason.String()
	}
	observability.RecordMetric(ctx, "licence.bind", 1, labels)
	return result, nil
}

// CheckState 只读诊断，不加锁，结果可能在下一次 TryBind 前就过时
func (e *Engine) CheckState(ctx context.Context, key, peer string) (model.CheckState, error) {
	var state model.CheckState
	rec, err := e.store.Lookup(ctx, key)
	if err != nil {
		return state, err
	}
	state.KeyValid = rec.ValidAt(e.clock.Now())

	if peer != "" {
		if state.AlreadyBound, err = e.store.IsBound(ctx, key, peer); err != nil {
			return state, err
		}
	}
	if rec != nil && !state.AlreadyBound {
		count, err := e.store.BoundCount(ctx, key)
		if err != nil {
			return state, err
		}
		state.WouldOveruse = count >= int64(rec.MaxBindIDs)
	}
	return state, nil
}
