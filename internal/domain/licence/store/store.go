package store

import (
	"context"
	"strings"

	"licence-server-go/internal/domain/licence/model"
	"licence-server-go/internal/platform/errors"
)

// Store is the persistent licence store. Every method is independently atomic.
type Store interface {
	Issue(ctx context.Context, key string, expiredAt int64, active bool, note *string, maxBindIDs int) error
	Extend(ctx context.Context, key string, deltaSeconds int64) error
	SetActive(ctx context.Context, key string, active bool) error
	SetMaxBind(ctx context.Context, key string, n int) error
	Lookup(ctx context.Context, key string) (*model.LicenceRecord, error)
	List(ctx context.Context, offset, limit int) (int64, []model.LicenceRecord, error)
	Count(ctx context.Context) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)

	Bindings(ctx context.Context, key string) ([]model.Binding, error)
	BoundCount(ctx context.Context, key string) (int64, error)
	IsBound(ctx context.Context, key, peer string) (bool, error)
	// Admit runs the bind decision for (key, peer) at now inside one transaction.
	Admit(ctx context.Context, key, peer string, now int64) (model.BindResult, error)

	Close(ctx context.Context) error
}

// Config describes the store selection parameters.
type Config struct {
	Driver string
	Clock  model.Clock
}

func requireKey(op, key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.Domain(op, "licence key is empty", errors.ErrInvalidArgument)
	}
	return nil
}

func notFound(op, key string) error {
	return errors.Domain(op, "key "+key, errors.ErrNotFound)
}

func duplicate(op, key string) error {
	return errors.Domain(op, "key "+key, errors.ErrDuplicateKey)
}

func clockOrSystem(c model.Clock) model.Clock {
	if c == nil {
		return model.SystemClock
	}
	return c
}

// decide 是 Admit 步骤 2-3 的纯判定：记录缺失或失效、配额已满则拒绝
func decide(rec *model.LicenceRecord, bound int64, now int64) (model.BindResult, bool) {
	if !rec.ValidAt(now) {
		return model.Reject(model.KeyInvalid), false
	}
	if bound >= int64(rec.MaxBindIDs) {
		return model.Reject(model.QuotaExceeded), false
	}
	return model.Admit(), true
}
