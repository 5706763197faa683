package licence

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"licence-server-go/internal/domain/eventbus"
	"licence-server-go/internal/domain/licence/lock"
	"licence-server-go/internal/domain/licence/model"
	"licence-server-go/internal/domain/licence/store"
	"licence-server-go/internal/platform/errors"
)

type (
	// LicenceRecord re-exports the store entity for callers.
	LicenceRecord = model.LicenceRecord
	// Logger re-exports the logging interface used across the domain.
	Logger = model.Logger
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	defaultDuration  = 30 * 24 * time.Hour
)

// KeyCache is the external key cache consulted for keys the store does not know.
type KeyCache interface {
	IsValid(key string) bool
}

// Source tells which key set decided a validation.
type Source string

const (
	SourceRegistered Source = "registered"
	SourceCustom     Source = "custom"
	SourceNone       Source = "none"
)

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	Source Source           `json:"source"`
	Result model.BindResult `json:"-"`
}

func (v ValidationResult) Allowed() bool { return v.Result.Allowed() }

// Options encapsulates the dependencies required to construct a Manager.
type Options struct {
	Store             store.Store
	Locker            lock.Locker
	Cache             KeyCache
	Publisher         eventbus.Publisher
	Logger            Logger
	Clock             model.Clock
	DefaultMaxBindIDs int
	DefaultDuration   time.Duration
}

// Manager 组合许可存储、配额引擎与外部密钥缓存，对外提供校验与管理操作
type Manager struct {
	store     store.Store
	engine    *Engine
	cache     KeyCache
	publisher eventbus.Publisher
	logger    Logger
	clock     model.Clock

	defaultMaxBind  int
	defaultDuration time.Duration
}

// NewManager wires a Manager using the supplied options.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, stderrors.New("licence manager requires a store")
	}
	if opts.Logger == nil {
		opts.Logger = model.NopLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = model.SystemClock
	}
	if opts.Publisher == nil {
		opts.Publisher = eventbus.NopPublisher{}
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = defaultDuration
	}
	return &Manager{
		store:           opts.Store,
		engine:          NewEngine(opts.Store, opts.Locker, opts.Clock),
		cache:           opts.Cache,
		publisher:       opts.Publisher,
		logger:          opts.Logger,
		clock:           opts.Clock,
		defaultMaxBind:  model.ClampMaxBind(opts.DefaultMaxBindIDs),
		defaultDuration: opts.DefaultDuration,
	}, nil
}

// Now returns the manager clock reading in unix seconds.
func (m *Manager) Now() int64 { return m.clock.Now() }

// Engine exposes the quota engine.
func (m *Manager) Engine() *Engine { return m.engine }

func (m *Manager) emit(ev eventbus.LicenceEvent) {
	ev.At = time.Unix(m.clock.Now(), 0)
	eventbus.Emit(m.publisher, ev)
}

// Validate 先查已注册许可（走配额引擎），未注册时再查外部密钥缓存。外部密钥不占设备配额。
func (m *Manager) Validate(ctx context.Context, key, peer string) (ValidationResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return ValidationResult{Source: SourceNone, Result: model.Reject(model.KeyInvalid)}, nil
	}

	registered, err := m.store.Exists(ctx, key)
	if err != nil {
		return ValidationResult{}, err
	}
	if registered {
		res, err := m.TryBind(ctx, key, peer)
		if err != nil {
			return ValidationResult{}, err
		}
		return ValidationResult{Source: SourceRegistered, Result: res}, nil
	}

	if m.cache != nil && m.cache.IsValid(key) {
		return ValidationResult{Source: SourceCustom, Result: model.Admit()}, nil
	}
	return ValidationResult{Source: SourceNone, Result: model.Reject(model.KeyInvalid)}, nil
}

// TryBind runs the quota engine and publishes the decision.
func (m *Manager) TryBind(ctx context.Context, key, peer string) (model.BindResult, error) {
	res, err := m.engine.TryBind(ctx, key, peer)
	if err != nil {
		m.logger.Error("绑定判定失败 key=%s peer=%s: %v", key, peer, err)
		return res, err
	}
	switch res.Outcome {
	case model.Admitted:
		m.logger.Info("设备绑定 key=%s peer=%s", key, peer)
		m.emit(eventbus.LicenceEvent{Type: eventbus.EventBindAdmitted, LicenceKey: key, PeerID: peer})
	case model.Rejected:
		m.logger.Debug("拒绝绑定 key=%s peer=%s reason=%s", key, peer, res.Reason)
		m.emit(eventbus.LicenceEvent{
			Type:       eventbus.EventBindRejected,
			LicenceKey: key,
			PeerID:     peer,
			Detail:     map[string]any{"reason": res.Reason.String()},
		})
	}
	return res, nil
}

// CheckState is the advisory read-only view of a bind decision.
func (m *Manager) CheckState(ctx context.Context, key, peer string) (model.CheckState, error) {
	return m.engine.CheckState(ctx, key, peer)
}

// Issue inserts a licence record as given.
func (m *Manager) Issue(ctx context.Context, key string, expiredAt int64, active bool, note *string, maxBindIDs int) error {
	if maxBindIDs == 0 {
		maxBindIDs = m.defaultMaxBind
	}
	if err := m.store.Issue(ctx, key, expiredAt, active, note, maxBindIDs); err != nil {
		return err
	}
	m.logger.Info("签发许可 key=%s expired_at=%d", key, expiredAt)
	m.emit(eventbus.LicenceEvent{
		Type:       eventbus.EventLicenceIssued,
		LicenceKey: key,
		Detail: map[string]any{
			"expired_at":   expiredAt,
			"active":       active,
			"max_bind_ids": model.ClampMaxBind(maxBindIDs),
		},
	})
	return nil
}

// CreateRequest 管理端新建许可的参数；Key 为空时自动生成
type CreateRequest struct {
	Key        string
	Duration   string
	Note       string
	MaxBindIDs int
}

// GenerateKey returns a new 32-char lowercase hex key (dash-less UUIDv4).
func GenerateKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidKeyFormat reports whether s is 32 hex characters.
func ValidKeyFormat(s string) bool {
	if len(s) != 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// Create 管理端新建许可：校验 key 格式，按时长选项计算过期时间
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*LicenceRecord, error) {
	key := strings.TrimSpace(req.Key)
	if key == "" {
		key = GenerateKey()
	}
	if !ValidKeyFormat(key) {
		return nil, errors.Domain("licence.create", "key must be 32 hex characters", errors.ErrInvalidArgument)
	}

	now := m.clock.Now()
	expiredAt := model.SaturatingAdd(now, int64(m.defaultDuration/time.Second))
	if strings.TrimSpace(req.Duration) != "" {
		var err error
		if expiredAt, err = ExpiryFor(req.Duration, now); err != nil {
			return nil, err
		}
	}

	var note *string
	if n := strings.TrimSpace(req.Note); n != "" {
		note = &n
	}
	maxBind := req.MaxBindIDs
	if maxBind == 0 {
		maxBind = m.defaultMaxBind
	}
	if err := m.Issue(ctx, key, expiredAt, true, note, maxBind); err != nil {
		return nil, err
	}
	return m.store.Lookup(ctx, key)
}

// Extend moves expired_at by deltaSeconds.
func (m *Manager) Extend(ctx context.Context, key string, deltaSeconds int64) error {
	if err := m.store.Extend(ctx, key, deltaSeconds); err != nil {
		return err
	}
	m.logger.Info("续期许可 key=%s delta=%ds", key, deltaSeconds)
	m.emit(eventbus.LicenceEvent{
		Type:       eventbus.EventLicenceExtended,
		LicenceKey: key,
		Detail:     map[string]any{"delta_seconds": deltaSeconds},
	})
	return nil
}

// ExtendByOption 按管理端时长选项续期，permanent 直接设为永久
func (m *Manager) ExtendByOption(ctx context.Context, key, option string) error {
	seconds, permanent, err := ParseOption(option)
	if err != nil {
		return err
	}
	if permanent {
		seconds = model.PermanentExpiry
	}
	return m.Extend(ctx, key, seconds)
}

// SetActive toggles the active flag.
func (m *Manager) SetActive(ctx context.Context, key string, active bool) error {
	if err := m.store.SetActive(ctx, key, active); err != nil {
		return err
	}
	topic := eventbus.EventLicenceDeactivated
	if active {
		topic = eventbus.EventLicenceActivated
	}
	m.logger.Info("许可状态 key=%s active=%v", key, active)
	m.emit(eventbus.LicenceEvent{Type: topic, LicenceKey: key})
	return nil
}

// SetMaxBind changes the device quota, clamped to [1, 1000].
func (m *Manager) SetMaxBind(ctx context.Context, key string, n int) error {
	if err := m.store.SetMaxBind(ctx, key, n); err != nil {
		return err
	}
	m.emit(eventbus.LicenceEvent{
		Type:       eventbus.EventLicenceMaxBind,
		LicenceKey: key,
		Detail:     map[string]any{"max_bind_ids": model.BoundMaxBind(n)},
	})
	return nil
}

func (m *Manager) Lookup(ctx context.Context, key string) (*LicenceRecord, error) {
	return m.store.Lookup(ctx, key)
}

// ClampLimit 列表分页上限限制在 [1, 100]，0 取默认 20
func ClampLimit(limit int) int {
	switch {
	case limit == 0:
		return defaultListLimit
	case limit < 1:
		return 1
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}

// List pages licences newest first.
func (m *Manager) List(ctx context.Context, offset, limit int) (int64, []LicenceRecord, error) {
	if offset < 0 {
		offset = 0
	}
	return m.store.List(ctx, offset, ClampLimit(limit))
}

func (m *Manager) Bindings(ctx context.Context, key string) ([]model.Binding, error) {
	return m.store.Bindings(ctx, key)
}
