package model

import (
	"math"
	"time"
)

const (
	// DefaultMaxBindIDs 新许可默认允许绑定的设备数
	DefaultMaxBindIDs = 3
	MinMaxBindIDs     = 1
	MaxMaxBindIDs     = 1000

	// PermanentExpiry 永久许可的过期时间，留出余量避免续期时溢出
	PermanentExpiry int64 = math.MaxInt64 / 2
)

// LicenceRecord is a registered licence key.
type LicenceRecord struct {
	Key          string  `json:"key"`
	RegisteredAt int64   `json:"registered_at"`
	ExpiredAt    int64   `json:"expired_at"`
	Active       bool    `json:"active"`
	Note         *string `json:"note,omitempty"`
	MaxBindIDs   int     `json:"max_bind_ids"`
}

// ValidAt reports whether the licence is usable at epoch second now.
// A record expiring exactly at now is already invalid.
func (r *LicenceRecord) ValidAt(now int64) bool {
	return r != nil && r.Active && r.ExpiredAt > now
}

// Permanent reports whether the record carries the permanent expiry sentinel.
func (r *LicenceRecord) Permanent() bool {
	return r != nil && r.ExpiredAt >= PermanentExpiry
}

// Binding records that a peer consumed one device slot of a licence.
type Binding struct {
	LicenceKey string `json:"licence_key"`
	PeerID     string `json:"peer_id"`
	BoundAt    int64  `json:"bound_at"`
}

// BindOutcome is the admission decision for a (key, peer) pair.
type BindOutcome int

const (
	Admitted BindOutcome = iota + 1
	AlreadyBound
	Rejected
)

func (o BindOutcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case AlreadyBound:
		return "already_bound"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// RejectReason explains a Rejected outcome.
type RejectReason int

const (
	ReasonNone RejectReason = iota
	KeyInvalid
	QuotaExceeded
)

func (r RejectReason) String() string {
	switch r {
	case KeyInvalid:
		return "key_invalid"
	case QuotaExceeded:
		return "quota_exceeded"
	default:
		return ""
	}
}

// BindResult 绑定结果；只有 Outcome 为 Rejected 时 Reason 才有意义
type BindResult struct {
	Outcome BindOutcome
	Reason  RejectReason
}

func (r BindResult) Allowed() bool {
	return r.Outcome == Admitted || r.Outcome == AlreadyBound
}

func (r BindResult) String() string {
	if r.Outcome == Rejected {
		return r.Outcome.String() + "(" + r.Reason.String() + ")"
	}
	return r.Outcome.String()
}

// Admit/Bound/Reject 便于构造结果
func Admit() BindResult                     { return BindResult{Outcome: Admitted} }
func Bound() BindResult                     { return BindResult{Outcome: AlreadyBound} }
func Reject(reason RejectReason) BindResult { return BindResult{Outcome: Rejected, Reason: reason} }

// CheckState is an advisory, read-only view of what TryBind would decide.
type CheckState struct {
	KeyValid     bool `json:"key_valid"`
	AlreadyBound bool `json:"already_bound"`
	WouldOveruse bool `json:"would_overuse"`
}

// ClampMaxBind 签发时使用：0 表示默认值，其余限制在 [1, 1000]
func ClampMaxBind(n int) int {
	if n == 0 {
		return DefaultMaxBindIDs
	}
	return BoundMaxBind(n)
}

// BoundMaxBind 将设备上限限制在 [1, 1000]，修改已有许可时使用
func BoundMaxBind(n int) int {
	if n < MinMaxBindIDs {
		return MinMaxBindIDs
	}
	if n > MaxMaxBindIDs {
		return MaxMaxBindIDs
	}
	return n
}

// SaturatingAdd adds delta to expiry, pinning the result to [0, PermanentExpiry].
func SaturatingAdd(expiry, delta int64) int64 {
	if delta > 0 && expiry > PermanentExpiry-delta {
		return PermanentExpiry
	}
	sum := expiry + delta
	if sum < 0 {
		return 0
	}
	if sum > PermanentExpiry {
		return PermanentExpiry
	}
	return sum
}

// Clock returns the current time as Unix-epoch seconds.
type Clock interface {
	Now() int64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() int64

func (f ClockFunc) Now() int64 { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(func() int64 { return time.Now().Unix() })

// Logger provides the minimal logging contract required by the licence domain.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
