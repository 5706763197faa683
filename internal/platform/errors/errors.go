package errors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindConfig    Kind = "config"
	KindDomain    Kind = "domain"
	KindTransport Kind = "transport"
	KindPlatform  Kind = "platform"
	KindBootstrap Kind = "bootstrap"
	KindStorage   Kind = "storage"
	KindSource    Kind = "source"
	KindUnknown   Kind = "unknown"
)

// 许可领域的哨兵错误，调用方通过 errors.Is 判断
var (
	ErrDuplicateKey       = errors.New("licence key already exists")
	ErrNotFound           = errors.New("licence key not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrSourceUnreadable   = errors.New("key source unreadable")
	ErrSourceMalformed    = errors.New("key source malformed")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func Wrap(kind Kind, op, message string, err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

func New(kind Kind, op, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
	}
}

// Storage wraps a driver failure so that callers can match ErrStorageUnavailable
// while the original cause stays in the chain.
func Storage(op, message string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return &Error{
		Kind:    KindStorage,
		Op:      op,
		Message: message,
		Cause:   fmt.Errorf("%w: %w", ErrStorageUnavailable, err),
	}
}

// IsKind checks whether any error in the chain matches the provided kind.
func IsKind(err error, kind Kind) bool {
	var target *Error
	for err != nil {
		if errors.As(err, &target) {
			return target.Kind == kind
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Is 透传标准库 errors.Is，方便只导入本包的调用方
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As 透传标准库 errors.As
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Domain builds a domain error whose chain ends in sentinel.
func Domain(op, message string, sentinel error) error {
	return &Error{
		Kind:    KindDomain,
		Op:      op,
		Message: message,
		Cause:   sentinel,
	}
}
