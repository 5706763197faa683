package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "error with cause",
			err: Wrap(KindConfig, "load", "failed to load config",
				errors.New("file not found")),
			contains: []string{"[config:load]", "failed to load config", "file not found"},
		},
		{
			name:     "error without cause",
			err:      New(KindDomain, "licence.issue", "invalid key"),
			contains: []string{"[domain:licence.issue]", "invalid key"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, substr := range tt.contains {
				if !strings.Contains(errStr, substr) {
					t.Errorf("error string %q does not contain %q", errStr, substr)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	wrappedErr := Wrap(KindConfig, "test", "wrapped", originalErr)

	if !errors.Is(wrappedErr, originalErr) {
		t.Error("Unwrap should return the original error")
	}
}

func TestWrap_KeepsFirstTypedError(t *testing.T) {
	inner := Wrap(KindStorage, "licence.issue", "insert failed", ErrDuplicateKey)
	outer := Wrap(KindDomain, "manager.issue", "issue failed", inner)

	if outer != inner {
		t.Fatalf("expected Wrap to return the inner typed error")
	}
	if !errors.Is(outer, ErrDuplicateKey) {
		t.Fatalf("expected sentinel to survive wrapping")
	}
}

func TestStorage(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := Storage("licence.lookup", "query failed", cause)

	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable in chain, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected original cause in chain, got %v", err)
	}
	if !IsKind(err, KindStorage) {
		t.Errorf("expected storage kind")
	}
	if Storage("noop", "noop", nil) != nil {
		t.Errorf("expected nil for nil cause")
	}
}

func TestIsKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     Kind
		expected bool
	}{
		{
			name:     "direct error kind match",
			err:      New(KindConfig, "test", "message"),
			kind:     KindConfig,
			expected: true,
		},
		{
			name:     "wrapped error kind match",
			err:      Wrap(KindSource, "test", "message", errors.New("cause")),
			kind:     KindSource,
			expected: true,
		},
		{
			name:     "error kind mismatch",
			err:      New(KindConfig, "test", "message"),
			kind:     KindDomain,
			expected: false,
		},
		{
			name:     "non-typed error",
			err:      errors.New("plain error"),
			kind:     KindConfig,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsKind(tt.err, tt.kind)
			if result != tt.expected {
				t.Errorf("IsKind() = %v, expected %v", result, tt.expected)
			}
		})
	}
}

func TestDomain(t *testing.T) {
	err := Domain("licence.extend", "key abc", ErrNotFound)
	if !Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound in chain, got %v", err)
	}
	if !IsKind(err, KindDomain) {
		t.Fatalf("expected domain kind")
	}
	var typed *Error
	if !As(err, &typed) || typed.Op != "licence.extend" {
		t.Fatalf("expected typed error, got %#v", typed)
	}
}
