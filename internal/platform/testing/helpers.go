package testing

import (
	"io"
	"testing"

	"licence-server-go/internal/platform/config"
	"licence-server-go/internal/platform/logging"
	"licence-server-go/internal/utils"
)

func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Log = config.LogConfig{
		Level: "DEBUG",
		Dir:   t.TempDir(),
		File:  "test.log",
	}
	cfg.Database.DSN = "file::memory:?cache=shared"
	cfg.CustomKeys.Path = t.TempDir() + "/custom_keys.json"
	cfg.Admin.Username = "admin"
	cfg.Admin.Password = "secret"
	cfg.Admin.JWTSecret = "test-secret"

	return cfg
}

func SetupTestLogger(t *testing.T) *logging.Logger {
	t.Helper()

	cfg := SetupTestConfig(t)
	logger, err := logging.New(logging.Config{
		Level:    cfg.Log.Level,
		Dir:      cfg.Log.Dir,
		Filename: cfg.Log.File,
		Console:  io.Discard,
	})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })

	return logger
}

// TaggedLogger returns a domain logger writing under tag, silenced on the console.
func TaggedLogger(t *testing.T, tag string) *utils.TaggedLogger {
	t.Helper()
	return SetupTestLogger(t).Legacy().WithTag(tag)
}
