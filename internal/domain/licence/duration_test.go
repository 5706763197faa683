package licence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"licence-server-go/internal/domain/licence/model"
	"licence-server-go/internal/platform/errors"
)

func TestParseOption(t *testing.T) {
	tests := []struct {
		option    string
		seconds   int64
		permanent bool
		wantErr   bool
	}{
		{"1d", 86400, false, false},
		{"2w", 14 * 86400, false, false},
		{"3m", 90 * 86400, false, false},
		{"1y", 365 * 86400, false, false},
		{" 7D ", 7 * 86400, false, false},
		{"permanent", 0, true, false},
		{"FOREVER", 0, true, false},
		{"永久", 0, true, false},
		{"999999999999999999y", 0, true, false},
		{"", 0, false, true},
		{"d", 0, false, true},
		{"0d", 0, false, true},
		{"-1d", 0, false, true},
		{"10h", 0, false, true},
		{"abc", 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.option, func(t *testing.T) {
			seconds, permanent, err := ParseOption(tt.option)
			if tt.wantErr {
				assert.True(t, errors.Is(err, errors.ErrInvalidArgument), "got %v", err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.permanent, permanent)
			if !tt.permanent {
				assert.Equal(t, tt.seconds, seconds)
			}
		})
	}
}

func TestExpiryFor(t *testing.T) {
	exp, err := ExpiryFor("1d", 100)
	assert.NoError(t, err)
	assert.Equal(t, int64(100+86400), exp)

	exp, err = ExpiryFor("forever", 100)
	assert.NoError(t, err)
	assert.Equal(t, model.PermanentExpiry, exp)

	_, err = ExpiryFor("x", 100)
	assert.Error(t, err)
}

func TestValidKeyFormat(t *testing.T) {
	assert.True(t, ValidKeyFormat(GenerateKey()))
	assert.True(t, ValidKeyFormat("ABCDEF0123456789abcdef0123456789"))
	assert.False(t, ValidKeyFormat("123"))
	assert.False(t, ValidKeyFormat("g123456789abcdef0123456789abcdef"))
	assert.NotEqual(t, GenerateKey(), GenerateKey())
}
