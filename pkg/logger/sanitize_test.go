package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func fieldMap(t *testing.T, fields []zap.Field) map[string]any {
	t.Helper()

	enc := zapcore.NewMapObjectEncoder()
	for _, field := range fields {
		field.AddTo(enc)
	}
	return enc.Fields
}

func TestSanitizeFields_MasksSecrets(t *testing.T) {
	t.Parallel()

	out := fieldMap(t, SanitizeFields([]zap.Field{
		zap.String("Authorization", "Bearer abc"),
		zap.String("x_api_token", "tok"),
		zap.String("path", "/api/v1/users"),
	}))

	assert.Equal(t, masked, out["Authorization"])
	assert.Equal(t, masked, out["x_api_token"])
	assert.Equal(t, "/api/v1/users", out["path"])
}

func TestSanitizeFields_RedactsNestedPersonalData(t *testing.T) {
	t.Parallel()

	out := fieldMap(t, SanitizeFields([]zap.Field{
		zap.String("email", "john.doe@example.com"),
		zap.Any("request_body", map[string]any{
			"forename": "John",
			"email":    "john.doe@example.com",
			"password": "hunter2",
		}),
	}))

	assert.Equal(t, "j***@example.com", out["email"])
	body, ok := out["request_body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "John", body["forename"])
	assert.Equal(t, "j***@example.com", body["email"])
	assert.Equal(t, masked, body["password"])
}

func TestMaskEmail(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a***@b.io", MaskEmail("alice@b.io"))
	assert.Equal(t, masked, MaskEmail("not-an-address"))
	assert.Equal(t, masked, MaskEmail("@example.com"))
}

func TestNew_RejectsBadSettings(t *testing.T) {
	t.Parallel()

	_, err := New("production", "loud", "")
	assert.Error(t, err)
	_, err = New("production", "info", "xml")
	assert.Error(t, err)

	logger, err := New("development", "debug", "console")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
