package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const masked = "***"

var secretTokens = []string{
	"password",
	"token",
	"secret",
	"authorization",
	"cookie",
}

var personalTokens = []string{
	"email",
}

// SanitizeFields masks secrets outright and partially redacts personal data
// such as email addresses. Nested maps and slices are walked by key.
func SanitizeFields(fields []zap.Field) []zap.Field {
	if len(fields) == 0 {
		return fields
	}

	sanitized := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		if isSecretKey(field.Key) {
			sanitized = append(sanitized, zap.String(field.Key, masked))
			continue
		}

		encoded := encodeField(field)
		value, ok := encoded[field.Key]
		if !ok {
			sanitized = append(sanitized, field)
			continue
		}

		sanitized = append(sanitized, zap.Any(field.Key, sanitizeAny(field.Key, value)))
	}

	return sanitized
}

func sanitizeAny(key string, value any) any {
	if isSecretKey(key) {
		return masked
	}

	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			out[k] = sanitizeAny(k, v)
		}
		return out
	case []any:
		out := make([]any, 0, len(typed))
		for _, item := range typed {
			out = append(out, sanitizeAny(key, item))
		}
		return out
	case []string:
		out := make([]any, 0, len(typed))
		for _, item := range typed {
			out = append(out, sanitizeAny(key, item))
		}
		return out
	case string:
		if isPersonalKey(key) {
			return MaskEmail(typed)
		}
		return typed
	default:
		return typed
	}
}

// MaskEmail keeps the first character of the local part and the domain:
// "john.doe@example.com" becomes "j***@example.com".
func MaskEmail(value string) string {
	at := strings.LastIndex(value, "@")
	if at <= 0 {
		return masked
	}
	return value[:1] + masked + value[at:]
}

func encodeField(field zap.Field) map[string]any {
	enc := zapcore.NewMapObjectEncoder()
	field.AddTo(enc)
	return enc.Fields
}

func normalizeKey(key string) string {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.ReplaceAll(normalized, "-", "")
	return strings.ReplaceAll(normalized, "_", "")
}

func isSecretKey(key string) bool {
	return containsToken(normalizeKey(key), secretTokens)
}

func isPersonalKey(key string) bool {
	return containsToken(normalizeKey(key), personalTokens)
}

func containsToken(normalized string, tokens []string) bool {
	if normalized == "" {
		return false
	}
	for _, token := range tokens {
		if strings.Contains(normalized, token) {
			return true
		}
	}
	return false
}
