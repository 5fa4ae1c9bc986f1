package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	loggerpkg "usermanagement/pkg/logger"
)

const (
	requestBodyLogLimit = 64 << 10 // 64 KiB
	MaxRequestBodyBytes = 1 << 20  // 1 MiB
	RequestIDHeader     = "X-Request-ID"
	requestIDKey        = "request_id"
)

// RequestID reuses the caller's X-Request-ID when it parses as a UUID and
// mints a new one otherwise.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(strings.TrimSpace(c.GetHeader(RequestIDHeader)))
		if err != nil {
			id = uuid.New()
		}
		c.Set(requestIDKey, id.String())
		c.Header(RequestIDHeader, id.String())
		c.Next()
	}
}

func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		startedAt := time.Now()
		requestBody := snapshotRequestBody(c)

		c.Next()

		fields := []zap.Field{
			zap.String("request_id", GetRequestID(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("raw_path", c.Request.URL.Path),
			zap.Any("query", c.Request.URL.Query()),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("size", c.Writer.Size()),
			zap.Duration("latency", time.Since(startedAt)),
		}

		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			fields = append(fields, zap.String("authorization", authHeader))
		}

		if len(requestBody) > 0 {
			var payload interface{}
			if err := json.Unmarshal(requestBody, &payload); err == nil {
				fields = append(fields, zap.Any("request_body", payload))
			}
		}
		if errs := c.Errors.ByType(gin.ErrorTypeAny); len(errs) > 0 {
			fields = append(fields, zap.Strings("errors", errs.Errors()))
		}

		sanitized := loggerpkg.SanitizeFields(fields)
		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("http request completed", sanitized...)
		case status >= 400:
			logger.Warn("http request completed", sanitized...)
		default:
			logger.Info("http request completed", sanitized...)
		}
	}
}

type replayedBody struct {
	io.Reader
	io.Closer
}

// snapshotRequestBody caps the body at MaxRequestBodyBytes and buffers at
// most requestBodyLogLimit+1 bytes of it. The handler still reads the whole
// body: the buffered head followed by the unread remainder.
func snapshotRequestBody(c *gin.Context) []byte {
	if c == nil || c.Request == nil || c.Request.Body == nil {
		return nil
	}

	body := http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBodyBytes)
	head, err := io.ReadAll(io.LimitReader(body, requestBodyLogLimit+1))
	c.Request.Body = replayedBody{
		Reader: io.MultiReader(bytes.NewReader(head), body),
		Closer: body,
	}

	if err != nil || len(head) == 0 || len(head) > requestBodyLogLimit {
		return nil
	}
	return head
}
