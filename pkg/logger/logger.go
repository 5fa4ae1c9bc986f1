// Package logger builds the process zap logger and scrubs sensitive fields
// before they are written.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// New returns a development logger for env "development" and a production
// logger otherwise. Empty level or encoding keep the preset's value.
func New(env, level, encoding string) (*zap.Logger, error) {
	var zapCfg zap.Config
	if strings.EqualFold(strings.TrimSpace(env), "development") {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	if level = strings.TrimSpace(level); level != "" {
		if err := zapCfg.Level.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log.level: %w", err)
		}
	}

	if encoding = strings.TrimSpace(encoding); encoding != "" {
		switch encoding {
		case "json", "console":
			zapCfg.Encoding = encoding
		default:
			return nil, fmt.Errorf("invalid log.encoding %q", encoding)
		}
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger failed: %w", err)
	}
	return logger.With(zap.String("service", "usermanagement")), nil
}
