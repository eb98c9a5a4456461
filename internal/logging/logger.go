// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the encoder and an optional log directory.
type Config struct {
	Development bool
	// Dir, when set, receives one log file per process next to stderr.
	Dir string
	// Now stamps the log file name. Defaults to time.Now.
	Now func() time.Time
}

// New builds a zap.Logger configured for development or production.
func New(cfg Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.DisableStacktrace = false
	}
	zcfg.EncoderConfig.TimeKey = "ts"

	if cfg.Dir != "" {
		path, err := logFilePath(cfg)
		if err != nil {
			return nil, err
		}
		zcfg.OutputPaths = append(zcfg.OutputPaths, path)
	}

	logger, err := zcfg.Build()
	if err != nil {
		if cfg.Development {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

func logFilePath(cfg Config) (string, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create log dir: %w", err)
	}
	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}
	name := fmt.Sprintf("scout_%s.log", now().Format("20060102_150405"))
	return filepath.Join(cfg.Dir, name), nil
}
