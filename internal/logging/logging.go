// Package logging builds the zap logger shared by the binaries.
package logging

import (
	"os"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"payment-reconciler/internal/config"
)

// New returns a sugared logger: JSON production output when cfg.JSON is set,
// colored console output otherwise.
func New(cfg config.LogConfig) (*zap.SugaredLogger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, errors.WithHint(errors.Wrapf(err, "parse log level %q", cfg.Level),
				"use one of debug, info, warn, error")
		}
	}

	if cfg.JSON {
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(level)
		logger, err := zc.Build()
		if err != nil {
			return nil, errors.Wrap(err, "build json logger")
		}
		return logger.Sugar(), nil
	}

	return NewWithCore(zapcore.NewCore(consoleEncoder(), zapcore.AddSync(os.Stdout), level)), nil
}

// NewWithCore wraps an existing core, used by tests that capture output.
func NewWithCore(core zapcore.Core) *zap.SugaredLogger {
	return zap.New(core).Sugar()
}

func consoleEncoder() zapcore.Encoder {
	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	return zapcore.NewConsoleEncoder(ec)
}
