package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production logger when prod is set and a development
// one otherwise. A non-empty level ("debug", "info", "warn", "error")
// overrides the default.
func NewLogger(prod bool, level string) (*zap.Logger, error) {
	var config zap.Config

	if prod {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder

	return config.Build()
}

func NewSugar(prod bool, level string) (*zap.SugaredLogger, error) {
	logger, err := NewLogger(prod, level)
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
