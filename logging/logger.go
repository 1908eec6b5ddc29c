// Package logging builds the process logger.
package logging

import (
	"log"
	"os"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const EnvLogLevel = "LOG_LEVEL"

// Level reads LOG_LEVEL as either a zap level name ("debug", "warn") or its
// numeric value. Anything else means info.
func Level() zapcore.Level {
	v := os.Getenv(EnvLogLevel)
	if n, err := strconv.Atoi(v); err == nil {
		return zapcore.Level(n)
	}
	if lvl, err := zapcore.ParseLevel(v); err == nil {
		return lvl
	}
	return zapcore.InfoLevel
}

func Config(level zapcore.Level) zap.Config {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.CallerKey = "ln"
	zapCfg.EncoderConfig.FunctionKey = ""
	zapCfg.EncoderConfig.LevelKey = "severity"
	zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.OutputPaths = []string{"stderr"}
	return zapCfg
}

// NewLogger builds the production logger, installs it as the zap global and
// returns a func that restores the previous global and flushes.
func NewLogger() (*zap.Logger, func()) {
	logger, err := Config(Level()).Build()
	if err != nil {
		log.Fatalf("fail to init logger, error: %v", err)
	}

	undo := zap.ReplaceGlobals(logger)

	return logger, func() {
		undo()
		_ = logger.Sync()
	}
}
