// Package logging builds the zap logger shared by the client and server binaries.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a console logger in development and a JSON production logger
// otherwise. An empty level means info.
func New(env, level string) (*zap.Logger, error) {
	cfg, err := baseConfig(env, level)
	if err != nil {
		return nil, err
	}
	return cfg.Build()
}

// NewStderr is New with every sink pointed at stderr, for programs that own stdout.
func NewStderr(env, level string) (*zap.Logger, error) {
	cfg, err := baseConfig(env, level)
	if err != nil {
		return nil, err
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

func baseConfig(env, level string) (zap.Config, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return zap.Config{}, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	cfg := zap.NewProductionConfig()
	if env == "development" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg, nil
}
