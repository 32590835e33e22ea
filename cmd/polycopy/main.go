// Command polycopy runs the copy-trading engine. Flags and logging setup
// are grounded on the teacher's cmd/server/main.go; external collaborators
// (order client, chain client, chat alerter, leaderboard/wallet-data feeds)
// are consumed through pkg/external's interfaces rather than constructed
// here, per §1's explicit scope boundary.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/driftscout/polycopy/pkg/errs"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, errs.ErrFatal) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newLogger(env string) *zap.Logger {
	level := zapcore.InfoLevel
	if env == "staging" {
		level = zapcore.DebugLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(2)
	}
	return logger
}
