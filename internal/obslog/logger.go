// Package obslog wires up structured process logging for the cmd/maker and
// cmd/taker entrypoints — startup/shutdown, transport
// reconnects, and background-loop errors that are operational noise, not
// part of the per-trade audit trail internal/receipts.FileStore keeps.
package obslog

import (
	"go.uber.org/zap"

	"github.com/intercomswap/swapcore/internal/cli"
)

// New builds a *zap.SugaredLogger appropriate to the CLI mode: zap's
// human-readable console encoder for interactive mode, JSON
// for dashboard mode so log lines can be ingested the same way the rest
// of that mode's output is.
func New(mode cli.Mode) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if mode == cli.ModeDashboard {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
