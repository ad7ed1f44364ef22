package revgraph

import (
	"log/slog"

	"github.com/revgraph/revgraph/pkg/logging"
)

// Config configures the index instance. Only Paths[0] is used at the
// moment; future versions may use multiple paths for sharding or tiering.
type Config struct {
	// Paths contains data directories. Currently only Paths[0] is used.
	Paths []string
	// MinimumFreeGB is a free-space threshold for on-disk operations.
	MinimumFreeGB uint
	// Logger is an optional structured logger. If nil, a stderr logger is used.
	Logger *slog.Logger
}

func defaultLogger() *slog.Logger {
	return logging.New(slog.LevelInfo)
}
