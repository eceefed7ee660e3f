package avplay

import (
	"io"
	"log/slog"
)

var pkgLogger *slog.Logger = slog.Default()

// SetLogger replaces the package-level logger used as the fallback by
// controllers that were not given an explicit one through [WithLogger].
func SetLogger(logger *slog.Logger) {
	if logger == nil {
		panic("nil logger")
	}
	pkgLogger = logger
}

// DiscardLogger returns a logger that drops everything. Handy for tests and
// for embedders that do their own logging at the boundary.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
