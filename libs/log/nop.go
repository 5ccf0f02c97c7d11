package log

import (
	"github.com/rs/zerolog"
)

// NewNopLogger returns a logger that drops everything. Clients use it when no
// logger option is given.
func NewNopLogger() Logger {
	return &defaultLogger{Logger: zerolog.Nop()}
}
