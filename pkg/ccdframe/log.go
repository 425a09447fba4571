package ccdframe

import (
	"os"

	"github.com/rs/zerolog"
)

// Informational notices (raw uncertainty wrapping, unit overrides, HDU
// scans) are logged here; they never affect control flow.
var logger = zerolog.New(os.Stderr).With().Timestamp().Str("pkg", "ccdframe").Logger()

// SetLogger replaces the package logger, e.g. to silence notices in tests
// or route them into an application log.
func SetLogger(l zerolog.Logger) {
	logger = l
}
