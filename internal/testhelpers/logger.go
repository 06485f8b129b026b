package testhelpers

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger routes the global logger to the test log for the duration of
// the test.
func SetupLogger(t *testing.T) {
	t.Helper()

	original := log.Logger
	t.Cleanup(func() {
		log.Logger = original
	})

	log.Logger = zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
	zerolog.DefaultContextLogger = &log.Logger
}
