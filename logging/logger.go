package logging

import (
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const (
	FieldModule   = "module"
	FieldBlock    = "block_number"
	FieldContract = "contract"
	FieldMatch    = "match_id"
	FieldIndex    = "prediction_index"
	FieldAddress  = "address"
	FieldEvent    = "event"
	FieldQueue    = "queue"
	FieldSub      = "subscription_id"
)

func New(writer io.Writer, level zerolog.Level, jsonOutput bool) zerolog.Logger {
	if !jsonOutput {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Caller().Logger()
}

// NewTesting returns a logger that writes through t.Log.
func NewTesting(t *testing.T) zerolog.Logger {
	return New(testWriter{t}, zerolog.DebugLevel, false)
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
