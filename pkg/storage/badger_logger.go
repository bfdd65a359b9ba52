package storage

import (
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// badgerLogger routes BadgerDB's internal messages through zerolog. Badger's
// info output is routine compaction chatter, so it is logged at debug.
type badgerLogger struct {
	log zerolog.Logger
}

// NewBadgerLogger adapts log for BadgerOptions.Logger.
func NewBadgerLogger(log zerolog.Logger) badger.Logger {
	return &badgerLogger{log: log.With().Str("component", "badger").Logger()}
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(strings.TrimSpace(format), args...)
}
