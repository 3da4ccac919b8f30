// Package logger provides named loggers for swarmpeer subsystems, backed by
// github.com/cenkalti/log.
package logger

import (
	clog "github.com/cenkalti/log"
)

// Logger is the interface every subsystem logs through.
type Logger = clog.Logger

// New returns a logger prefixed with name, e.g. "connection 3" or "scheduler".
func New(name string) Logger {
	return clog.NewLogger(name)
}

// SetLevel sets the global log level. Driven by the CLI --debug flag.
func SetLevel(l clog.Level) {
	clog.SetLevel(l)
}

// Log-level constants re-exported so callers don't need to import clog just
// for them.
const (
	DEBUG    = clog.DEBUG
	INFO     = clog.INFO
	NOTICE   = clog.NOTICE
	WARNING  = clog.WARNING
	ERROR    = clog.ERROR
	CRITICAL = clog.CRITICAL
)
