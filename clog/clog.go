// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

// Package clog is the leveled-logging facade used by the apci package.
// It keeps a connection or listener decoupled from any particular logging
// library: callers who want structured output, a different sink, or to
// silence the module entirely can swap the LogProvider without touching
// apci itself.
package clog

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// LogProvider RFC5424 log message levels only Critical Error Warn and Debug
type LogProvider interface {
	Critical(format string, v ...interface{})
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

// Level represents the logging severity.
// Ordering: Off < Critical < Error < Warn < Debug
// Setting a level enables logging for that level and all more critical levels.
type Level uint32

const (
	LevelOff Level = iota
	LevelCritical
	LevelError
	LevelWarn
	LevelDebug
)

// Clog internal logging implementation with level control
type Clog struct {
	provider LogProvider
	// level stores the current logging level (atomic)
	level uint32
}

// NewLogger creates a new logger using the specified prefix, attached to a
// logrus.Logger as a structured field rather than a text prefix.
// Default level is Off (no logs) to preserve previous behavior.
func NewLogger(prefix string) Clog {
	lg := logrus.New()
	// Filtering is done by Clog's own level; let logrus pass Debug through.
	lg.SetLevel(logrus.DebugLevel)
	return Clog{
		provider: &logrusProvider{entry: lg.WithField("conn", prefix)},
		level:    uint32(LevelOff),
	}
}

// SetLogLevel sets the logging level. LevelOff disables all logs; higher levels allow more verbose logs.
func (sf *Clog) SetLogLevel(lvl Level) {
	atomic.StoreUint32(&sf.level, uint32(lvl))
}

// SetLogProvider set provider provider
func (sf *Clog) SetLogProvider(p LogProvider) {
	if p != nil {
		sf.provider = p
	}
}

func (sf Clog) allowed(required Level) bool {
	return atomic.LoadUint32(&sf.level) >= uint32(required)
}

// Critical Log CRITICAL level message.
func (sf Clog) Critical(format string, v ...interface{}) {
	if sf.allowed(LevelCritical) {
		sf.provider.Critical(format, v...)
	}
}

// Error Log ERROR level message.
func (sf Clog) Error(format string, v ...interface{}) {
	if sf.allowed(LevelError) {
		sf.provider.Error(format, v...)
	}
}

// Warn Log WARN level message.
func (sf Clog) Warn(format string, v ...interface{}) {
	if sf.allowed(LevelWarn) {
		sf.provider.Warn(format, v...)
	}
}

// Debug Log DEBUG level message.
func (sf Clog) Debug(format string, v ...interface{}) {
	if sf.allowed(LevelDebug) {
		sf.provider.Debug(format, v...)
	}
}

// logrusProvider is the default LogProvider, backed by sirupsen/logrus.
type logrusProvider struct {
	entry *logrus.Entry
}

var _ LogProvider = (*logrusProvider)(nil)

// Critical logs at logrus' Error level and is treated as an informational
// top severity here: unlike log.Fatal semantics elsewhere, clog's Critical
// never terminates the process — that decision belongs to the caller.
func (p *logrusProvider) Critical(format string, v ...interface{}) {
	p.entry.Errorf("[C]: "+format, v...)
}

// Error Log ERROR level message.
func (p *logrusProvider) Error(format string, v ...interface{}) {
	p.entry.Errorf(format, v...)
}

// Warn Log WARN level message.
func (p *logrusProvider) Warn(format string, v ...interface{}) {
	p.entry.Warnf(format, v...)
}

// Debug Log DEBUG level message.
func (p *logrusProvider) Debug(format string, v ...interface{}) {
	p.entry.Debugf(format, v...)
}
