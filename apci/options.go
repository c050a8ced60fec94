// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package apci

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/apci104/go-apci104/clog"
)

// options collects the knobs shared by Connect and Listen. It is built up
// by Option functions rather than exposed directly, mirroring the
// teacher's ClientOption/Config split while folding both client- and
// server-side settings into one place now that Connection serves both
// roles (§4.4).
type options struct {
	config      Config
	tlsConfig   *tls.Config
	dialContext func(ctx context.Context, network, address string) (net.Conn, error)

	logProvider clog.LogProvider
	logLevel    clog.Level

	onConnect        func(*Connection)
	onConnectionLost func(*Connection)
	onActivated      func(*Connection)
	onDeactivated    func(*Connection)
	onConnState      func(*Connection, ConnState)
}

func defaultOptions() options {
	return options{
		config:           DefaultConfig(),
		onConnect:        func(*Connection) {},
		onConnectionLost: func(*Connection) {},
		onActivated:      func(*Connection) {},
		onDeactivated:    func(*Connection) {},
	}
}

// Option configures a Connector or Listener.
type Option func(*options)

// WithConfig overrides the default timeouts/window sizes (§3). An invalid
// Config falls back silently to DefaultConfig, matching the teacher's
// SetConfig behavior.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		if cfg.Validate() != nil {
			o.config = DefaultConfig()
			return
		}
		o.config = cfg
	}
}

// WithTLSConfig upgrades the dial to TLS once the TCP handshake completes.
func WithTLSConfig(tc *tls.Config) Option {
	return func(o *options) { o.tlsConfig = tc }
}

// WithDialContext supplies a custom dialer (e.g. dialing through a jump
// host). Only meaningful for Connect; Listen accepts connections instead
// of dialing them.
func WithDialContext(dial func(ctx context.Context, network, address string) (net.Conn, error)) Option {
	return func(o *options) { o.dialContext = dial }
}

// WithLogProvider swaps the default logrus-backed sink for a caller's own.
func WithLogProvider(p clog.LogProvider) Option {
	return func(o *options) { o.logProvider = p }
}

// WithLogLevel sets the logging verbosity (default clog.LevelOff).
func WithLogLevel(lvl clog.Level) Option {
	return func(o *options) { o.logLevel = lvl }
}

// WithOnConnect registers a callback invoked once the TCP connection and
// (for a client) the STARTDT handshake have completed.
func WithOnConnect(f func(*Connection)) Option {
	return func(o *options) {
		if f != nil {
			o.onConnect = f
		}
	}
}

// WithOnConnectionLost registers a callback invoked when the connection
// tears down, for any reason.
func WithOnConnectionLost(f func(*Connection)) Option {
	return func(o *options) {
		if f != nil {
			o.onConnectionLost = f
		}
	}
}

// WithOnActivated registers a callback invoked when data transfer becomes
// enabled (STARTDT confirmed).
func WithOnActivated(f func(*Connection)) Option {
	return func(o *options) {
		if f != nil {
			o.onActivated = f
		}
	}
}

// WithOnDeactivated registers a callback invoked when data transfer becomes
// disabled (STOPDT confirmed).
func WithOnDeactivated(f func(*Connection)) Option {
	return func(o *options) {
		if f != nil {
			o.onDeactivated = f
		}
	}
}

// WithConnState registers a callback a Listener invokes whenever one of its
// accepted connections changes gross lifecycle state (§8 SUPPLEMENTED
// FEATURES, "Listener connection-state callback"). It has no effect on
// Connect. Meaningless outside a Listener; Connect ignores it.
func WithConnState(f func(*Connection, ConnState)) Option {
	return func(o *options) { o.onConnState = f }
}
