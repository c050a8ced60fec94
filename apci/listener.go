// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package apci

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
)

// ConnState describes the gross lifecycle state of a Listener-produced
// Connection, reported through WithConnState.
type ConnState int

const (
	// StateAccepted marks a freshly accepted TCP connection, before the
	// STARTDT handshake.
	StateAccepted ConnState = iota
	// StateActivated marks STARTDT_ACT having been confirmed: data
	// transfer is enabled.
	StateActivated
	// StateDeactivated marks STOPDT_ACT having been confirmed: data
	// transfer is disabled again, connection still open.
	StateDeactivated
	// StateClosed marks teardown having completed.
	StateClosed
)

// Listener accepts inbound TCP connections and hands each one, wrapped as
// a Connection, to a callback. A server-role Connection starts with data
// transfer disabled (§4.4: alwaysEnabled=false) until the client issues
// STARTDT_ACT.
type Listener struct {
	net.Listener
	opts options

	mu      sync.Mutex
	conns   map[*Connection]struct{}
	closing bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Listen binds addr (e.g. ":2404") and starts accepting connections in the
// background; every accepted connection is passed to cb once constructed.
// cb is invoked from its own goroutine so a slow or blocking handler never
// stalls the accept loop.
func Listen(addr string, cb func(*Connection), opts ...Option) (*Listener, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.config.Validate(); err != nil {
		return nil, err
	}
	if addr == "" {
		addr = ":2404"
	}

	var nl net.Listener
	var err error
	if o.tlsConfig != nil {
		nl, err = tls.Listen("tcp", addr, o.tlsConfig)
	} else {
		nl, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		Listener: nl,
		opts:     o,
		conns:    make(map[*Connection]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	l.wg.Add(1)
	go l.acceptLoop(cb)
	return l, nil
}

func (l *Listener) acceptLoop(cb func(*Connection)) {
	defer l.wg.Done()
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			l.mu.Lock()
			closing := l.closing
			l.mu.Unlock()
			if closing {
				return
			}
			continue
		}

		connOpts := l.opts
		if l.opts.onConnState != nil {
			notify := l.opts.onConnState
			prevActivated, prevDeactivated := l.opts.onActivated, l.opts.onDeactivated
			connOpts.onActivated = func(c *Connection) {
				if prevActivated != nil {
					prevActivated(c)
				}
				notify(c, StateActivated)
			}
			connOpts.onDeactivated = func(c *Connection) {
				if prevDeactivated != nil {
					prevDeactivated(c)
				}
				notify(c, StateDeactivated)
			}
		}

		c := newConnection(l.ctx, conn, l.opts.config, false, connOpts, "apci server => ")
		if l.opts.onConnState != nil {
			l.opts.onConnState(c, StateAccepted)
		}

		l.mu.Lock()
		l.conns[c] = struct{}{}
		l.mu.Unlock()

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			<-c.Done()
			l.mu.Lock()
			delete(l.conns, c)
			l.mu.Unlock()
			if l.opts.onConnState != nil {
				l.opts.onConnState(c, StateClosed)
			}
		}()

		if cb != nil {
			go cb(c)
		}
	}
}

// Close stops accepting new connections and closes every connection
// currently served by this Listener. It does not wait for their teardown
// to finish; use Shutdown for that.
func (l *Listener) Close() error {
	l.mu.Lock()
	l.closing = true
	conns := make([]*Connection, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	l.cancel()
	err := l.Listener.Close()
	for _, c := range conns {
		_ = c.Close()
	}
	return err
}

// Shutdown closes the Listener and blocks until every connection it
// produced has finished tearing down, or ctx is done first.
func (l *Listener) Shutdown(ctx context.Context) error {
	if err := l.Close(); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
