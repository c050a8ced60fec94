// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package apci

import (
	"context"
	"crypto/tls"
	"net"
)

// Connect dials addr, performs the STARTDT handshake (§4.3), and returns a
// ready-to-use Connection. Data transfer is already enabled on a client
// connection once Connect returns (§4.4: alwaysEnabled).
//
// Connect blocks until the handshake completes, fails, or ctx is done. The
// timeout for the handshake itself is governed by the configured
// ResponseTimeout ("t1"), matching the teacher's use of its connect
// timeout for the initial dial and SendUnAckTimeout1 for the STARTDT_CON
// wait.
func Connect(ctx context.Context, addr string, opts ...Option) (*Connection, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.config.Validate(); err != nil {
		return nil, err
	}

	rawConn, err := dial(ctx, addr, o)
	if err != nil {
		return nil, err
	}

	hctx, cancel := context.WithTimeout(ctx, o.config.ResponseTimeout)
	defer cancel()

	if err := handshake(hctx, rawConn); err != nil {
		_ = rawConn.Close()
		return nil, err
	}

	// The handshake is bounded by hctx (derived from the caller's ctx plus
	// t1), but the Connection itself must outlive Connect's call: a dial
	// context scoped to "cap how long dialing may take" must not also cap
	// how long the resulting connection may live. Root it independently.
	c := newConnection(context.Background(), rawConn, o.config, true, o, "apci client => ")
	// STARTDT_CON was consumed by handshake before the Connection existed.
	c.onActivated(c)
	return c, nil
}

func dial(ctx context.Context, addr string, o options) (net.Conn, error) {
	dialCtx := o.dialContext
	if dialCtx == nil {
		var d net.Dialer
		dialCtx = d.DialContext
	}

	conn, err := dialCtx(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if o.tlsConfig != nil {
		tc := o.tlsConfig
		if tc.ServerName == "" {
			tc = tc.Clone()
			if host, _, splitErr := net.SplitHostPort(addr); splitErr == nil {
				tc.ServerName = host
			}
		}
		tlsConn := tls.Client(conn, tc)
		if deadline, ok := ctx.Deadline(); ok {
			_ = tlsConn.SetDeadline(deadline)
		}
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		_ = tlsConn.SetDeadline(zeroTime)
		conn = tlsConn
	}

	return conn, nil
}

// handshake runs the client side of §4.3's connection establishment: emit
// STARTDT_ACT, then read frames until STARTDT_CON arrives, tolerating and
// answering any TESTFR_ACT the peer interleaves (matching the teacher's
// willingness to see other U-frames before StartDt is confirmed).
func handshake(ctx context.Context, conn net.Conn) error {
	// readFrame/write below block on the socket with no deadline of their
	// own; bound them by hctx's deadline so a peer that accepts the TCP
	// connection but never sends STARTDT_CON doesn't hang Connect forever
	// (§4.2 step 5, §4.3 step 3).
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
		defer conn.SetDeadline(zeroTime)
	}

	if err := write(conn, encode(uFrame{function: uStartDtAct})); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		raw, err := readFrame(conn)
		if err != nil {
			return err
		}
		a, err := decode(raw)
		if err != nil {
			return protocolErrorf("decode failed during handshake: %v", err)
		}

		u, ok := a.(uFrame)
		if !ok {
			// An I- or S-frame before activation is a protocol violation
			// from the peer; the teacher's run loop instead discards it
			// as "station not active" post-handshake, but nothing should
			// be in flight before STARTDT_CON.
			continue
		}

		switch u.function {
		case uStartDtCon:
			return nil
		case uTestFrAct:
			if err := write(conn, encode(uFrame{function: uTestFrCon})); err != nil {
				return err
			}
		}
	}
}

func write(conn net.Conn, b []byte) error {
	for written := 0; written < len(b); {
		n, err := conn.Write(b[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}
