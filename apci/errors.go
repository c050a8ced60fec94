// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package apci

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Send, Drain, and Receive once the connection is
// or becomes closed. Protocol violations are never surfaced as a distinct
// typed error to callers (§7): the wire state is ambiguous by the time one
// occurs, so they collapse to ErrClosed alongside TCP failures and timeouts.
var ErrClosed = errors.New("apci: connection closed")

// ErrBufferFull is returned by Send when the outbound queue has no more
// room; it is the optional backpressure signal §5 allows implementers to
// add on top of the otherwise-unbounded outbound queue.
var ErrBufferFull = errors.New("apci: send buffer full")

// errProtocol wraps internal protocol violations (sequence gaps, acks for
// unsent frames, handshake failures, malformed frames), which close the
// connection. It is deliberately unexported: Send, Drain, and Receive
// report the closed connection as ErrClosed, and only Err returns the
// violation itself. Send also returns one, without closing the connection,
// for a payload longer than maxASDULen.
type errProtocol struct {
	reason string
}

func (e *errProtocol) Error() string { return "apci: protocol violation: " + e.reason }

func protocolErrorf(format string, args ...interface{}) error {
	return &errProtocol{reason: fmt.Sprintf(format, args...)}
}
