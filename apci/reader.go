// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package apci

import (
	"context"
)

// readerLoop implements §4.5: it consumes raw APDUs assembled by
// socketReader, decodes them, and dispatches by frame class. Any
// unexpected condition (decode failure, sequence gap, ack for an unsent
// frame) is a protocol violation: it is logged and the connection closes,
// which is exactly what returning a non-nil error from this goroutine
// does via the errgroup (§7).
func (c *Connection) readerLoop(ctx context.Context) error {
	defer close(c.recvQueue)

	for {
		select {
		case raw := <-c.rawIn:
			if err := c.handleFrame(ctx, raw); err != nil {
				c.Warn("reader: %v", err)
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) handleFrame(ctx context.Context, raw []byte) error {
	a, err := decode(raw)
	if err != nil {
		return protocolErrorf("decode failed: %v", err)
	}

	switch f := a.(type) {
	case uFrame:
		return c.handleUFrame(ctx, f)
	case sFrame:
		return c.handleSFrame(f)
	case iFrame:
		return c.handleIFrame(ctx, f)
	default:
		return protocolErrorf("unsupported apdu %T", a)
	}
}

func (c *Connection) handleUFrame(ctx context.Context, f uFrame) error {
	switch f.function {
	case uStartDtAct:
		c.mu.Lock()
		c.isEnabled = true
		c.mu.Unlock()
		c.onActivated(c)
		return c.writeFrame(ctx, uFrame{function: uStartDtCon})

	case uStopDtAct:
		c.mu.Lock()
		if c.alwaysEnabled {
			// A client never honors STOPDT_ACT (§4.5): only a server
			// can be told to stop sending data.
			c.mu.Unlock()
			return nil
		}
		rsn := c.rsn
		c.w = 0
		c.supervisoryAt = zeroTime
		c.isEnabled = false
		c.mu.Unlock()

		if err := c.writeFrame(ctx, sFrame{recvSN: rsn}); err != nil {
			return err
		}
		c.onDeactivated(c)
		return c.writeFrame(ctx, uFrame{function: uStopDtCon})

	case uStartDtCon, uStopDtCon:
		// Consumed during the connect handshake; steady-state receipt is
		// a no-op (§4.5).
		return nil

	case uTestFrAct:
		return c.writeFrame(ctx, uFrame{function: uTestFrCon})

	case uTestFrCon:
		c.mu.Lock()
		c.testConfirmed = true
		c.testConAt = zeroTime
		c.mu.Unlock()
		return nil

	default:
		return protocolErrorf("unsupported U-frame function %v", f.function)
	}
}

func (c *Connection) handleSFrame(f sFrame) error {
	c.mu.Lock()
	released, err := c.ackAdvanceLocked(f.recvSN)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if released > 0 {
		c.sem.Release(int64(released))
	}
	return nil
}

func (c *Connection) handleIFrame(ctx context.Context, f iFrame) error {
	c.mu.Lock()
	released, err := c.ackAdvanceLocked(f.recvSN)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	if f.sendSN != c.rsn {
		c.mu.Unlock()
		if released > 0 {
			c.sem.Release(int64(released))
		}
		return protocolErrorf("sequence number gap: expected N(S)=%d, got %d", c.rsn, f.sendSN)
	}

	c.rsn = seqAdd(c.rsn, 1)
	if c.supervisoryAt.IsZero() {
		c.supervisoryAt = monotonicNow().Add(c.cfg.SupervisoryTimeout)
	}
	c.w++

	flush := c.w >= c.cfg.ReceiveWindowSize
	rsn := c.rsn
	if flush {
		c.w = 0
		c.supervisoryAt = zeroTime
	}
	c.mu.Unlock()

	if released > 0 {
		c.sem.Release(int64(released))
	}

	if len(f.payload) > 0 {
		select {
		case c.recvQueue <- f.payload:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if flush {
		return c.writeFrame(ctx, sFrame{recvSN: rsn})
	}
	return nil
}
