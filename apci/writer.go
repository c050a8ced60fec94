// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package apci

import "context"

// writerLoop implements the writer activity of §2/§4.6: it drains
// sendQueue, turning payloads into I-frames gated by the send window and
// forwarding drain markers onto rawOut so each one completes only once
// every frame ahead of it has actually reached conn.Write, not merely
// been admitted past the send window (§4.4, §5).
func (c *Connection) writerLoop(ctx context.Context) error {
	defer c.failPending(ErrClosed)

	for {
		select {
		case item := <-c.sendQueue:
			if item.marker != nil {
				if err := c.flushMarker(ctx, item.marker); err != nil {
					item.marker.err = ErrClosed
					close(item.marker.done)
					return err
				}
				continue
			}
			if err := c.sendPayload(ctx, item.payload); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// sendPayload waits for send-window capacity, assigns the next sequence
// number, and emits the I-frame. §4.5: a payload admitted while the
// connection is disabled (no STARTDT_CON yet, or after STOPDT) is
// silently dropped rather than queued indefinitely — matching the
// "is_enabled check" Open Question resolution.
func (c *Connection) sendPayload(ctx context.Context, payload []byte) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return ctx.Err()
	}

	c.mu.Lock()
	if !c.isEnabled {
		c.mu.Unlock()
		c.sem.Release(1)
		c.Debug("dropping payload: data transfer not enabled")
		return nil
	}

	ssn := c.ssn
	c.waitingAck = append(c.waitingAck, seqPending{
		ssn:      ssn,
		deadline: monotonicNow().Add(c.cfg.ResponseTimeout),
	})
	c.ssn = seqAdd(c.ssn, 1)
	rsn := c.rsn
	c.w = 0
	c.supervisoryAt = zeroTime
	c.mu.Unlock()

	return c.writeFrame(ctx, iFrame{sendSN: ssn, recvSN: rsn, payload: payload})
}

// failPending fails every drain marker still sitting in sendQueue when the
// writer stops consuming, so a Drain call never hangs past connection
// teardown (§4.6 "Writer exit"). Payload items are simply dropped: Send
// already promises nothing beyond best-effort delivery.
func (c *Connection) failPending(err error) {
	for {
		select {
		case item := <-c.sendQueue:
			if item.marker != nil {
				item.marker.err = err
				close(item.marker.done)
			}
		default:
			return
		}
	}
}
