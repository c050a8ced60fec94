// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package apci

// ackAdvanceLocked implements §4.7: given an advertised N_R from the peer
// (carried in an S- or I-frame), retire every outstanding ssn in the
// modular half-open interval [ack, newAck) and advance ack to newAck.
//
// The caller must hold c.mu. It returns the number of waitingAck entries
// retired, which the caller must release on c.sem (outside the lock, to
// keep semaphore bookkeeping off the hot path that also guards ssn/rsn).
func (c *Connection) ackAdvanceLocked(newAck uint16) (released int, err error) {
	if newAck == c.ack {
		return 0, nil // idempotent: re-acking the same ssn changes nothing
	}

	dist := seqDistance(c.ack, newAck)
	if int(dist) > int(c.cfg.SendWindowSize) {
		return 0, protocolErrorf("ack distance %d from %d to %d exceeds send window %d",
			dist, c.ack, newAck, c.cfg.SendWindowSize)
	}
	n := int(dist)
	if n > len(c.waitingAck) {
		return 0, protocolErrorf("ack for unsent sequence number (have %d outstanding, ack advances by %d)",
			len(c.waitingAck), n)
	}
	for i := 0; i < n; i++ {
		want := seqAdd(c.ack, uint16(i))
		if c.waitingAck[i].ssn != want {
			return 0, protocolErrorf("ack for unsent sequence number (expected %d, outstanding entry is %d)",
				want, c.waitingAck[i].ssn)
		}
	}

	c.waitingAck = c.waitingAck[n:]
	c.ack = newAck
	return n, nil
}
