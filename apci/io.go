// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package apci

import (
	"context"
	"io"
)

// readFrame reads exactly one complete APDU from r using the incremental
// nextAPDUSize oracle (§4.1): it probes with what it already has, reads
// the remaining bytes the oracle reports, and returns the raw frame.
func readFrame(r io.Reader) ([]byte, error) {
	buf := make([]byte, 0, 6)
	for {
		size, err := nextAPDUSize(buf)
		if err != nil {
			return nil, err
		}
		if size <= len(buf) {
			return buf, nil
		}
		grown := make([]byte, size)
		copy(grown, buf)
		if _, err := io.ReadFull(r, grown[len(buf):]); err != nil {
			return nil, err
		}
		buf = grown
	}
}

// socketReader is the pure byte-pump half of the reader activity (§2): it
// knows nothing about sequence numbers or frame classes, only how to carve
// the byte stream into complete APDUs and forward them. Protocol dispatch
// happens in readerLoop, which consumes rawIn.
func (c *Connection) socketReader(ctx context.Context) error {
	// readFrame does not watch ctx; closing the socket once ctx is done is
	// what unblocks it during teardown.
	context.AfterFunc(ctx, func() { _ = c.conn.Close() })

	for {
		frame, err := readFrame(c.conn)
		if err != nil {
			return err
		}
		select {
		case c.rawIn <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// rawItem is one entry on rawOut: either a frame to write or a drain
// marker riding the same queue so it completes strictly after every frame
// ahead of it has actually reached conn.Write — not merely after being
// handed from writerLoop to socketWriter (§4.4 "offered to the TCP
// layer").
type rawItem struct {
	frame  []byte
	marker *drainMarker
}

// socketWriter is the pure byte-pump half of the writer activity: every
// frame the protocol logic wants on the wire — whether originated by the
// reader (immediate replies: STARTDT_CON, STOPDT_CON, TESTFR_CON,
// receive-window S-frames), the writer (I-frames), or the tester
// (supervisory S-frames, TESTFR_ACT) — is funneled
// through rawOut so that exactly one goroutine ever calls conn.Write,
// which is what the concurrency model in §5 requires ("Implementations on
// parallel-thread runtimes must serialize writes").
func (c *Connection) socketWriter(ctx context.Context) error {
	defer c.failPendingRawOut(ErrClosed)

	for {
		select {
		case item := <-c.rawOut:
			if item.marker != nil {
				close(item.marker.done)
				continue
			}
			if _, err := c.conn.Write(item.frame); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// failPendingRawOut fails any drain marker still queued on rawOut when
// socketWriter stops consuming, so Drain never hangs past teardown.
func (c *Connection) failPendingRawOut(err error) {
	for {
		select {
		case item := <-c.rawOut:
			if item.marker != nil {
				item.marker.err = err
				close(item.marker.done)
			}
		default:
			return
		}
	}
}

// writeFrame hands an encoded APDU to the socket writer. It blocks only on
// rawOut's buffer (sized generously relative to the windows, §5) or
// connection shutdown.
func (c *Connection) writeFrame(ctx context.Context, a apdu) error {
	select {
	case c.rawOut <- rawItem{frame: encode(a)}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flushMarker enqueues a drain marker onto rawOut behind every frame
// already offered to socketWriter. It returns an error only if the
// connection closes before the marker could even be enqueued; the caller
// must then fail the marker itself, since socketWriter never saw it.
func (c *Connection) flushMarker(ctx context.Context, marker *drainMarker) error {
	select {
	case c.rawOut <- rawItem{marker: marker}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
