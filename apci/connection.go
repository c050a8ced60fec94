// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package apci

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/apci104/go-apci104/clog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// seqPending is one outstanding unacknowledged outbound I-frame: its
// sequence number and the deadline by which an acknowledgement must
// arrive. waitingAck is kept as a FIFO slice of these rather than one
// timer object per frame (§9 "generation counter per slot" concern):
// since acknowledgements always confirm a contiguous prefix of the
// modular sequence space (§4.7), the frame at index 0 is always the next
// one that can time out.
type seqPending struct {
	ssn      uint16
	deadline time.Time
}

// Connection is a full-duplex IEC 60870-5-104 APCI endpoint. It wraps one
// TCP stream and runs the reader, writer, and tester activities described
// in §2 as separate goroutines, with all protocol bookkeeping (ssn, rsn,
// ack, w, isEnabled, waitingAck, and the supervisory/test deadlines)
// guarded by one mutex — the "guard with a connection-wide mutex" option
// §9 offers for parallel-thread runtimes, since Go's goroutines are
// genuinely concurrent unlike the source's single-threaded coroutines.
//
// A Connection is produced by Connect (client role) or by a Listener
// (server role); it is never constructed directly by a caller.
type Connection struct {
	clog.Clog

	conn          net.Conn
	cfg           Config
	alwaysEnabled bool

	sendQueue chan sendItem
	recvQueue chan []byte
	rawIn     chan []byte
	rawOut    chan rawItem

	sem *semaphore.Weighted

	mu            sync.Mutex
	ssn           uint16
	rsn           uint16
	ack           uint16
	w             uint16
	isEnabled     bool
	waitingAck    []seqPending
	supervisoryAt time.Time // zero means not armed
	testConAt     time.Time // zero means no TESTFR_ACT outstanding
	testConfirmed bool

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	closeOnce sync.Once
	doneCh    chan struct{}
	closeErr  error
	closeMu   sync.Mutex

	onConnect        func(*Connection)
	onConnectionLost func(*Connection)
	onActivated      func(*Connection)
	onDeactivated    func(*Connection)
}

// sendItem is an entry in the outbound queue: either a user payload or a
// drain marker (§9 "drain-marker technique").
type sendItem struct {
	payload []byte
	marker  *drainMarker
}

type drainMarker struct {
	done chan struct{}
	err  error
}

// newConnection wires up a Connection around an already-established
// net.Conn and spawns its goroutines. alwaysEnabled is true for client
// connections (data transfer is authorized from the start) and false for
// server connections (authorized only after STARTDT).
func newConnection(parent context.Context, conn net.Conn, cfg Config, alwaysEnabled bool, opt options, logPrefix string) *Connection {
	ctx, cancel := context.WithCancel(parent)
	group, gctx := errgroup.WithContext(ctx)

	lg := clog.NewLogger(logPrefix)
	if opt.logProvider != nil {
		lg.SetLogProvider(opt.logProvider)
	}
	lg.SetLogLevel(opt.logLevel)

	c := &Connection{
		Clog:             lg,
		conn:             conn,
		cfg:              cfg,
		alwaysEnabled:    alwaysEnabled,
		isEnabled:        alwaysEnabled,
		sendQueue:        make(chan sendItem, int(cfg.SendWindowSize)*16),
		recvQueue:        make(chan []byte, int(cfg.ReceiveWindowSize)*16),
		rawIn:            make(chan []byte, int(cfg.ReceiveWindowSize)*16),
		rawOut:           make(chan rawItem, int(cfg.SendWindowSize)*16),
		sem:              semaphore.NewWeighted(int64(cfg.SendWindowSize)),
		ctx:              gctx,
		cancel:           cancel,
		group:            group,
		doneCh:           make(chan struct{}),
		onConnect:        opt.onConnect,
		onConnectionLost: opt.onConnectionLost,
		onActivated:      opt.onActivated,
		onDeactivated:    opt.onDeactivated,
	}
	if c.onConnect == nil {
		c.onConnect = func(*Connection) {}
	}
	if c.onConnectionLost == nil {
		c.onConnectionLost = func(*Connection) {}
	}
	if c.onActivated == nil {
		c.onActivated = func(*Connection) {}
	}
	if c.onDeactivated == nil {
		c.onDeactivated = func(*Connection) {}
	}

	group.Go(func() error { return c.socketReader(gctx) })
	group.Go(func() error { return c.socketWriter(gctx) })
	group.Go(func() error { return c.readerLoop(gctx) })
	group.Go(func() error { return c.writerLoop(gctx) })
	group.Go(func() error { return c.testerLoop(gctx) })

	go c.supervise()

	c.onConnect(c)
	return c
}

// supervise waits for every goroutine in the group to finish, then runs
// teardown exactly once: closes the TCP stream, fails pending drain
// markers, and notifies onConnectionLost.
func (c *Connection) supervise() {
	err := c.group.Wait()
	c.closeMu.Lock()
	c.closeErr = err
	c.closeMu.Unlock()

	_ = c.conn.Close()

	// Fail any drain markers still sitting in the send queue or the raw
	// write queue; §4.6 "Writer exit" — writerLoop and socketWriter each
	// already do this on their own natural exit path, but since both have
	// returned by the time group.Wait() unblocks, this is the final
	// backstop for a marker that was handed from one to the other in the
	// narrow window between the receiver's own drain and its goroutine
	// exiting (rawOut is buffered, so that hand-off never blocks on a
	// reader being present).
drainSend:
	for {
		select {
		case item := <-c.sendQueue:
			if item.marker != nil {
				item.marker.err = ErrClosed
				close(item.marker.done)
			}
		default:
			break drainSend
		}
	}
drainRaw:
	for {
		select {
		case item := <-c.rawOut:
			if item.marker != nil {
				item.marker.err = ErrClosed
				close(item.marker.done)
			}
		default:
			break drainRaw
		}
	}

	close(c.doneCh)
	c.onConnectionLost(c)
}

// Send enqueues payload for transmission. It never blocks: the outbound
// queue is generously buffered (§5 "outbound queue ... bounded implicitly
// by the send window"), and a full queue returns ErrBufferFull rather than
// stalling the caller. Send does not wait for transmission, and it fails
// immediately once the connection is closed (§4.4).
func (c *Connection) Send(payload []byte) error {
	if len(payload) > maxASDULen {
		return protocolErrorf("payload of %d bytes exceeds maximum ASDU length %d", len(payload), maxASDULen)
	}
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case c.sendQueue <- sendItem{payload: payload}:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	default:
		return ErrBufferFull
	}
}

// Drain blocks until every payload enqueued by a Send call issued before
// Drain was called has actually reached conn.Write — not merely admitted
// past the send window, and not merely handed from writerLoop to
// socketWriter (§4.4, §5). It returns ErrClosed if the connection closes
// first.
func (c *Connection) Drain(ctx context.Context) error {
	marker := &drainMarker{done: make(chan struct{})}
	select {
	case c.sendQueue <- sendItem{marker: marker}:
	case <-c.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-marker.done:
		return marker.err
	case <-c.doneCh:
		// Teardown has finished; a marker enqueued after its last sweep of
		// sendQueue is never completed.
		select {
		case <-marker.done:
			return marker.err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next inbound payload in the exact order the peer
// emitted it in I-frames (§4.4). It returns ErrClosed once the connection
// is closed and every already-delivered payload has been drained.
func (c *Connection) Receive(ctx context.Context) ([]byte, error) {
	select {
	case payload, ok := <-c.recvQueue:
		if !ok {
			return nil, ErrClosed
		}
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close initiates orderly shutdown. It is idempotent and does not block
// for teardown to complete; use Done to wait.
func (c *Connection) Close() error {
	c.closeOnce.Do(c.cancel)
	return nil
}

// Done returns a channel closed once teardown (all goroutines stopped,
// socket closed, pending drains failed) has completed.
func (c *Connection) Done() <-chan struct{} {
	return c.doneCh
}

// Err returns the first error returned by any of the connection's
// goroutines once teardown has completed, or nil while the connection is
// still open. It is not nil after Close either: a connection ended by Close
// or by its Listener closing reports context.Canceled or the socket error
// that its teardown produced.
func (c *Connection) Err() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closeErr
}

// IsEnabled reports whether data transfer is currently authorized — always
// true for a client connection, toggled by STARTDT/STOPDT for a server
// connection (§3).
func (c *Connection) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isEnabled
}

// UnderlyingConn returns the wrapped net.Conn, e.g. for logging the remote
// address; callers must not read from or write to it directly.
func (c *Connection) UnderlyingConn() net.Conn {
	return c.conn
}
