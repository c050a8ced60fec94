// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package apci

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPair wires a Connection around one end of an in-memory net.Pipe
// and returns the other end for a test to drive directly, playing the
// role of the remote peer at the raw frame level.
func newTestPair(t *testing.T, cfg Config, alwaysEnabled bool) (*Connection, net.Conn) {
	t.Helper()
	local, peer := net.Pipe()
	c := newConnection(context.Background(), local, cfg, alwaysEnabled, defaultOptions(), "test => ")
	t.Cleanup(func() { _ = c.Close() })
	return c, peer
}

func peerReadFrame(t *testing.T, peer net.Conn, timeout time.Duration) apdu {
	t.Helper()
	_ = peer.SetReadDeadline(time.Now().Add(timeout))
	raw, err := readFrame(peer)
	require.NoError(t, err)
	a, err := decode(raw)
	require.NoError(t, err)
	return a
}

func peerExpectNoFrame(t *testing.T, peer net.Conn, timeout time.Duration) {
	t.Helper()
	_ = peer.SetReadDeadline(time.Now().Add(timeout))
	_, err := readFrame(peer)
	assert.Error(t, err, "expected no frame within %s", timeout)
}

func peerWrite(t *testing.T, peer net.Conn, a apdu) {
	t.Helper()
	_, err := peer.Write(encode(a))
	require.NoError(t, err)
}

func mustConfig(t *testing.T, k, w uint16) Config {
	cfg := Config{
		ResponseTimeout:    2 * time.Second,
		SupervisoryTimeout: 300 * time.Millisecond,
		TestTimeout:        2 * time.Second,
		SendWindowSize:     k,
		ReceiveWindowSize:  w,
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestSendWindowSaturatesAtK(t *testing.T) {
	cfg := mustConfig(t, 2, 8)
	c, peer := newTestPair(t, cfg, true)
	defer peer.Close()

	require.NoError(t, c.Send([]byte{1}))
	require.NoError(t, c.Send([]byte{2}))
	require.NoError(t, c.Send([]byte{3}))

	f1 := peerReadFrame(t, peer, time.Second)
	assert.Equal(t, iFrame{sendSN: 0, recvSN: 0, payload: []byte{1}}, f1)
	f2 := peerReadFrame(t, peer, time.Second)
	assert.Equal(t, iFrame{sendSN: 1, recvSN: 0, payload: []byte{2}}, f2)

	peerExpectNoFrame(t, peer, 200*time.Millisecond)

	peerWrite(t, peer, sFrame{recvSN: 2})

	f3 := peerReadFrame(t, peer, time.Second)
	assert.Equal(t, iFrame{sendSN: 2, recvSN: 0, payload: []byte{3}}, f3)
}

func TestServerStartDtStopDtFlow(t *testing.T) {
	cfg := mustConfig(t, 12, 8)
	c, peer := newTestPair(t, cfg, false)
	defer peer.Close()

	assert.False(t, c.IsEnabled())

	peerWrite(t, peer, uFrame{function: uStartDtAct})
	reply := peerReadFrame(t, peer, time.Second)
	assert.Equal(t, uFrame{function: uStartDtCon}, reply)
	assert.True(t, c.IsEnabled())

	peerWrite(t, peer, uFrame{function: uStopDtAct})

	ack := peerReadFrame(t, peer, time.Second)
	assert.Equal(t, sFrame{recvSN: 0}, ack)
	stopCon := peerReadFrame(t, peer, time.Second)
	assert.Equal(t, uFrame{function: uStopDtCon}, stopCon)
	assert.False(t, c.IsEnabled())
}

func TestSupervisoryTimerFlushesBareAck(t *testing.T) {
	cfg := mustConfig(t, 12, 8)
	c, peer := newTestPair(t, cfg, true)
	defer peer.Close()

	peerWrite(t, peer, iFrame{sendSN: 0, recvSN: 0, payload: []byte{9}})

	got, err := c.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, got)

	ack := peerReadFrame(t, peer, time.Second)
	assert.Equal(t, sFrame{recvSN: 1}, ack)
}

func TestReceiveWindowFlushesWithoutWaitingForSupervisoryTimer(t *testing.T) {
	cfg := mustConfig(t, 12, 2)
	c, peer := newTestPair(t, cfg, true)
	defer peer.Close()

	peerWrite(t, peer, iFrame{sendSN: 0, recvSN: 0, payload: []byte{1}})
	peerWrite(t, peer, iFrame{sendSN: 1, recvSN: 0, payload: []byte{2}})

	ack := peerReadFrame(t, peer, 250*time.Millisecond)
	assert.Equal(t, sFrame{recvSN: 2}, ack)
}

func TestSequenceNumberWrapsAtModulus(t *testing.T) {
	cfg := mustConfig(t, 12, 8)
	c, peer := newTestPair(t, cfg, true)
	defer peer.Close()

	c.mu.Lock()
	c.rsn = seqMod - 1
	c.mu.Unlock()

	peerWrite(t, peer, iFrame{sendSN: seqMod - 1, recvSN: 0, payload: []byte{1}})
	_, err := c.Receive(context.Background())
	require.NoError(t, err)

	c.mu.Lock()
	rsn := c.rsn
	c.mu.Unlock()
	assert.Equal(t, uint16(0), rsn)
}

func TestTestFrameLivenessTimeoutClosesConnection(t *testing.T) {
	cfg := Config{
		ResponseTimeout:    400 * time.Millisecond,
		SupervisoryTimeout: 100 * time.Millisecond,
		TestTimeout:        300 * time.Millisecond,
		SendWindowSize:     12,
		ReceiveWindowSize:  8,
	}
	require.NoError(t, cfg.Validate())
	c, peer := newTestPair(t, cfg, true)
	defer peer.Close()

	probe := peerReadFrame(t, peer, time.Second)
	assert.Equal(t, uFrame{function: uTestFrAct}, probe)
	// Deliberately withhold TESTFR_CON: the response timeout must close
	// the connection.

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not close after test-frame timeout")
	}
	assert.Error(t, c.Err())
}

func TestTestFrameLivenessSurvivesConfirmation(t *testing.T) {
	cfg := Config{
		ResponseTimeout:    2 * time.Second,
		SupervisoryTimeout: 100 * time.Millisecond,
		TestTimeout:        300 * time.Millisecond,
		SendWindowSize:     12,
		ReceiveWindowSize:  8,
	}
	require.NoError(t, cfg.Validate())
	c, peer := newTestPair(t, cfg, true)
	defer peer.Close()

	probe := peerReadFrame(t, peer, time.Second)
	assert.Equal(t, uFrame{function: uTestFrAct}, probe)
	peerWrite(t, peer, uFrame{function: uTestFrCon})

	select {
	case <-c.Done():
		t.Fatal("connection closed despite confirmed test frame")
	case <-time.After(500 * time.Millisecond):
	}
}
