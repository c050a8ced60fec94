// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package apci

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectListenHandshakeAndDataTransfer(t *testing.T) {
	accepted := make(chan *Connection, 1)
	ln, err := Listen("127.0.0.1:0", func(c *Connection) {
		accepted <- c
	})
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := Connect(ctx, addr)
	require.NoError(t, err)
	defer client.Close()

	assert.True(t, client.IsEnabled())

	var server *Connection
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never produced a connection")
	}

	// The server side only becomes enabled once it has processed
	// STARTDT_ACT; give the handshake a moment to finish on that side too.
	require.Eventually(t, server.IsEnabled, time.Second, 10*time.Millisecond)

	require.NoError(t, client.Send([]byte("hello")))
	payload, err := server.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), payload)

	require.NoError(t, server.Send([]byte("world")))
	reply, err := client.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), reply)
}

func TestListenerCloseTearsDownAcceptedConnections(t *testing.T) {
	accepted := make(chan *Connection, 1)
	ln, err := Listen("127.0.0.1:0", func(c *Connection) { accepted <- c })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := Connect(ctx, ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	var server *Connection
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never produced a connection")
	}

	require.NoError(t, ln.Close())

	select {
	case <-server.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("accepted connection did not close when listener closed")
	}
}
