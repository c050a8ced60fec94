// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package apci

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []apdu{
		iFrame{sendSN: 0, recvSN: 0, payload: []byte{0x01, 0x02, 0x03}},
		iFrame{sendSN: 0x7ffe, recvSN: 0x1234, payload: nil},
		sFrame{recvSN: 42},
		uFrame{function: uStartDtAct},
		uFrame{function: uTestFrCon},
	}

	for _, want := range cases {
		raw := encode(want)
		got, err := decode(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestNextAPDUSizeIncremental(t *testing.T) {
	raw := encode(iFrame{sendSN: 3, recvSN: 5, payload: []byte{0xAA, 0xBB}})

	size, err := nextAPDUSize(nil)
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	size, err = nextAPDUSize(raw[:1])
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	size, err = nextAPDUSize(raw[:2])
	require.NoError(t, err)
	assert.Equal(t, len(raw), size)
}

func TestNextAPDUSizeRejectsBadStartByte(t *testing.T) {
	_, err := nextAPDUSize([]byte{0x00, 0x04})
	assert.Error(t, err)
}

func TestDecodeRejectsUnknownUFunction(t *testing.T) {
	raw := []byte{startByte, 4, 0x63, 0x00, 0x00, 0x00}
	_, err := decode(raw)
	assert.Error(t, err)
}

func TestDecodeRejectsMalformedUFrame(t *testing.T) {
	raw := []byte{startByte, 4, byte(uStartDtAct), 0x01, 0x00, 0x00}
	_, err := decode(raw)
	assert.Error(t, err)
}

func TestDecodeRejectsSFrameTrailingBytes(t *testing.T) {
	raw := append(encode(sFrame{recvSN: 1}), 0x00)
	raw[1] = byte(len(raw) - 2)
	_, err := decode(raw)
	assert.Error(t, err)
}

func TestSeqArithmeticWrapsModulo(t *testing.T) {
	assert.Equal(t, uint16(0), seqAdd(0x7fff, 1))
	assert.Equal(t, uint16(2), seqDistance(0x7ffe, 0))
	assert.Equal(t, uint16(0), seqDistance(5, 5))
}
