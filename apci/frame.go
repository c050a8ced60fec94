// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

// Package apci implements the Application Protocol Control Information
// layer of IEC 60870-5-104: the TCP-framed APDU transport used by SCADA
// telecontrol systems. It multiplexes opaque user payloads (ASDUs, left to
// a caller-supplied codec) over a single TCP stream while enforcing the
// protocol's sliding-window flow control, periodic liveness testing, and
// the STARTDT/STOPDT enable/disable lifecycle.
package apci

import (
	"fmt"
)

const startByte = 0x68

// seqMod is the modulus of the 15-bit sequence-number space (§3).
const seqMod = 0x8000

// maxASDULen bounds the ASDU portion of an I-frame: the length octet
// (control fields + ASDU) cannot exceed 253, and the control fields
// themselves are always 4 bytes.
const maxASDULen = 253 - 4

// U-frame function codes (§6). Each is a full control-field-1 byte: the
// low two bits (0b11) mark the frame as unnumbered, the remaining bits
// select one of the six defined functions.
type uFunction byte

const (
	uStartDtAct uFunction = 0x07
	uStartDtCon uFunction = 0x0B
	uStopDtAct  uFunction = 0x13
	uStopDtCon  uFunction = 0x23
	uTestFrAct  uFunction = 0x43
	uTestFrCon  uFunction = 0x83
)

func (f uFunction) String() string {
	switch f {
	case uStartDtAct:
		return "STARTDT_ACT"
	case uStartDtCon:
		return "STARTDT_CON"
	case uStopDtAct:
		return "STOPDT_ACT"
	case uStopDtCon:
		return "STOPDT_CON"
	case uTestFrAct:
		return "TESTFR_ACT"
	case uTestFrCon:
		return "TESTFR_CON"
	default:
		return fmt.Sprintf("U(0x%02x)", byte(f))
	}
}

// apdu is the decoded form of one APDU: exactly one of iFrame, sFrame, or
// uFrame. The core never interprets the payload bytes inside an iFrame —
// they are opaque ASDU bytes handed to/from the caller.
type apdu interface {
	isAPDU()
}

type iFrame struct {
	sendSN  uint16
	recvSN  uint16
	payload []byte
}

type sFrame struct {
	recvSN uint16
}

type uFrame struct {
	function uFunction
}

func (iFrame) isAPDU() {}
func (sFrame) isAPDU() {}
func (uFrame) isAPDU() {}

// nextAPDUSize returns the total byte length of the APDU that begins with
// prefix, so an incremental reader can ask "how many more bytes do I need"
// after zero, one, or more bytes have arrived. It converges to an exact
// answer once the start byte and length octet are both available.
func nextAPDUSize(prefix []byte) (int, error) {
	if len(prefix) < 2 {
		return 2, nil
	}
	if prefix[0] != startByte {
		return 0, fmt.Errorf("apci: invalid start byte 0x%02x, want 0x%02x", prefix[0], startByte)
	}
	return int(prefix[1]) + 2, nil
}

// decode parses one complete APDU (start byte, length octet, four control
// octets, and — for I-frames — the ASDU bytes that follow).
func decode(b []byte) (apdu, error) {
	if len(b) < 6 {
		return nil, fmt.Errorf("apci: frame too short (%d bytes)", len(b))
	}
	if b[0] != startByte {
		return nil, fmt.Errorf("apci: invalid start byte 0x%02x", b[0])
	}
	length := int(b[1])
	if len(b) != length+2 {
		return nil, fmt.Errorf("apci: length octet %d does not match frame size %d", length, len(b))
	}

	c1, c2, c3, c4 := b[2], b[3], b[4], b[5]
	switch {
	case c1&0x01 == 0:
		return iFrame{
			sendSN:  uint16(c1)>>1 | uint16(c2)<<7,
			recvSN:  uint16(c3)>>1 | uint16(c4)<<7,
			payload: append([]byte(nil), b[6:]...),
		}, nil

	case c1&0x03 == 0x01:
		if len(b) != 6 {
			return nil, fmt.Errorf("apci: S-frame carries unexpected trailing bytes")
		}
		return sFrame{recvSN: uint16(c3)>>1 | uint16(c4)<<7}, nil

	case c1&0x03 == 0x03:
		if len(b) != 6 || c2 != 0 || c3 != 0 || c4 != 0 {
			return nil, fmt.Errorf("apci: malformed U-frame")
		}
		fn := uFunction(c1)
		switch fn {
		case uStartDtAct, uStartDtCon, uStopDtAct, uStopDtCon, uTestFrAct, uTestFrCon:
			return uFrame{function: fn}, nil
		default:
			return nil, fmt.Errorf("apci: unknown U-frame function 0x%02x", c1)
		}

	default:
		return nil, fmt.Errorf("apci: unreachable frame type byte 0x%02x", c1)
	}
}

// encode emits the wire bytes for a.
func encode(a apdu) []byte {
	switch f := a.(type) {
	case iFrame:
		b := make([]byte, 6+len(f.payload))
		b[0] = startByte
		b[1] = byte(4 + len(f.payload))
		b[2] = byte(f.sendSN << 1)
		b[3] = byte(f.sendSN >> 7)
		b[4] = byte(f.recvSN << 1)
		b[5] = byte(f.recvSN >> 7)
		copy(b[6:], f.payload)
		return b

	case sFrame:
		return []byte{startByte, 4, 0x01, 0x00, byte(f.recvSN << 1), byte(f.recvSN >> 7)}

	case uFrame:
		return []byte{startByte, 4, byte(f.function), 0x00, 0x00, 0x00}

	default:
		panic(fmt.Sprintf("apci: encode of unknown apdu type %T", a))
	}
}

// seqAdd advances a 15-bit sequence number by delta, wrapping modulo 2^15.
func seqAdd(n uint16, delta uint16) uint16 {
	return (n + delta) % seqMod
}

// seqDistance returns the forward modular distance from a to b, i.e. the
// number of increments needed to walk a up to b within the 15-bit space.
func seqDistance(a, b uint16) uint16 {
	return (b - a) % seqMod
}
