// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package apci

import (
	"errors"
	"time"
)

// Port is the IANA registered port for unsecured IEC 60870-5-104.
const Port = 2404

// timeoutResolution is the granularity at which the core loop sweeps
// response/supervisory/test deadlines. IEC 60870-5-104 specifies its
// timeouts in whole seconds; a sub-second tick keeps S-frame replies and
// TESTFR probes responsive without one timer object per outstanding frame.
const timeoutResolution = 100 * time.Millisecond

// Config bounds and defaults for the five parameters named in §3: t1, t2,
// t3, k, and w. The zero value of each field is replaced by its default in
// Validate.
type Config struct {
	// ResponseTimeout ("t1") bounds how long an outstanding I-frame or
	// ACT-variant U-frame may go unacknowledged before the connection is
	// closed. Must be positive and at most 255s, default 15s.
	ResponseTimeout time.Duration

	// SupervisoryTimeout ("t2") bounds how long an accepted I-frame may go
	// unacknowledged before a standalone S-frame is emitted. Must be
	// smaller than ResponseTimeout. Must be positive and at most 255s,
	// default 10s.
	SupervisoryTimeout time.Duration

	// TestTimeout ("t3") is the idle period after which a TESTFR_ACT probe
	// is issued. Must be positive and at most 48h, default 20s.
	TestTimeout time.Duration

	// SendWindowSize ("k") caps the number of unacknowledged outbound
	// I-frames. Range [1, 32767], default 12.
	SendWindowSize uint16

	// ReceiveWindowSize ("w") caps the number of unacknowledged inbound
	// I-frames before an S-frame must be emitted. Range [1, 32767],
	// default 8.
	ReceiveWindowSize uint16
}

// Timeouts only need to be positive; a value below timeoutResolution is
// honoured at timeoutResolution granularity.
const (
	responseTimeoutMin    = time.Nanosecond
	responseTimeoutMax    = 255 * time.Second
	supervisoryTimeoutMin = time.Nanosecond
	supervisoryTimeoutMax = 255 * time.Second
	testTimeoutMin        = time.Nanosecond
	testTimeoutMax        = 48 * time.Hour
	windowSizeMin         = 1
	windowSizeMax         = 32767
)

// DefaultConfig returns the configuration named by §3: t1=15s, t2=10s,
// t3=20s, k=12, w=8.
func DefaultConfig() Config {
	return Config{
		ResponseTimeout:    15 * time.Second,
		SupervisoryTimeout: 10 * time.Second,
		TestTimeout:        20 * time.Second,
		SendWindowSize:     12,
		ReceiveWindowSize:  8,
	}
}

// Validate fills unset (zero) fields with their default and rejects
// out-of-range or inconsistent values. It is called automatically by
// Connect and Listen; callers constructing a Config by hand may call it
// directly to fail fast.
func (c *Config) Validate() error {
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = 15 * time.Second
	} else if c.ResponseTimeout < responseTimeoutMin || c.ResponseTimeout > responseTimeoutMax {
		return errors.New(`apci: ResponseTimeout "t1" must be positive and at most 255s`)
	}

	if c.SupervisoryTimeout == 0 {
		c.SupervisoryTimeout = 10 * time.Second
	} else if c.SupervisoryTimeout < supervisoryTimeoutMin || c.SupervisoryTimeout > supervisoryTimeoutMax {
		return errors.New(`apci: SupervisoryTimeout "t2" must be positive and at most 255s`)
	}

	if c.SupervisoryTimeout >= c.ResponseTimeout {
		return errors.New(`apci: SupervisoryTimeout "t2" must be less than ResponseTimeout "t1"`)
	}

	if c.TestTimeout == 0 {
		c.TestTimeout = 20 * time.Second
	} else if c.TestTimeout < testTimeoutMin || c.TestTimeout > testTimeoutMax {
		return errors.New(`apci: TestTimeout "t3" must be positive and at most 48h`)
	}

	if c.SendWindowSize == 0 {
		c.SendWindowSize = 12
	} else if c.SendWindowSize < windowSizeMin || c.SendWindowSize > windowSizeMax {
		return errors.New(`apci: SendWindowSize "k" not in [1, 32767]`)
	}

	if c.ReceiveWindowSize == 0 {
		c.ReceiveWindowSize = 8
	} else if c.ReceiveWindowSize < windowSizeMin || c.ReceiveWindowSize > windowSizeMax {
		return errors.New(`apci: ReceiveWindowSize "w" not in [1, 32767]`)
	}

	return nil
}
