// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package apci

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateFillsZeroFieldsWithDefaults(t *testing.T) {
	var cfg Config
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestValidateRejectsSupervisoryNotLessThanResponse(t *testing.T) {
	cfg := Config{ResponseTimeout: 5 * time.Second, SupervisoryTimeout: 5 * time.Second}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsOutOfRangeWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendWindowSize = 40000
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsOutOfRangeTestTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TestTimeout = 49 * time.Hour
	assert.Error(t, cfg.Validate())
}
