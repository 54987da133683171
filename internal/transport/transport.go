// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package transport moves bytes between the calibration core and a sensor's
// 16-bit register space.
//
// Implementations do not retry. A failed transfer is reported once and the
// caller decides what to do with it.
package transport

import (
	"errors"
	"time"
)

// Transport is the register access primitive set consumed by the calibration core.
type Transport interface {
	// ReadRegister reads n consecutive bytes starting at addr.
	ReadRegister(addr uint16, n int) ([]byte, error)
	// WriteRegister writes data starting at addr.
	WriteRegister(addr uint16, data []byte) error
	// Wait blocks for d. Simulated transports advance a virtual clock instead.
	Wait(d time.Duration) error
}

// ErrClosed is returned by transports used after Close.
var ErrClosed = errors.New("transport closed")

// index encodes a register address the way the sensor expects it on the wire.
func index(addr uint16) []byte {
	return []byte{byte(addr >> 8), byte(addr)}
}
