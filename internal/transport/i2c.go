// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"fmt"
	"io"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// DefaultI2CAddr is the sensor's address after power up.
const DefaultI2CAddr uint16 = 0x29

// DefaultMaxTransfer bounds a single bus transaction. Patch RAM reads are
// 512 bytes, more than many adapters accept in one go.
const DefaultMaxTransfer = 256

// I2C talks to the sensor over a periph I2C bus.
type I2C struct {
	mu          sync.Mutex
	dev         *i2c.Dev
	closer      io.Closer
	maxTransfer int
	closed      bool
}

// NewI2C wraps an already opened bus.
func NewI2C(bus i2c.Bus, addr uint16) *I2C {
	if addr == 0 {
		addr = DefaultI2CAddr
	}
	return &I2C{
		dev:         &i2c.Dev{Bus: bus, Addr: addr},
		maxTransfer: DefaultMaxTransfer,
	}
}

// OpenI2C initializes the periph host drivers and opens the named bus.
// An empty busName selects the first bus found.
func OpenI2C(busName string, addr uint16) (*I2C, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("i2c bus %q open: %w", busName, err)
	}

	t := NewI2C(bus, addr)
	t.closer = bus
	return t, nil
}

// SetMaxTransfer changes the per-transaction byte limit. Values below 1 are ignored.
func (t *I2C) SetMaxTransfer(n int) {
	if n < 1 {
		return
	}
	t.mu.Lock()
	t.maxTransfer = n
	t.mu.Unlock()
}

// ReadRegister implements Transport.
func (t *I2C) ReadRegister(addr uint16, n int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}

	buf := make([]byte, n)
	for off := 0; off < n; off += t.maxTransfer {
		end := min(off+t.maxTransfer, n)
		reg := addr + uint16(off)
		if err := t.dev.Tx(index(reg), buf[off:end]); err != nil {
			return nil, fmt.Errorf("i2c read 0x%04X (%d bytes): %w", reg, end-off, err)
		}
	}
	return buf, nil
}

// WriteRegister implements Transport.
func (t *I2C) WriteRegister(addr uint16, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	for off := 0; off < len(data); off += t.maxTransfer {
		end := min(off+t.maxTransfer, len(data))
		reg := addr + uint16(off)
		w := append(index(reg), data[off:end]...)
		if err := t.dev.Tx(w, nil); err != nil {
			return fmt.Errorf("i2c write 0x%04X (%d bytes): %w", reg, end-off, err)
		}
	}
	return nil
}

// Wait implements Transport.
func (t *I2C) Wait(d time.Duration) error {
	time.Sleep(d)
	return nil
}

// Close releases the bus if this transport opened it.
func (t *I2C) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

func (t *I2C) String() string {
	return t.dev.String()
}
