// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
)

// Bench bridge frames. The bridge is a small MCU that forwards register access
// from a UART to the sensor's I2C port:
//
//	read:  'R' addrHi addrLo lenHi lenLo          -> status [data...]
//	write: 'W' addrHi addrLo lenHi lenLo data...  -> status
//
// status 0x00 means the I2C transaction was acknowledged.
const (
	bridgeRead  = 'R'
	bridgeWrite = 'W'
	bridgeOK    = 0x00

	// DefaultSerialBaud matches the bridge firmware default.
	DefaultSerialBaud = 115200
)

// BridgeError is a non-zero status returned by the bridge.
type BridgeError struct {
	Op     byte
	Addr   uint16
	Status byte
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("bridge %c 0x%04X: status 0x%02X", e.Op, e.Addr, e.Status)
}

// Serial talks to the sensor through a UART bridge.
type Serial struct {
	mu     sync.Mutex
	rw     io.ReadWriter
	closer io.Closer
	closed bool
	name   string
}

// NewSerial wraps an open stream. Tests pass an in-memory bridge here.
func NewSerial(rw io.ReadWriter) *Serial {
	return &Serial{rw: rw, name: "serial bridge"}
}

// OpenSerial opens the bridge on portName.
func OpenSerial(portName string, baud uint) (*Serial, error) {
	if baud == 0 {
		baud = DefaultSerialBaud
	}
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("serial bridge %s open: %w", portName, err)
	}

	s := NewSerial(port)
	s.closer = port
	s.name = fmt.Sprintf("serial bridge %s@%d", portName, baud)
	return s, nil
}

// ReadRegister implements Transport.
func (s *Serial) ReadRegister(addr uint16, n int) ([]byte, error) {
	if n < 0 || n > 0xFFFF {
		return nil, fmt.Errorf("serial bridge read 0x%04X: invalid length %d", addr, n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	if err := s.send(bridgeRead, addr, n, nil); err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(s.rw, buf); err != nil {
		return nil, fmt.Errorf("serial bridge read 0x%04X data: %w", addr, err)
	}
	return buf, nil
}

// WriteRegister implements Transport.
func (s *Serial) WriteRegister(addr uint16, data []byte) error {
	if len(data) > 0xFFFF {
		return fmt.Errorf("serial bridge write 0x%04X: invalid length %d", addr, len(data))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	return s.send(bridgeWrite, addr, len(data), data)
}

// send writes one frame and consumes the status byte.
func (s *Serial) send(op byte, addr uint16, n int, data []byte) error {
	frame := make([]byte, 5, 5+len(data))
	frame[0] = op
	binary.BigEndian.PutUint16(frame[1:3], addr)
	binary.BigEndian.PutUint16(frame[3:5], uint16(n))
	frame = append(frame, data...)

	if _, err := s.rw.Write(frame); err != nil {
		return fmt.Errorf("serial bridge %c 0x%04X send: %w", op, addr, err)
	}

	var status [1]byte
	if _, err := io.ReadFull(s.rw, status[:]); err != nil {
		return fmt.Errorf("serial bridge %c 0x%04X status: %w", op, addr, err)
	}
	if status[0] != bridgeOK {
		return &BridgeError{Op: op, Addr: addr, Status: status[0]}
	}
	return nil
}

// Wait implements Transport.
func (s *Serial) Wait(d time.Duration) error {
	time.Sleep(d)
	return nil
}

// Close closes the port if this transport opened it.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *Serial) String() string { return s.name }
