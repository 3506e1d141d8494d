// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

// openPort is swapped out in tests
var openPort = serial.Open

// Serial is a serial port transport
type Serial struct {
	name    string
	mode    *serial.Mode
	port    serial.Port
	pending []byte
}

// NewSerial builds a serial transport from cfg without opening it
func NewSerial(cfg Config) (*Serial, error) {
	cfg = cfg.WithDefaults()
	mode, err := serialMode(cfg)
	if err != nil {
		return nil, err
	}
	return &Serial{name: cfg.Port, mode: mode}, nil
}

func serialMode(cfg Config) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.ByteSize,
	}

	switch strings.ToUpper(cfg.Parity) {
	case "", "N", "NONE":
		mode.Parity = serial.NoParity
	case "E", "EVEN":
		mode.Parity = serial.EvenParity
	case "O", "ODD":
		mode.Parity = serial.OddParity
	case "M", "MARK":
		mode.Parity = serial.MarkParity
	case "S", "SPACE":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("invalid parity %q", cfg.Parity)
	}

	switch cfg.StopBits {
	case "", "1":
		mode.StopBits = serial.OneStopBit
	case "1.5":
		mode.StopBits = serial.OnePointFiveStopBits
	case "2":
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits %q", cfg.StopBits)
	}

	if mode.DataBits < 5 || mode.DataBits > 8 {
		return nil, fmt.Errorf("invalid byte size %d", mode.DataBits)
	}
	return mode, nil
}

// Open opens the port
func (s *Serial) Open() error {
	if s.port != nil {
		return nil
	}
	port, err := openPort(s.name, s.mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.name, err)
	}
	s.port = port
	return nil
}

// Close closes the port
func (s *Serial) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	s.pending = nil
	return err
}

// IsOpen reports whether the port is open
func (s *Serial) IsOpen() bool {
	return s.port != nil
}

// Write discards unread input and writes p. Replies arrive only in response
// to a command, so anything still buffered belongs to an earlier exchange.
func (s *Serial) Write(p []byte) error {
	if s.port == nil {
		return ErrNotOpen
	}
	s.pending = nil
	if err := s.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", s.name, err)
	}
	if _, err := s.port.Write(p); err != nil {
		return fmt.Errorf("failed to write to %s: %w", s.name, err)
	}
	return nil
}

// ReadUntil implements Transport
func (s *Serial) ReadUntil(terminator []byte, timeout time.Duration) ([]byte, error) {
	if s.port == nil {
		return nil, ErrNotOpen
	}
	return readUntil(s, &s.pending, terminator, timeout)
}

func (s *Serial) readChunk(deadline time.Time) ([]byte, error) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return nil, nil
	}
	if err := s.port.SetReadTimeout(remaining); err != nil {
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", s.name, err)
	}
	buf := make([]byte, 256)
	n, err := s.port.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read from %s: %w", s.name, err)
	}
	return buf[:n], nil
}
