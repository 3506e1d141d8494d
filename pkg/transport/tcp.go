// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// TCP is a raw socket transport, typically to a serial device server
type TCP struct {
	addr        string
	dialTimeout time.Duration
	conn        net.Conn
	pending     []byte
}

// NewTCP builds a TCP transport from cfg without connecting
func NewTCP(cfg Config) *TCP {
	cfg = cfg.WithDefaults()
	return &TCP{
		addr:        net.JoinHostPort(cfg.Address, cfg.Port),
		dialTimeout: cfg.DialTimeout,
	}
}

// Open dials the endpoint
func (t *TCP) Open() error {
	if t.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", t.addr, t.dialTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", t.addr, err)
	}
	t.conn = conn
	return nil
}

// Close closes the socket
func (t *TCP) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.pending = nil
	return err
}

// IsOpen reports whether the socket is connected
func (t *TCP) IsOpen() bool {
	return t.conn != nil
}

// Write writes p in full
func (t *TCP) Write(p []byte) error {
	if t.conn == nil {
		return ErrNotOpen
	}
	t.pending = nil
	if _, err := t.conn.Write(p); err != nil {
		return fmt.Errorf("failed to write to %s: %w", t.addr, err)
	}
	return nil
}

// ReadUntil implements Transport
func (t *TCP) ReadUntil(terminator []byte, timeout time.Duration) ([]byte, error) {
	if t.conn == nil {
		return nil, ErrNotOpen
	}
	return readUntil(t, &t.pending, terminator, timeout)
}

func (t *TCP) readChunk(deadline time.Time) ([]byte, error) {
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline on %s: %w", t.addr, err)
	}
	buf := make([]byte, 512)
	n, err := t.conn.Read(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return buf[:n], nil
		}
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: %w", t.addr, ErrConnectionClosed)
		}
		return nil, fmt.Errorf("failed to read from %s: %w", t.addr, err)
	}
	return buf[:n], nil
}
