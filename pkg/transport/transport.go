// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport provides the byte-stream endpoints labwire sessions talk
// through (serial ports, TCP sockets and serial-over-WebSocket bridges), the
// process-wide registry that shares one open endpoint between several
// logical devices, and a CBOR exchange trace recorder.
package transport

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Transport is a half-duplex byte-stream endpoint. Implementations are not
// safe for concurrent use; Shared serializes access.
type Transport interface {
	Open() error
	Close() error
	IsOpen() bool
	Write(p []byte) error
	// ReadUntil blocks until terminator has been received or timeout
	// elapses, returning the frame including the terminator.
	ReadUntil(terminator []byte, timeout time.Duration) ([]byte, error)
}

var (
	// ErrReadTimeout is returned when no complete frame arrived in time
	ErrReadTimeout = errors.New("read timeout")
	// ErrNotOpen is returned by I/O on a transport that is not open
	ErrNotOpen = errors.New("transport not open")
	// ErrConnectionClosed is returned when the peer closed the connection
	ErrConnectionClosed = errors.New("connection closed")
)

// Mode selects the transport implementation
type Mode string

const (
	ModeSerial    Mode = "serial"
	ModeTCP       Mode = "tcp"
	ModeWebSocket Mode = "websocket"
)

// Config is the driver-facing connection configuration
type Config struct {
	Mode Mode `yaml:"mode"`
	// Port is the device path in serial mode and the port number in tcp mode
	Port    string `yaml:"port"`
	Address string `yaml:"address"`

	BaudRate int    `yaml:"baudrate"`
	ByteSize int    `yaml:"bytesize"`
	Parity   string `yaml:"parity"`
	StopBits string `yaml:"stopbits"`

	URL        string `yaml:"url"`
	Username   string `yaml:"username"`
	Password   string `yaml:"-"`
	SkipVerify bool   `yaml:"no_ssl_verify"`

	ReadTimeout time.Duration `yaml:"read_timeout"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	// CommandGap is the minimum pause between two commands on the endpoint
	CommandGap time.Duration `yaml:"command_gap"`
}

// Connection defaults
const (
	DefaultBaudRate    = 9600
	DefaultByteSize    = 8
	DefaultReadTimeout = time.Second
	DefaultDialTimeout = 5 * time.Second
)

// WithDefaults fills unset fields
func (c Config) WithDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeSerial
	}
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.ByteSize == 0 {
		c.ByteSize = DefaultByteSize
	}
	if c.Parity == "" {
		c.Parity = "N"
	}
	if c.StopBits == "" {
		c.StopBits = "1"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	return c
}

// Validate checks that the mode's required fields are present
func (c Config) Validate() error {
	switch c.Mode {
	case ModeSerial:
		if c.Port == "" {
			return fmt.Errorf("serial mode requires a port")
		}
		if _, err := serialMode(c); err != nil {
			return err
		}
	case ModeTCP:
		if c.Address == "" || c.Port == "" {
			return fmt.Errorf("tcp mode requires address and port")
		}
		if _, err := strconv.ParseUint(c.Port, 10, 16); err != nil {
			return fmt.Errorf("invalid tcp port %q", c.Port)
		}
	case ModeWebSocket:
		if c.URL == "" {
			return fmt.Errorf("websocket mode requires a url")
		}
	default:
		return fmt.Errorf("unknown connection mode %q", c.Mode)
	}
	return nil
}

// Endpoint returns the identifier sessions share a transport under: the
// device path, host:port or bridge URL.
func (c Config) Endpoint() string {
	switch c.Mode {
	case ModeTCP:
		return net.JoinHostPort(c.Address, c.Port)
	case ModeWebSocket:
		return c.URL
	default:
		return c.Port
	}
}

// Factory builds an unopened transport
type Factory func() (Transport, error)

// Factory returns a factory for the configured mode
func (c Config) Factory() Factory {
	return func() (Transport, error) {
		cfg := c.WithDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		switch cfg.Mode {
		case ModeSerial:
			return NewSerial(cfg)
		case ModeTCP:
			return NewTCP(cfg), nil
		default:
			return NewWebSocket(cfg), nil
		}
	}
}

// chunkSource reads whatever bytes are available before deadline. An empty
// chunk with a nil error means nothing arrived yet.
type chunkSource interface {
	readChunk(deadline time.Time) ([]byte, error)
}

// readUntil assembles a frame from src, keeping bytes after the terminator in
// pending for the next call. On timeout the partial frame is discarded.
func readUntil(src chunkSource, pending *[]byte, terminator []byte, timeout time.Duration) ([]byte, error) {
	if len(terminator) == 0 {
		return nil, fmt.Errorf("empty reply terminator")
	}
	deadline := time.Now().Add(timeout)

	for {
		if i := bytes.Index(*pending, terminator); i >= 0 {
			n := i + len(terminator)
			frame := append([]byte(nil), (*pending)[:n]...)
			*pending = append([]byte(nil), (*pending)[n:]...)
			return frame, nil
		}
		if !time.Now().Before(deadline) {
			partial := len(*pending)
			*pending = nil
			return nil, fmt.Errorf("%w after %s (%d bytes without terminator %q)", ErrReadTimeout, timeout, partial, terminator)
		}

		chunk, err := src.readChunk(deadline)
		if err != nil {
			return nil, err
		}
		*pending = append(*pending, chunk...)
	}
}
