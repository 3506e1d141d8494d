// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket is a serial-over-WebSocket bridge transport. Each binary or text
// message carries raw serial bytes.
type WebSocket struct {
	url         string
	username    string
	password    string
	skipVerify  bool
	dialTimeout time.Duration

	conn    *websocket.Conn
	broken  bool
	pending []byte
}

// NewWebSocket builds a bridge transport from cfg without dialing
func NewWebSocket(cfg Config) *WebSocket {
	cfg = cfg.WithDefaults()
	return &WebSocket{
		url:         cfg.URL,
		username:    cfg.Username,
		password:    cfg.Password,
		skipVerify:  cfg.SkipVerify,
		dialTimeout: cfg.DialTimeout,
	}
}

// Open dials the bridge with optional HTTP Basic auth. A broken connection
// is closed and redialed.
func (w *WebSocket) Open() error {
	if w.conn != nil {
		if !w.broken {
			return nil
		}
		w.conn.Close()
		w.conn = nil
	}

	u, err := url.Parse(w.url)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: w.dialTimeout}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: w.skipVerify}
	}

	headers := http.Header{}
	if w.username != "" && w.password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(w.username + ":" + w.password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.dialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, w.url, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("WebSocket connection failed: %w", err)
	}

	w.conn = conn
	w.broken = false
	w.pending = nil
	return nil
}

// Close closes the bridge connection
func (w *WebSocket) Close() error {
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	w.pending = nil
	return err
}

// IsOpen reports whether the bridge is usable. A failed or timed-out read
// leaves the connection unusable until reopened.
func (w *WebSocket) IsOpen() bool {
	return w.conn != nil && !w.broken
}

// Write sends p as one binary message
func (w *WebSocket) Write(p []byte) error {
	if !w.IsOpen() {
		return ErrNotOpen
	}
	w.pending = nil
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		w.broken = true
		return fmt.Errorf("failed to write to %s: %w", w.url, err)
	}
	return nil
}

// ReadUntil implements Transport
func (w *WebSocket) ReadUntil(terminator []byte, timeout time.Duration) ([]byte, error) {
	if !w.IsOpen() {
		return nil, ErrNotOpen
	}
	return readUntil(w, &w.pending, terminator, timeout)
}

func (w *WebSocket) readChunk(deadline time.Time) ([]byte, error) {
	if err := w.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.broken = true
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, fmt.Errorf("%s: %w", w.url, ErrConnectionClosed)
			}
			return nil, fmt.Errorf("failed to read from %s: %w", w.url, err)
		}
		if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}
