// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Shared is a transport bound by one or more sessions. Its lock serializes
// whole request/reply exchanges so frames from different sessions on the
// same bus never interleave.
type Shared struct {
	endpoint string
	log      logrus.FieldLogger

	mu        sync.Mutex
	transport Transport
	gap       time.Duration
	lastWrite time.Time
}

// Endpoint returns the identifier the transport is registered under
func (s *Shared) Endpoint() string {
	return s.endpoint
}

// IsOpen reports whether the underlying transport is open
func (s *Shared) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport.IsOpen()
}

// SetCommandGap raises the minimum pause between commands to at least d
func (s *Shared) SetCommandGap(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > s.gap {
		s.gap = d
	}
}

// Exchange writes frame and reads one reply ending in terminator
func (s *Shared) Exchange(frame, terminator []byte, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(frame); err != nil {
		return nil, err
	}
	return s.transport.ReadUntil(terminator, timeout)
}

// Send writes frame without waiting for a reply
func (s *Shared) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(frame)
}

func (s *Shared) write(frame []byte) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if s.gap > 0 && !s.lastWrite.IsZero() {
		if wait := s.gap - time.Since(s.lastWrite); wait > 0 {
			time.Sleep(wait)
		}
	}
	s.lastWrite = time.Now()
	return s.transport.Write(frame)
}

// ensureOpen reopens a transport left unusable by an earlier failure, such
// as a bridge whose read timed out. Callers hold s.mu.
func (s *Shared) ensureOpen() error {
	if s.transport.IsOpen() {
		return nil
	}
	if err := s.transport.Open(); err != nil {
		return fmt.Errorf("%w: reopening %s: %v", ErrNotOpen, s.endpoint, err)
	}
	s.lastWrite = time.Time{}
	s.log.WithField("endpoint", s.endpoint).Info("Reopened transport")
	return nil
}

type registryEntry struct {
	shared *Shared
	refs   int
}

// Registry tracks one shared transport per endpoint and the number of
// sessions bound to it. The transport is closed when the last session
// unbinds.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	log     logrus.FieldLogger
}

// NewRegistry creates an empty registry
func NewRegistry(log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		entries: make(map[string]*registryEntry),
		log:     log,
	}
}

// DefaultRegistry is the process-wide registry used by sessions unless one
// is supplied explicitly.
var DefaultRegistry = NewRegistry(nil)

// Bind returns the shared transport for endpoint, creating and opening it
// with factory on first use, and takes a reference. A registered transport
// that has stopped being usable is reopened before the reference is taken.
func (r *Registry) Bind(endpoint string, factory Factory) (*Shared, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[endpoint]; ok {
		e.shared.mu.Lock()
		err := e.shared.ensureOpen()
		e.shared.mu.Unlock()
		if err != nil {
			return nil, err
		}
		e.refs++
		r.log.WithFields(logrus.Fields{"endpoint": endpoint, "refs": e.refs}).Debug("Bound to shared transport")
		return e.shared, nil
	}

	t, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create transport for %s: %w", endpoint, err)
	}
	if err := t.Open(); err != nil {
		return nil, err
	}

	shared := &Shared{endpoint: endpoint, log: r.log, transport: t}
	r.entries[endpoint] = &registryEntry{shared: shared, refs: 1}
	r.log.WithField("endpoint", endpoint).Info("Opened transport")
	return shared, nil
}

// Unbind drops a reference to endpoint and closes the transport when none
// remain. The entry is removed even if closing fails.
func (r *Registry) Unbind(endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[endpoint]
	if !ok {
		return fmt.Errorf("endpoint %s is not bound", endpoint)
	}
	e.refs--
	if e.refs > 0 {
		r.log.WithFields(logrus.Fields{"endpoint": endpoint, "refs": e.refs}).Debug("Released shared transport")
		return nil
	}

	delete(r.entries, endpoint)
	e.shared.mu.Lock()
	err := e.shared.transport.Close()
	e.shared.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", endpoint, err)
	}
	r.log.WithField("endpoint", endpoint).Info("Closed transport")
	return nil
}

// RefCount returns the number of sessions bound to endpoint
func (r *Registry) RefCount(endpoint string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[endpoint]; ok {
		return e.refs
	}
	return 0
}

// Endpoints returns the bound endpoints in sorted order
func (r *Registry) Endpoints() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for ep := range r.entries {
		out = append(out, ep)
	}
	sort.Strings(out)
	return out
}
