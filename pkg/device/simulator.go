// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"sync"

	"github.com/Thermoquad/labwire/pkg/protocol"
)

type echoArgument struct{}

// EchoArgument as a canned value makes the simulated command return its own
// validated argument.
var EchoArgument any = echoArgument{}

type cannedKind int

const (
	cannedNone cannedKind = iota
	cannedValue
	cannedPayload
)

type canned struct {
	kind    cannedKind
	value   any
	payload string
}

// Simulator holds canned replies keyed by command identity. Commands without
// a canned reply succeed with no value.
type Simulator struct {
	mu      sync.RWMutex
	replies map[*protocol.Command]canned
	calls   map[*protocol.Command]int
}

// NewSimulator creates a simulator with no canned replies
func NewSimulator() *Simulator {
	return &Simulator{
		replies: make(map[*protocol.Command]canned),
		calls:   make(map[*protocol.Command]int),
	}
}

// SetValue makes c return v verbatim
func (s *Simulator) SetValue(c *protocol.Command, v any) *Simulator {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[c] = canned{kind: cannedValue, value: v}
	return s
}

// SetPayload makes c answer with an unframed reply payload, decoded through
// the dialect's status and reply decoders like a real reply.
func (s *Simulator) SetPayload(c *protocol.Command, payload string) *Simulator {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[c] = canned{kind: cannedPayload, payload: payload}
	return s
}

// Clear removes the canned reply for c
func (s *Simulator) Clear(c *protocol.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.replies, c)
}

// Calls returns how many validated sends of c were simulated
func (s *Simulator) Calls(c *protocol.Command) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[c]
}

func (s *Simulator) lookup(c *protocol.Command) (any, string, cannedKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[c]++
	r := s.replies[c]
	return r.value, r.payload, r.kind
}
