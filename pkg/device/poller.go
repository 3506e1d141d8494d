// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/labwire/pkg/protocol"
)

// State is the readiness state observed by a Poller
type State int

const (
	StateIdle State = iota
	StateBusy
	StateErrored
	StateDisconnected
)

// String returns the human-readable name for a state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateBusy:
		return "BUSY"
	case StateErrored:
		return "ERRORED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IdleCheck queries the device once and reports whether it is idle
type IdleCheck func() (bool, error)

// Poller waits for a device to finish physical actions by polling an idle
// check at a fixed interval with a bounded number of attempts.
type Poller struct {
	check    IdleCheck
	interval time.Duration
	attempts int
	log      logrus.FieldLogger
	sleep    func(time.Duration)
	observe  func(State)

	mu    sync.Mutex
	state State
}

// NewPoller creates a poller. attempts below 1 is treated as 1.
func NewPoller(check IdleCheck, interval time.Duration, attempts int, log logrus.FieldLogger) *Poller {
	if attempts < 1 {
		attempts = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Poller{
		check:    check,
		interval: interval,
		attempts: attempts,
		log:      log,
		sleep:    time.Sleep,
		state:    StateIdle,
	}
}

// State returns the last observed state
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	if p.observe != nil {
		p.observe(s)
	}
}

// WaitUntilReady polls until the device is idle. Connection failures count
// as a failed attempt; device faults and reply errors abort the wait. When
// the attempt budget runs out the error is a protocol timeout.
func (p *Poller) WaitUntilReady() error {
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		idle, err := p.check()
		switch {
		case err == nil && idle:
			p.setState(StateIdle)
			return nil
		case err == nil:
			p.setState(StateBusy)
		case errors.Is(err, protocol.ErrConnection):
			p.setState(StateDisconnected)
			lastErr = err
			p.log.WithError(err).WithField("attempt", attempt).Warn("Status query failed, retrying")
		default:
			p.setState(StateErrored)
			return err
		}

		if attempt < p.attempts {
			p.sleep(p.interval)
		}
	}

	return &protocol.Error{
		Kind:    protocol.KindTimeout,
		Message: fmt.Sprintf("device not ready after %d attempts at %s", p.attempts, p.interval),
		Details: map[string]interface{}{"attempts": p.attempts, "interval": p.interval},
		Err:     lastErr,
	}
}

// ExecuteWhenReady waits until the device is idle, then runs op once. A
// successful op is assumed to have started motion, so the state becomes
// busy.
func (p *Poller) ExecuteWhenReady(op func() error) error {
	if err := p.WaitUntilReady(); err != nil {
		return err
	}
	err := op()
	switch {
	case err == nil:
		p.setState(StateBusy)
	case errors.Is(err, protocol.ErrConnection):
		p.setState(StateDisconnected)
	case errors.Is(err, protocol.ErrDeviceFault), errors.Is(err, protocol.ErrReply):
		p.setState(StateErrored)
	}
	return err
}
