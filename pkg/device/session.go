// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package device binds a protocol dialect to a transport. A Session owns one
// logical instrument's framing and status, sends validated commands through
// a shared transport (or a Simulator), and polls the instrument for
// readiness before motion commands.
package device

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/labwire/pkg/protocol"
	"github.com/Thermoquad/labwire/pkg/transport"
)

// Readiness polling defaults
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultPollAttempts = 120
)

// Session is one driver instance's protocol state. It is meant to be driven
// from one goroutine; sessions sharing a bus may run concurrently.
type Session struct {
	name        string
	dialect     *protocol.Dialect
	framing     protocol.Framing
	conn        transport.Config
	endpoint    string
	factory     transport.Factory
	registry    *transport.Registry
	sim         *Simulator
	log         logrus.FieldLogger
	metrics     *Metrics
	readTimeout time.Duration

	pollInterval time.Duration
	pollAttempts int
	pollOnce     sync.Once
	poller       *Poller

	mu         sync.Mutex
	shared     *transport.Shared
	lastStatus protocol.Status
	autorun    bool
	stats      Statistics
	tasks      []*Task
}

// Option configures a Session
type Option func(*Session)

// WithRegistry binds through reg instead of transport.DefaultRegistry
func WithRegistry(reg *transport.Registry) Option {
	return func(s *Session) { s.registry = reg }
}

// WithFactory overrides the transport factory derived from the config
func WithFactory(f transport.Factory) Option {
	return func(s *Session) { s.factory = f }
}

// WithLogger sets the session logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Session) { s.log = log }
}

// WithMetrics records exchanges in m
func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithSimulation enables simulation mode. The transport is never touched.
func WithSimulation(sim *Simulator) Option {
	return func(s *Session) {
		if sim == nil {
			sim = NewSimulator()
		}
		s.sim = sim
	}
}

// WithCommandPrefix overrides the dialect's command prefix, e.g. to address
// one pump on a shared bus.
func WithCommandPrefix(prefix string) Option {
	return func(s *Session) { s.framing.CommandPrefix = prefix }
}

// WithPolling sets the readiness poll interval and attempt budget
func WithPolling(interval time.Duration, attempts int) Option {
	return func(s *Session) {
		s.pollInterval = interval
		s.pollAttempts = attempts
	}
}

// New creates a disconnected session for dialect d on the given connection
func New(name string, d *protocol.Dialect, conn transport.Config, opts ...Option) *Session {
	conn = conn.WithDefaults()
	s := &Session{
		name:         name,
		dialect:      d,
		framing:      d.Framing,
		conn:         conn,
		endpoint:     conn.Endpoint(),
		factory:      conn.Factory(),
		registry:     transport.DefaultRegistry,
		readTimeout:  conn.ReadTimeout,
		pollInterval: DefaultPollInterval,
		pollAttempts: DefaultPollAttempts,
		autorun:      true,
		stats:        NewStatistics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	s.log = s.log.WithFields(logrus.Fields{
		"device":   name,
		"dialect":  d.Name,
		"endpoint": s.endpoint,
	})
	return s
}

// Name returns the session name
func (s *Session) Name() string { return s.name }

// Dialect returns the session's dialect
func (s *Session) Dialect() *protocol.Dialect { return s.dialect }

// Framing returns the session's framing
func (s *Session) Framing() protocol.Framing { return s.framing }

// Endpoint returns the transport endpoint identifier
func (s *Session) Endpoint() string { return s.endpoint }

// Logger returns the session logger with its device fields
func (s *Session) Logger() logrus.FieldLogger { return s.log }

// Simulated reports whether simulation mode is enabled
func (s *Session) Simulated() bool { return s.sim != nil }

// Simulator returns the simulator, or nil outside simulation mode
func (s *Session) Simulator() *Simulator { return s.sim }

// Connect binds the session to its endpoint's shared transport
func (s *Session) Connect() error {
	if s.sim != nil {
		s.log.Info("Simulation mode enabled, transport not opened")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shared != nil {
		return nil
	}

	shared, err := s.registry.Bind(s.endpoint, s.factory)
	if err != nil {
		return protocol.NewConnectionError("", s.endpoint, err)
	}
	shared.SetCommandGap(s.conn.CommandGap)
	s.shared = shared
	s.log.WithField("refs", s.registry.RefCount(s.endpoint)).Info("Connected")
	return nil
}

// Disconnect stops the session's background tasks and releases its
// reference on the shared transport
func (s *Session) Disconnect() error {
	s.StopTasks()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shared == nil {
		return nil
	}
	s.shared = nil
	if err := s.registry.Unbind(s.endpoint); err != nil {
		return protocol.NewConnectionError("", s.endpoint, err)
	}
	s.log.Info("Disconnected")
	return nil
}

// IsConnected reports whether commands can reach the device
func (s *Session) IsConnected() bool {
	if s.sim != nil {
		return true
	}
	s.mu.Lock()
	shared := s.shared
	s.mu.Unlock()
	return shared != nil && shared.IsOpen()
}

// LastStatus returns the most recent status indicator received
func (s *Session) LastStatus() protocol.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStatus
}

// SetAutorun controls whether commands carry the framing's exec suffix.
// With autorun off, commands are queued on the device until a run command.
func (s *Session) SetAutorun(on bool) {
	s.mu.Lock()
	s.autorun = on
	s.mu.Unlock()
}

// Autorun reports whether commands are executed immediately
func (s *Session) Autorun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autorun
}

// Stats returns a copy of the session's exchange statistics
func (s *Session) Stats() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.CalculateRates()
	return st
}

// Call sends the named command of the session's dialect
func (s *Session) Call(name string, arg any) (any, error) {
	c, err := s.dialect.Command(name)
	if err != nil {
		return nil, err
	}
	return s.Send(c, arg)
}

// Send validates arg, sends c and returns the decoded reply value. Commands
// without an argument take a nil arg. Exchanges are attempted once.
func (s *Session) Send(c *protocol.Command, arg any) (any, error) {
	start := time.Now()
	v, err := s.send(c, arg)
	elapsed := time.Since(start)

	s.mu.Lock()
	s.stats.Update(err)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ObserveCommand(s.dialect.Name, c.Name, s.sim != nil, err, elapsed)
	}
	if err != nil {
		s.log.WithError(err).WithField("command", c.Name).Debug("Command failed")
	}
	return v, err
}

func (s *Session) send(c *protocol.Command, arg any) (any, error) {
	value, err := protocol.Validate(c, arg)
	if err != nil {
		return nil, err
	}
	if s.sim != nil {
		return s.simulate(c, value)
	}

	var frame []byte
	if s.Autorun() {
		frame, err = s.framing.Encode(c, value)
	} else {
		frame, err = s.framing.EncodeQueued(c, value)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	shared := s.shared
	s.mu.Unlock()
	if shared == nil {
		return nil, protocol.NewConnectionError(c.Name, s.endpoint, transport.ErrNotOpen)
	}

	s.log.WithField("frame", fmt.Sprintf("%q", frame)).Debug("TX")
	if !s.dialect.ExpectsReply(c) {
		if err := shared.Send(frame); err != nil {
			return nil, protocol.NewConnectionError(c.Name, s.endpoint, err)
		}
		return nil, nil
	}

	raw, err := shared.Exchange(frame, s.framing.Terminator(), s.readTimeout)
	if err != nil {
		if c.Readback && errors.Is(err, transport.ErrReadTimeout) {
			return nil, protocol.NoEcho(c.Name, err)
		}
		return nil, protocol.NewConnectionError(c.Name, s.endpoint, err)
	}
	s.log.WithField("frame", fmt.Sprintf("%q", raw)).Debug("RX")

	reply, err := s.dialect.Decode(s.framing, c, raw)
	s.noteStatus(reply.Status)
	if err != nil {
		return nil, err
	}
	if err := protocol.CheckReadback(c, value, reply.Value); err != nil {
		return nil, err
	}
	return reply.Value, nil
}

func (s *Session) simulate(c *protocol.Command, value any) (any, error) {
	s.log.WithFields(logrus.Fields{"command": c.Name, "arg": value}).Debug("SIM")

	canned, payload, kind := s.sim.lookup(c)
	switch kind {
	case cannedValue:
		if _, echo := canned.(echoArgument); echo {
			return value, nil
		}
		return canned, nil
	case cannedPayload:
		return s.decodeSimulated(c, payload)
	}

	if s.dialect.SimulatedReady != "" && s.dialect.Commands[s.dialect.ReadyCommand] == c {
		return s.decodeSimulated(c, s.dialect.SimulatedReady)
	}
	return nil, nil
}

func (s *Session) decodeSimulated(c *protocol.Command, payload string) (any, error) {
	reply, err := s.dialect.DecodePayload(c, payload)
	s.noteStatus(reply.Status)
	if err != nil {
		return nil, err
	}
	return reply.Value, nil
}

func (s *Session) noteStatus(st protocol.Status) {
	if st.Raw == "" {
		return
	}
	s.mu.Lock()
	s.lastStatus = st
	s.mu.Unlock()
}

// IsIdle sends the dialect's ready command and applies its idle rule
func (s *Session) IsIdle() (bool, error) {
	if s.dialect.ReadyCommand == "" || s.dialect.Idle == nil {
		return false, fmt.Errorf("dialect %s has no readiness check", s.dialect.Name)
	}
	v, err := s.Call(s.dialect.ReadyCommand, nil)
	if err != nil {
		return false, err
	}
	return s.dialect.Idle.Idle(s.LastStatus(), v), nil
}

// StartTask runs fn every interval in the background until the task is
// stopped or the session disconnects
func (s *Session) StartTask(name string, interval time.Duration, fn TaskFunc) (*Task, error) {
	t, err := NewTask(name, interval, fn, s.log)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()
	return t, nil
}

// StopTask stops t and forgets it. With a nil t the only running task is
// stopped.
func (s *Session) StopTask(t *Task) error {
	s.mu.Lock()
	if t == nil {
		if len(s.tasks) != 1 {
			n := len(s.tasks)
			s.mu.Unlock()
			return fmt.Errorf("%d tasks running, name the one to stop", n)
		}
		t = s.tasks[0]
	}
	i := slices.Index(s.tasks, t)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("task %s is not running on %s", t.Name(), s.name)
	}
	s.tasks = slices.Delete(s.tasks, i, i+1)
	s.mu.Unlock()

	// Runs may call back into the session, so wait without holding s.mu
	t.Stop()
	return nil
}

// StopTasks stops every background task of the session
func (s *Session) StopTasks() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()

	for _, t := range tasks {
		t.Stop()
	}
}

// Tasks returns the running background tasks
func (s *Session) Tasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tasks)
}

// CheckErrors queries the dialect's error flags. Set flags are returned
// as one device fault error.
func (s *Session) CheckErrors() error {
	if s.dialect.ErrorQuery == "" || s.dialect.ErrorFlags == nil {
		return fmt.Errorf("dialect %s has no error query", s.dialect.Name)
	}
	flags, err := Query[string](s, s.dialect.ErrorQuery, nil)
	if err != nil {
		return err
	}
	if flags == "" && s.sim != nil {
		return nil
	}
	return s.dialect.ErrorFlags.Err(s.dialect.ErrorQuery, flags)
}

// Poller returns the session's readiness poller
func (s *Session) Poller() *Poller {
	s.pollOnce.Do(func() {
		s.poller = NewPoller(s.IsIdle, s.pollInterval, s.pollAttempts, s.log)
		if s.metrics != nil {
			s.poller.observe = func(st State) { s.metrics.ObservePoll(s.dialect.Name, st) }
		}
	})
	return s.poller
}

// WaitUntilReady blocks until the device reports idle
func (s *Session) WaitUntilReady() error {
	return s.Poller().WaitUntilReady()
}

// ExecuteWhenReady waits for the device to become idle, then runs op once
func (s *Session) ExecuteWhenReady(op func() error) error {
	return s.Poller().ExecuteWhenReady(op)
}

// Query calls the named command and asserts the reply type
func Query[T any](s *Session, name string, arg any) (T, error) {
	var zero T
	v, err := s.Call(name, arg)
	if err != nil || v == nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, &protocol.Error{
			Kind:    protocol.KindReply,
			Command: name,
			Message: fmt.Sprintf("reply is %T, not %T", v, zero),
		}
	}
	return t, nil
}
