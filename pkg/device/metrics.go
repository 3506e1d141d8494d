// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Thermoquad/labwire/pkg/protocol"
)

// Metrics are the Prometheus collectors shared by sessions
type Metrics struct {
	Commands *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Polls    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labwire_commands_total",
				Help: "Commands sent, by dialect, command, mode and result",
			},
			[]string{"dialect", "command", "mode", "result"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "labwire_exchange_duration_seconds",
				Help:    "Duration of command exchanges",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"dialect", "mode"},
		),
		Polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labwire_ready_polls_total",
				Help: "Readiness poll observations, by dialect and state",
			},
			[]string{"dialect", "state"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Commands, m.Duration, m.Polls)
	}
	return m
}

// ObserveCommand records one command outcome
func (m *Metrics) ObserveCommand(dialect, command string, simulated bool, err error, elapsed time.Duration) {
	mode := "live"
	if simulated {
		mode = "sim"
	}
	m.Commands.WithLabelValues(dialect, command, mode, Result(err)).Inc()
	m.Duration.WithLabelValues(dialect, mode).Observe(elapsed.Seconds())
}

// ObservePoll records one readiness state observation
func (m *Metrics) ObservePoll(dialect string, st State) {
	m.Polls.WithLabelValues(dialect, st.String()).Inc()
}

// Result returns the metric label for a command error
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, protocol.ErrTimeout):
		return "timeout"
	case errors.Is(err, protocol.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, protocol.ErrConnection):
		return "connection"
	case errors.Is(err, protocol.ErrReply):
		return "reply"
	case errors.Is(err, protocol.ErrDeviceFault):
		return "device_fault"
	default:
		return "error"
	}
}
