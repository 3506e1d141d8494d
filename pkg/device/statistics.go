// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/labwire/pkg/protocol"
)

// Statistics tracks command outcomes and rates for one session
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalCommands    uint64
	Successful       uint64
	InvalidArguments uint64
	ConnectionErrors uint64
	ReplyErrors      uint64
	DeviceFaults     uint64
	Timeouts         uint64
	OtherErrors      uint64

	// Rates (calculated)
	CommandRate float64 // commands/sec
	ErrorRate   float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() Statistics {
	now := time.Now()
	return Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts one command outcome
func (s *Statistics) Update(err error) {
	s.TotalCommands++
	s.LastUpdateTime = time.Now()

	// Timeout first: it also matches ErrConnection
	switch {
	case err == nil:
		s.Successful++
	case errors.Is(err, protocol.ErrTimeout):
		s.Timeouts++
	case errors.Is(err, protocol.ErrInvalidArgument):
		s.InvalidArguments++
	case errors.Is(err, protocol.ErrConnection):
		s.ConnectionErrors++
	case errors.Is(err, protocol.ErrReply):
		s.ReplyErrors++
	case errors.Is(err, protocol.ErrDeviceFault):
		s.DeviceFaults++
	default:
		s.OtherErrors++
	}
}

// Errors returns the total number of failed commands
func (s *Statistics) Errors() uint64 {
	return s.TotalCommands - s.Successful
}

// CalculateRates calculates command and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.CommandRate = float64(s.TotalCommands) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var okPercent float64
	if s.TotalCommands > 0 {
		okPercent = float64(s.Successful) * 100.0 / float64(s.TotalCommands)
	}

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", time.Since(s.StartTime).Seconds())
	result += fmt.Sprintf("Total Commands:  %8d\n", s.TotalCommands)
	result += fmt.Sprintf("Successful:      %8d (%.1f%%)\n", s.Successful, okPercent)

	counters := []struct {
		label string
		n     uint64
	}{
		{"Invalid Args:", s.InvalidArguments},
		{"Connection Errs:", s.ConnectionErrors},
		{"Reply Errors:", s.ReplyErrors},
		{"Device Faults:", s.DeviceFaults},
		{"Timeouts:", s.Timeouts},
		{"Other Errors:", s.OtherErrors},
	}
	for _, c := range counters {
		if c.n > 0 {
			result += fmt.Sprintf("%-17s%8d\n", c.label, c.n)
		}
	}

	result += fmt.Sprintf("Command Rate:    %8.1f cmds/sec\n", s.CommandRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"
	return result
}
