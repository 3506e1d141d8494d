// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/labwire/pkg/device"
	"github.com/Thermoquad/labwire/pkg/protocol"
)

var monitorInterval time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for monitoring instruments",
	Long: `Monitor every configured device via an interactive terminal UI.

Features:
  - Periodic readiness polling of each device
  - Command line for the selected device (NAME [ARG])
  - Per-device exchange statistics
  - Event logging
  - Automatic reconnection on connection loss

Tab switches between the device list and the command line. Arrow keys
navigate the device list.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 2*time.Second, "Readiness poll interval")
}

// monitorManager runs device exchanges for the TUI. Its methods return
// tea.Cmds so exchanges never block the update loop.
type monitorManager struct {
	sessions []*device.Session
}

type pollResultMsg struct {
	index int
	idle  bool
	err   error
}

type commandResultMsg struct {
	index int
	input string
	value any
	err   error
}

// poll checks readiness of session i, reconnecting first when the session
// lost its transport
func (mm *monitorManager) poll(i int) tea.Cmd {
	s := mm.sessions[i]
	return func() tea.Msg {
		if !s.IsConnected() {
			if err := mm.reconnect(s); err != nil {
				return pollResultMsg{index: i, err: err}
			}
		}
		idle, err := s.IsIdle()
		return pollResultMsg{index: i, idle: idle, err: err}
	}
}

// send parses "NAME [ARG]" and sends it to session i
func (mm *monitorManager) send(i int, input string) tea.Cmd {
	s := mm.sessions[i]
	return func() tea.Msg {
		name, arg, err := parseCommandLine(input)
		if err != nil {
			return commandResultMsg{index: i, input: input, err: err}
		}
		value, err := s.Call(name, arg)
		return commandResultMsg{index: i, input: input, value: value, err: err}
	}
}

func (mm *monitorManager) reconnect(s *device.Session) error {
	if err := s.Disconnect(); err != nil {
		s.Logger().WithError(err).Debug("Disconnect before reconnect failed")
	}
	return s.Connect()
}

// parseCommandLine splits a command line into the command name and an
// optional argument
func parseCommandLine(input string) (string, any, error) {
	fields := strings.Fields(input)
	switch len(fields) {
	case 0:
		return "", nil, errors.New("empty command")
	case 1:
		return strings.ToUpper(fields[0]), nil, nil
	case 2:
		return strings.ToUpper(fields[0]), fields[1], nil
	default:
		return "", nil, fmt.Errorf("too many arguments in %q", input)
	}
}

// deviceState names the state shown for a poll outcome
func deviceState(idle bool, err error) string {
	switch {
	case err == nil && idle:
		return "IDLE"
	case err == nil:
		return "BUSY"
	case errors.Is(err, protocol.ErrDeviceFault):
		return "FAULT"
	case errors.Is(err, protocol.ErrConnection):
		return "OFFLINE"
	default:
		return "ERROR"
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	sessions, devices, err := rt.openSelected(true)
	if err != nil {
		return err
	}

	// The alternate screen owns the terminal; only file logging survives it
	if cfg.Log.Output != "file" {
		log.SetOutput(io.Discard)
	}

	mm := &monitorManager{sessions: sessions}
	m := initialMonitorModel(mm, devices, monitorInterval)

	// Create TUI program with alt screen and mouse support
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
