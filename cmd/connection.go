// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"github.com/Thermoquad/labwire/internal/config"
	"github.com/Thermoquad/labwire/pkg/device"
	"github.com/Thermoquad/labwire/pkg/transport"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("LABWIRE_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// flagConnection builds a connection config from the connection flags
func flagConnection() transport.Config {
	conn := transport.Config{
		Mode:       transport.Mode(connMode),
		Port:       portName,
		Address:    hostAddress,
		BaudRate:   baudRate,
		URL:        wsURL,
		Username:   wsUsername,
		SkipVerify: wsNoSSLVerify,
	}
	if conn.Mode == "" {
		switch {
		case wsURL != "":
			conn.Mode = transport.ModeWebSocket
		case hostAddress != "":
			conn.Mode = transport.ModeTCP
		default:
			conn.Mode = transport.ModeSerial
		}
	}
	return conn
}

// selectDevices returns the devices a command acts on. An ad hoc device
// described by --dialect wins over --device; with neither flag every
// configured device is returned when all is set, otherwise the only one.
func selectDevices(all bool) ([]config.Device, error) {
	var selected []config.Device

	switch {
	case dialectName != "":
		name := deviceName
		if name == "" {
			name = dialectName
		}
		adhoc := config.Default()
		err := adhoc.AddDevice(config.Device{
			Name:       name,
			Dialect:    dialectName,
			BusAddress: busAddress,
			Connection: flagConnection(),
			Simulation: simulate,
		})
		if err != nil {
			return nil, err
		}
		selected = adhoc.Devices

	case deviceName != "":
		d, err := cfg.Device(deviceName)
		if err != nil {
			return nil, err
		}
		selected = []config.Device{*d}

	case len(cfg.Devices) == 0:
		return nil, fmt.Errorf("no device: use --config with --device, or --dialect with connection flags")

	case all || len(cfg.Devices) == 1:
		selected = append(selected, cfg.Devices...)

	default:
		return nil, fmt.Errorf("%d devices configured, select one with --device", len(cfg.Devices))
	}

	if simulate {
		for i := range selected {
			selected[i].Simulation = true
		}
	}
	return selected, nil
}

// describeConnection returns a one-line connection summary
func describeConnection(d config.Device) string {
	if d.Simulation {
		return "Simulation"
	}
	c := d.Connection
	switch c.Mode {
	case transport.ModeSerial:
		return fmt.Sprintf("Serial: %s @ %d baud", c.Port, c.BaudRate)
	case transport.ModeTCP:
		return fmt.Sprintf("TCP: %s", c.Endpoint())
	case transport.ModeWebSocket:
		return fmt.Sprintf("WebSocket: %s", c.URL)
	default:
		return string(c.Mode)
	}
}

// labRuntime owns what sessions of one invocation share: the connection
// registry, the metrics registry and the trace file.
type labRuntime struct {
	registry *transport.Registry
	promReg  *prometheus.Registry
	metrics  *device.Metrics

	trace    *transport.TraceWriter
	traceOut *os.File

	sessions []*device.Session
}

func newRuntime() (*labRuntime, error) {
	promReg := prometheus.NewRegistry()
	rt := &labRuntime{
		registry: transport.NewRegistry(log),
		promReg:  promReg,
		metrics:  device.NewMetrics(promReg),
	}

	if recordPath != "" {
		f, err := os.OpenFile(recordPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace file: %w", err)
		}
		rt.traceOut = f
		rt.trace = transport.NewTraceWriter(f)
		log.WithField("file", recordPath).Info("Recording exchanges")
	}
	return rt, nil
}

// open creates and connects a session for d
func (rt *labRuntime) open(d config.Device) (*device.Session, error) {
	dialect, err := d.LookupDialect()
	if err != nil {
		return nil, err
	}

	conn := d.Connection.WithDefaults()
	if !d.Simulation && conn.Mode == transport.ModeWebSocket && conn.Username != "" && conn.Password == "" {
		password, err := GetPassword()
		if err != nil {
			return nil, err
		}
		conn.Password = password
	}

	opts := []device.Option{
		device.WithRegistry(rt.registry),
		device.WithLogger(log),
		device.WithMetrics(rt.metrics),
	}
	if d.Readiness.Interval > 0 && d.Readiness.Attempts > 0 {
		opts = append(opts, device.WithPolling(d.Readiness.Interval, d.Readiness.Attempts))
	}
	if d.Simulation {
		opts = append(opts, device.WithSimulation(nil))
	} else if rt.trace != nil {
		opts = append(opts, device.WithFactory(transport.RecordingFactory(conn.Factory(), conn.Endpoint(), rt.trace)))
	}

	s := device.New(d.Name, dialect, conn, opts...)
	if err := s.Connect(); err != nil {
		return nil, err
	}
	rt.sessions = append(rt.sessions, s)
	return s, nil
}

// openSelected opens a session for every selected device
func (rt *labRuntime) openSelected(all bool) ([]*device.Session, []config.Device, error) {
	devices, err := selectDevices(all)
	if err != nil {
		return nil, nil, err
	}
	sessions := make([]*device.Session, 0, len(devices))
	for _, d := range devices {
		s, err := rt.open(d)
		if err != nil {
			return nil, nil, fmt.Errorf("device %s: %w", d.Name, err)
		}
		sessions = append(sessions, s)
	}
	return sessions, devices, nil
}

// Close disconnects every session, closes the trace and writes the metrics
// file when one was requested.
func (rt *labRuntime) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, s := range rt.sessions {
		keep(s.Disconnect())
	}
	if rt.traceOut != nil {
		keep(rt.traceOut.Close())
	}
	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(metricsFile, rt.promReg); err != nil {
			keep(fmt.Errorf("failed to write metrics file: %w", err))
		} else {
			log.WithField("file", metricsFile).Debug("Metrics written")
		}
	}
	return firstErr
}
