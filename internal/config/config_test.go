// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Thermoquad/labwire/pkg/device"
	"github.com/Thermoquad/labwire/pkg/transport"
)

const sampleConfig = `
log:
  level: debug
metrics_file: /tmp/labwire.prom
devices:
  - name: pump1
    dialect: tecan-xlp6000
    bus_address: "0"
    syringe_size: 5
    connection:
      mode: serial
      port: /dev/ttyUSB0
      read_timeout: 2s
      command_gap: 50ms
  - name: pump2
    dialect: tecan-xlp6000
    bus_address: "1"
    connection:
      mode: serial
      port: /dev/ttyUSB0
    readiness:
      interval: 250ms
      attempts: 10
  - name: balance
    dialect: kern-kdp3000
    simulation: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labwire.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("log = %+v, want debug level over text default", cfg.Log)
	}
	if cfg.MetricsFile != "/tmp/labwire.prom" {
		t.Errorf("MetricsFile = %q", cfg.MetricsFile)
	}
	if len(cfg.Devices) != 3 {
		t.Fatalf("%d devices, want 3", len(cfg.Devices))
	}

	pump1, err := cfg.Device("pump1")
	if err != nil {
		t.Fatal(err)
	}
	conn := pump1.Connection
	if conn.ReadTimeout != 2*time.Second || conn.CommandGap != 50*time.Millisecond {
		t.Errorf("timeouts = %v / %v", conn.ReadTimeout, conn.CommandGap)
	}
	if conn.BaudRate != transport.DefaultBaudRate || conn.Parity != "N" {
		t.Errorf("serial defaults not applied: %+v", conn)
	}
	if pump1.Readiness.Interval != device.DefaultPollInterval || pump1.Readiness.Attempts != device.DefaultPollAttempts {
		t.Errorf("readiness defaults = %+v", pump1.Readiness)
	}
	if pump1.SyringeSize != 5 {
		t.Errorf("SyringeSize = %v", pump1.SyringeSize)
	}

	pump2, _ := cfg.Device("pump2")
	if pump2.Readiness.Interval != 250*time.Millisecond || pump2.Readiness.Attempts != 10 {
		t.Errorf("readiness = %+v", pump2.Readiness)
	}
	d, err := pump2.LookupDialect()
	if err != nil || d.Framing.CommandPrefix != "/2" {
		t.Errorf("pump2 dialect = %v, %v", d, err)
	}

	if _, err := cfg.Device("hplc"); err == nil {
		t.Error("Device(unknown) succeeded")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "devices: [\n"},
		{"no name", "devices:\n  - dialect: cvc3000\n    simulation: true\n"},
		{"duplicate", "devices:\n  - {name: a, dialect: cvc3000, simulation: true}\n  - {name: a, dialect: cvc3000, simulation: true}\n"},
		{"unknown dialect", "devices:\n  - {name: a, dialect: hplc, simulation: true}\n"},
		{"bad address", "devices:\n  - {name: a, dialect: tecan-xlp6000, bus_address: Z, simulation: true}\n"},
		{"no port", "devices:\n  - {name: a, dialect: cvc3000}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("Load() succeeded")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing) succeeded")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LABWIRE_SIMULATION", "true")
	t.Setenv("LABWIRE_LOG_LEVEL", "warn")
	t.Setenv("LABWIRE_LOG_FORMAT", "json")
	t.Setenv("LABWIRE_PASSWORD", "s3cret")

	// pump has no port; simulation from the environment makes it valid
	cfg, err := Load(writeConfig(t, "devices:\n  - {name: pump, dialect: cadent3}\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Log.Level != "warn" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if !cfg.Devices[0].Simulation {
		t.Error("LABWIRE_SIMULATION not applied")
	}
	if cfg.Devices[0].Connection.Password != "s3cret" {
		t.Error("LABWIRE_PASSWORD not applied")
	}
}

func TestApplyEnv_InvalidBool(t *testing.T) {
	t.Setenv("LABWIRE_SIMULATION", "maybe")
	if err := Default().ApplyEnv(); err == nil {
		t.Error("ApplyEnv() accepted LABWIRE_SIMULATION=maybe")
	}
}

func TestAddDevice(t *testing.T) {
	cfg := Default()
	err := cfg.AddDevice(Device{
		Name:       "pump",
		Dialect:    "cadent3",
		BusAddress: "2",
		Connection: transport.Config{Mode: transport.ModeTCP, Address: "10.0.0.5", Port: "4001"},
	})
	if err != nil {
		t.Fatalf("AddDevice() error: %v", err)
	}
	d, err := cfg.Device("pump")
	if err != nil {
		t.Fatal(err)
	}
	if d.Connection.ReadTimeout != transport.DefaultReadTimeout || d.Readiness.Attempts != device.DefaultPollAttempts {
		t.Errorf("defaults not filled: %+v", d)
	}

	if err := cfg.AddDevice(Device{Name: "pump", Dialect: "cadent3", Simulation: true}); err == nil {
		t.Error("AddDevice() accepted a duplicate name")
	}
	if len(cfg.Devices) != 1 {
		t.Errorf("%d devices after a rejected add, want 1", len(cfg.Devices))
	}
}

func TestAddDevice_Environment(t *testing.T) {
	t.Setenv("LABWIRE_SIMULATION", "true")

	// No connection given; valid only because the environment selects simulation
	cfg := Default()
	if err := cfg.AddDevice(Device{Name: "vacuum", Dialect: "cvc3000"}); err != nil {
		t.Fatalf("AddDevice() error: %v", err)
	}
	if !cfg.Devices[0].Simulation {
		t.Error("LABWIRE_SIMULATION not applied to the added device")
	}
}
