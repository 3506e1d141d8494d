// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/labwire/internal/config"
	"github.com/Thermoquad/labwire/pkg/device"
	"github.com/Thermoquad/labwire/pkg/dialects"
	"github.com/Thermoquad/labwire/pkg/protocol"
	"github.com/Thermoquad/labwire/pkg/transport"
)

// ============================================================
// Formatting
// ============================================================

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 seconds"},
		{time.Second, "1 second"},
		{61 * time.Second, "1 minute and 1 second"},
		{2 * time.Hour, "2 hours"},
		{26*time.Hour + 3*time.Minute + 4*time.Second, "1 day, 2 hours, 3 minutes, and 4 seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatUptime(tt.d); got != tt.want {
				t.Errorf("formatUptime(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestFormatResult(t *testing.T) {
	tests := []struct {
		v    any
		want string
	}{
		{nil, "OK"},
		{int64(3000), "3000"},
		{12.5, "12.5"},
		{"XP3000 V1.8.2", "XP3000 V1.8.2"},
		{[]string{"12.3", "g"}, "12.3 g"},
		{true, "1"},
	}

	for _, tt := range tests {
		if got := formatResult(tt.v); got != tt.want {
			t.Errorf("formatResult(%#v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestFormatRecord(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 30, 45, 123_000_000, time.Local)
	rec := transport.Record{At: at.UnixNano(), Endpoint: "/dev/ttyUSB0", Dir: transport.DirTx, Data: []byte("/1ZR\r\n")}

	got := formatRecord(rec)
	want := "[12:30:45.123] TX      /dev/ttyUSB0 \"/1ZR\\r\\n\"\n"
	if got != want {
		t.Errorf("formatRecord() = %q, want %q", got, want)
	}

	rec.Dir, rec.Data = transport.DirTimeout, nil
	if got := formatRecord(rec); !strings.HasSuffix(got, "TIMEOUT /dev/ttyUSB0\n") {
		t.Errorf("timeout record = %q", got)
	}
}

func TestAppendLogEntry(t *testing.T) {
	var entries []eventLogEntry
	for i := 0; i < 5; i++ {
		entries = appendLogEntry(entries, 3, string(rune('a'+i)), i%2 == 0)
	}
	if len(entries) != 3 {
		t.Fatalf("%d entries, want 3", len(entries))
	}
	if entries[0].message != "c" || entries[2].message != "e" || !entries[2].isError {
		t.Errorf("entries = %+v", entries)
	}
}

// ============================================================
// Command results
// ============================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"fault", &protocol.Error{Kind: protocol.KindDeviceFault}, 1},
		{"invalid argument", &protocol.Error{Kind: protocol.KindInvalidArgument}, 1},
		{"timeout", &protocol.Error{Kind: protocol.KindTimeout}, 2},
		{"reply", &protocol.Error{Kind: protocol.KindReply}, 2},
		{"other", errors.New("boom"), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseCommandLine(t *testing.T) {
	tests := []struct {
		input   string
		name    string
		arg     any
		wantErr bool
	}{
		{"move_abs 3000", "MOVE_ABS", "3000", false},
		{"  STATUS ", "STATUS", nil, false},
		{"", "", nil, true},
		{"A 1 2", "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			name, arg, err := parseCommandLine(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if name != tt.name || arg != tt.arg {
				t.Errorf("parseCommandLine() = %q, %v", name, arg)
			}
		})
	}
}

func TestDeviceState(t *testing.T) {
	tests := []struct {
		idle bool
		err  error
		want string
	}{
		{true, nil, "IDLE"},
		{false, nil, "BUSY"},
		{false, &protocol.Error{Kind: protocol.KindDeviceFault}, "FAULT"},
		{false, &protocol.Error{Kind: protocol.KindTimeout}, "OFFLINE"},
		{false, &protocol.Error{Kind: protocol.KindReply}, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := deviceState(tt.idle, tt.err); got != tt.want {
				t.Errorf("deviceState() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ============================================================
// Device selection
// ============================================================

func withFlags(t *testing.T, c *config.Config, dialect, device string, sim bool) {
	t.Helper()
	oldCfg, oldDialect, oldDevice, oldSim := cfg, dialectName, deviceName, simulate
	cfg, dialectName, deviceName, simulate = c, dialect, device, sim
	t.Cleanup(func() {
		cfg, dialectName, deviceName, simulate = oldCfg, oldDialect, oldDevice, oldSim
	})
}

func TestSelectDevices(t *testing.T) {
	configured := config.Default()
	for _, name := range []string{"pump1", "pump2"} {
		if err := configured.AddDevice(config.Device{Name: name, Dialect: dialects.NameCadent3, Simulation: true}); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("ad hoc", func(t *testing.T) {
		withFlags(t, config.Default(), dialects.NameCVC3000, "", true)
		got, err := selectDevices(false)
		if err != nil {
			t.Fatalf("selectDevices() error: %v", err)
		}
		if len(got) != 1 || got[0].Name != dialects.NameCVC3000 || !got[0].Simulation {
			t.Errorf("devices = %+v", got)
		}
	})

	t.Run("ad hoc from environment", func(t *testing.T) {
		t.Setenv("LABWIRE_SIMULATION", "true")
		t.Setenv("LABWIRE_PASSWORD", "secret")
		withFlags(t, config.Default(), dialects.NameKernKDP3000, "", false)
		got, err := selectDevices(false)
		if err != nil {
			t.Fatalf("selectDevices() error: %v", err)
		}
		if !got[0].Simulation || got[0].Connection.Password != "secret" {
			t.Errorf("environment not applied to ad hoc device: %+v", got[0])
		}
	})

	t.Run("named", func(t *testing.T) {
		withFlags(t, configured, "", "pump2", false)
		got, err := selectDevices(false)
		if err != nil || len(got) != 1 || got[0].Name != "pump2" {
			t.Errorf("selectDevices() = %+v, %v", got, err)
		}
	})

	t.Run("all", func(t *testing.T) {
		withFlags(t, configured, "", "", false)
		got, err := selectDevices(true)
		if err != nil || len(got) != 2 {
			t.Errorf("selectDevices(all) = %+v, %v", got, err)
		}
	})

	t.Run("ambiguous", func(t *testing.T) {
		withFlags(t, configured, "", "", false)
		if _, err := selectDevices(false); err == nil {
			t.Error("selectDevices() picked one of two devices")
		}
	})

	t.Run("unknown dialect", func(t *testing.T) {
		withFlags(t, config.Default(), "hplc", "", true)
		if _, err := selectDevices(false); err == nil {
			t.Error("selectDevices() accepted an unknown dialect")
		}
	})
}

// ============================================================
// Monitor model
// ============================================================

func simulatedSession(t *testing.T, name, dialect string) *device.Session {
	t.Helper()
	d, err := dialects.Lookup(dialect, "")
	if err != nil {
		t.Fatal(err)
	}
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	s := device.New(name, d, transport.Config{}, device.WithSimulation(nil), device.WithLogger(quiet))
	if err := s.Connect(); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestMonitor_PollAndCommand(t *testing.T) {
	mm := &monitorManager{sessions: []*device.Session{
		simulatedSession(t, "balance", dialects.NameKernKDP3000),
		simulatedSession(t, "vacuum", dialects.NameCVC3000),
	}}
	m := initialMonitorModel(mm, []config.Device{
		{Name: "balance", Dialect: dialects.NameKernKDP3000, Simulation: true},
		{Name: "vacuum", Dialect: dialects.NameCVC3000, Simulation: true},
	}, time.Second)

	for i := range m.devices {
		msg, ok := mm.poll(i)().(pollResultMsg)
		if !ok {
			t.Fatalf("poll(%d) did not return a pollResultMsg", i)
		}
		m.applyPoll(msg)
		if m.devices[i].state != "IDLE" {
			t.Errorf("%s state = %s (%s), want IDLE", m.devices[i].name, m.devices[i].state, m.devices[i].lastError)
		}
	}
	if len(m.eventLog) != 2 {
		t.Errorf("%d events after the first polls, want 2", len(m.eventLog))
	}

	// unchanged state is not logged again
	m.applyPoll(pollResultMsg{index: 0, idle: true})
	if len(m.eventLog) != 2 {
		t.Errorf("%d events after a repeated state, want 2", len(m.eventLog))
	}

	m.applyPoll(pollResultMsg{index: 1, err: &protocol.Error{Kind: protocol.KindTimeout}})
	if m.devices[1].state != "OFFLINE" || !m.eventLog[len(m.eventLog)-1].isError {
		t.Errorf("timeout not shown as OFFLINE error: %+v", m.devices[1])
	}

	res, ok := mm.send(1, "set_pressure 2000")().(commandResultMsg)
	if !ok {
		t.Fatal("send() did not return a commandResultMsg")
	}
	if !errors.Is(res.err, protocol.ErrInvalidArgument) {
		t.Errorf("out of range pressure error = %v, want invalid argument", res.err)
	}
}

func TestMonitor_PollDue(t *testing.T) {
	mm := &monitorManager{sessions: []*device.Session{simulatedSession(t, "balance", dialects.NameKernKDP3000)}}
	m := initialMonitorModel(mm, []config.Device{{Name: "balance", Dialect: dialects.NameKernKDP3000}}, time.Second)

	now := time.Now()
	if cmd := m.pollDue(now); cmd == nil || !m.devices[0].polling {
		t.Fatal("first pollDue() started no poll")
	}
	// a poll in flight is never doubled
	if cmd := m.pollDue(now.Add(time.Hour)); cmd != nil {
		t.Error("pollDue() started a second poll while one is in flight")
	}

	m.applyPoll(pollResultMsg{index: 0, idle: true})
	if cmd := m.pollDue(time.Now()); cmd != nil {
		t.Error("pollDue() polled again before the interval elapsed")
	}
}

// ============================================================
// Pump and fault commands
// ============================================================

func TestNewPump(t *testing.T) {
	s := simulatedSession(t, "pump", dialects.NameCadent3)

	p, err := newPump(s, config.Device{Name: "pump", Dialect: dialects.NameCadent3, SyringeSize: 5})
	if err != nil {
		t.Fatalf("newPump() error: %v", err)
	}
	if got := p.StepsPerML(); got != 1200 {
		t.Errorf("StepsPerML() = %v, want 1200 for a 5 mL syringe", got)
	}
	if err := p.Withdraw(0.5); err != nil {
		t.Errorf("Withdraw() error: %v", err)
	}

	old := pumpSyringeSize
	pumpSyringeSize = 2.5
	t.Cleanup(func() { pumpSyringeSize = old })
	p, err = newPump(s, config.Device{Name: "pump", Dialect: dialects.NameCadent3, SyringeSize: 5})
	if err != nil || p.StepsPerML() != 2400 {
		t.Errorf("--syringe-size override: StepsPerML() = %v, %v", p.StepsPerML(), err)
	}
	pumpSyringeSize = 0

	p, err = newPump(s, config.Device{Name: "pump", Dialect: dialects.NameCadent3})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Dispense(1); err == nil {
		t.Error("Dispense() without a syringe size should fail")
	}

	balance := simulatedSession(t, "balance", dialects.NameKernKDP3000)
	if _, err := newPump(balance, config.Device{Name: "balance", Dialect: dialects.NameKernKDP3000}); err == nil {
		t.Error("newPump() accepted a balance")
	}
}

func TestParseVolume(t *testing.T) {
	if ml, err := parseVolume("2.5"); err != nil || ml != 2.5 {
		t.Errorf("parseVolume(2.5) = %v, %v", ml, err)
	}
	for _, bad := range []string{"0", "-1", "lots"} {
		if _, err := parseVolume(bad); err == nil {
			t.Errorf("parseVolume(%q) accepted", bad)
		}
	}
}

func TestFaultList(t *testing.T) {
	flags := protocol.BitFlags{
		4: {Message: "Overpressure error", Category: protocol.CategoryDeviceFault},
		0: {Message: "Last command incorrect", Category: protocol.CategoryInvalidArgument},
	}
	if got := faultList(flags.Err("ERRORS", "10001")); len(got) != 2 || got[1].Message != "Overpressure error" {
		t.Errorf("faultList() = %+v", got)
	}

	single := &protocol.Error{Kind: protocol.KindDeviceFault, Details: map[string]interface{}{"fault": protocol.Fault{Message: "Pump error"}}}
	if got := faultList(single); len(got) != 1 || got[0].Message != "Pump error" {
		t.Errorf("faultList(single) = %+v", got)
	}

	if got := faultList(&protocol.Error{Kind: protocol.KindConnection}); got != nil {
		t.Errorf("faultList(connection error) = %+v, want nil", got)
	}
}

func TestWatchResults(t *testing.T) {
	s := simulatedSession(t, "vacuum", dialects.NameCVC3000)
	task, err := s.StartTask("STATUS", 5*time.Millisecond, func() (any, error) {
		return s.Call(dialects.CmdStatus, nil)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.StopTasks()

	var lines []string
	n := watchResults(context.Background(), task, 3, func(line string) { lines = append(lines, line) })
	if n != 3 || len(lines) != 3 {
		t.Fatalf("printed %d lines: %q", n, lines)
	}
	if !strings.HasSuffix(lines[0], "] 000020") {
		t.Errorf("line = %q, want the simulated status", lines[0])
	}

	// a cancelled context stops printing at once
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if n := watchResults(ctx, task, 0, func(string) {}); n != 0 {
		t.Errorf("printed %d lines after cancel", n)
	}
}
