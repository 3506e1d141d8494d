// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/labwire/internal/config"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const monitorMaxLogEntries = 100

// Focus states
const (
	focusDeviceList = iota
	focusCommandInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// deviceItem is one monitored device as shown in the list
type deviceItem struct {
	name       string
	dialect    string
	connection string
	state      string
	lastError  string
	lastPoll   time.Time
	polling    bool
}

// Implement list.DefaultItem interface
func (d deviceItem) Title() string       { return d.name }
func (d deviceItem) Description() string { return fmt.Sprintf("%s | %s", d.dialect, d.state) }
func (d deviceItem) FilterValue() string { return d.name }

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	mgr *monitorManager

	// Device tracking
	devices      []deviceItem
	deviceList   list.Model
	pollInterval time.Duration

	// Command line
	commandInput textinput.Model
	focusedField int
	pending      int // commands in flight

	eventLog      []eventLogEntry
	maxLogEntries int
	started       time.Time

	// UI state
	styles   tuiStyles
	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(mgr *monitorManager, devices []config.Device, interval time.Duration) monitorModel {
	// Initialize command line
	ti := textinput.New()
	ti.Placeholder = "NAME [ARG]"
	ti.CharLimit = 64
	ti.Width = 30

	items := make([]deviceItem, len(devices))
	for i, d := range devices {
		items[i] = deviceItem{
			name:       d.Name,
			dialect:    d.Dialect,
			connection: describeConnection(d),
			state:      "UNKNOWN",
		}
	}

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	deviceList := list.New(listItems(items), delegate, 30, 10)
	deviceList.Title = "Devices"
	deviceList.SetShowStatusBar(false)
	deviceList.SetShowHelp(false)
	deviceList.SetFilteringEnabled(false)

	return monitorModel{
		mgr:           mgr,
		devices:       items,
		deviceList:    deviceList,
		pollInterval:  interval,
		commandInput:  ti,
		focusedField:  focusDeviceList,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: monitorMaxLogEntries,
		started:       time.Now(),
		styles:        newStyles(),
		width:         80,
		height:        24,
	}
}

func listItems(devices []deviceItem) []list.Item {
	items := make([]list.Item, len(devices))
	for i, d := range devices {
		items[i] = d
	}
	return items
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(monitorTickCmd(), m.pollDue(time.Now()))
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.deviceList.SetHeight(max(m.height-20, 6))

	case monitorTickMsg:
		cmds = append(cmds, m.pollDue(time.Time(msg)), monitorTickCmd())

	case pollResultMsg:
		m.applyPoll(msg)
		cmds = append(cmds, m.deviceList.SetItems(listItems(m.devices)))

	case commandResultMsg:
		m.pending--
		name := m.devices[msg.index].name
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s: %s failed: %v", name, msg.input, msg.err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("%s: %s -> %s", name, msg.input, formatResult(msg.value)), false)
		}
	}

	// Update child components
	var cmd tea.Cmd
	if m.focusedField == focusDeviceList {
		m.deviceList, cmd = m.deviceList.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// pollDue starts a readiness poll for every idle device whose interval
// elapsed
func (m *monitorModel) pollDue(now time.Time) tea.Cmd {
	var cmds []tea.Cmd
	for i := range m.devices {
		d := &m.devices[i]
		if d.polling || now.Sub(d.lastPoll) < m.pollInterval {
			continue
		}
		d.polling = true
		cmds = append(cmds, m.mgr.poll(i))
	}
	return tea.Batch(cmds...)
}

// applyPoll records a poll outcome and logs state changes
func (m *monitorModel) applyPoll(msg pollResultMsg) {
	d := &m.devices[msg.index]
	d.polling = false
	d.lastPoll = time.Now()

	state := deviceState(msg.idle, msg.err)
	if msg.err != nil {
		d.lastError = msg.err.Error()
	} else {
		d.lastError = ""
	}

	if state != d.state {
		switch state {
		case "FAULT", "OFFLINE", "ERROR":
			m.addLogEntry(fmt.Sprintf("%s: %s (%s)", d.name, state, d.lastError), true)
		default:
			m.addLogEntry(fmt.Sprintf("%s: %s", d.name, state), false)
		}
	}
	d.state = state
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = appendLogEntry(m.eventLog, m.maxLogEntries, message, isError)
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField == focusDeviceList {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab", "shift+tab":
		return m.toggleFocus(), nil

	case "enter":
		if m.focusedField == focusCommandInput {
			return m.submitCommand()
		}
	}

	// Pass through to focused component
	var cmd tea.Cmd
	if m.focusedField == focusCommandInput {
		m.commandInput, cmd = m.commandInput.Update(msg)
	} else {
		m.deviceList, cmd = m.deviceList.Update(msg)
	}
	return m, cmd
}

func (m monitorModel) toggleFocus() monitorModel {
	if m.focusedField == focusDeviceList {
		m.focusedField = focusCommandInput
		m.commandInput.Focus()
	} else {
		m.focusedField = focusDeviceList
		m.commandInput.Blur()
	}
	return m
}

func (m monitorModel) submitCommand() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.commandInput.Value())
	if input == "" || len(m.devices) == 0 {
		return m, nil
	}
	m.commandInput.SetValue("")

	index := m.deviceList.Index()
	m.pending++
	m.addLogEntry(fmt.Sprintf("%s: > %s", m.devices[index].name, input), false)
	return m, m.mgr.send(index, input)
}

func (m monitorModel) selected() (int, bool) {
	if len(m.devices) == 0 {
		return 0, false
	}
	return m.deviceList.Index(), true
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	st := m.styles
	var s strings.Builder

	// Header
	s.WriteString(st.title.Render("LABWIRE MONITOR"))
	s.WriteString(" ")
	s.WriteString(st.header.Render(fmt.Sprintf("| %d device(s) | q=quit Tab=switch", len(m.devices))))
	s.WriteString("\n")
	s.WriteString(fmt.Sprintf(" %s %s\n\n",
		st.statsLabel.Render("Monitoring for:"),
		st.statsValue.Render(formatUptime(time.Since(m.started)))))

	// Layout: left panel (devices) | right panel (details)
	leftWidth := 30
	rightWidth := max(m.width-leftWidth-6, 20)

	listStyle := st.box.Width(leftWidth)
	if m.focusedField == focusDeviceList {
		listStyle = st.focusedBox.Width(leftWidth)
	}
	devicePanel := listStyle.Render(m.deviceList.View())
	detailPanel := st.box.Width(rightWidth).Render(m.renderDetailPanel())

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, devicePanel, " ", detailPanel))
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar())
	s.WriteString("\n\n")

	s.WriteString(m.renderEventLog())

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m monitorModel) renderDetailPanel() string {
	st := m.styles
	var s strings.Builder

	i, ok := m.selected()
	if !ok {
		s.WriteString(st.header.Render("No device selected"))
		return s.String()
	}
	d := m.devices[i]
	session := m.mgr.sessions[i]

	s.WriteString(fmt.Sprintf("%s %s\n", st.statsLabel.Render("Device:"), d.name))
	s.WriteString(fmt.Sprintf("%s %s\n", st.statsLabel.Render("Dialect:"), d.dialect))
	s.WriteString(fmt.Sprintf("%s %s\n", st.statsLabel.Render("Connection:"), d.connection))

	state := d.state
	switch state {
	case "IDLE":
		state = st.idle.Render(state)
	case "BUSY":
		state = st.busy.Render(state)
	case "FAULT", "OFFLINE", "ERROR":
		state = st.err.Render(state)
	}
	s.WriteString(fmt.Sprintf("%s %s", st.statsLabel.Render("State:"), state))
	if !d.lastPoll.IsZero() {
		s.WriteString(st.header.Render(fmt.Sprintf(" (polled %s ago)", time.Since(d.lastPoll).Round(time.Second))))
	}
	s.WriteString("\n")

	if raw := session.LastStatus().Raw; raw != "" {
		s.WriteString(fmt.Sprintf("%s %q\n", st.statsLabel.Render("Status:"), raw))
	}
	if d.lastError != "" {
		s.WriteString(st.err.Render(d.lastError))
		s.WriteString("\n")
	}
	s.WriteString("\n")

	s.WriteString(st.statsLabel.Render("Command: "))
	if m.focusedField == focusCommandInput {
		s.WriteString(m.commandInput.View())
	} else {
		val := m.commandInput.Value()
		if val == "" {
			val = st.placeholder.Render(m.commandInput.Placeholder)
		}
		s.WriteString(fmt.Sprintf("[%s]", val))
	}
	if m.pending > 0 {
		s.WriteString(st.warning.Render(fmt.Sprintf("  %d pending", m.pending)))
	}

	return s.String()
}

func (m monitorModel) renderStatisticsBar() string {
	st := m.styles
	i, ok := m.selected()
	if !ok {
		return st.box.Width(m.width - 4).Render(st.header.Render("No statistics"))
	}

	stats := m.mgr.sessions[i].Stats()
	stats.CalculateRates()
	var okPercent float64
	if stats.TotalCommands > 0 {
		okPercent = float64(stats.Successful) * 100.0 / float64(stats.TotalCommands)
	}

	errors := st.statsValue.Render("0")
	if n := stats.Errors(); n > 0 {
		errors = st.err.Render(fmt.Sprintf("%d", n))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		st.statsLabel.Render("Total:"), st.statsValue.Render(fmt.Sprintf("%d", stats.TotalCommands)),
		st.statsLabel.Render("OK:"), st.statsValue.Render(fmt.Sprintf("%.1f%%", okPercent)),
		st.statsLabel.Render("Errors:"), errors,
		st.statsLabel.Render("Timeouts:"), st.statsValue.Render(fmt.Sprintf("%d", stats.Timeouts)),
		st.statsLabel.Render("Rate:"), st.statsValue.Render(fmt.Sprintf("%.1f cmd/s", stats.CommandRate)),
	)

	return st.box.Width(m.width - 4).Render(content)
}

func (m monitorModel) renderEventLog() string {
	st := m.styles
	var s strings.Builder
	s.WriteString(st.statsLabel.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := min(8, len(m.eventLog))
	startIdx := len(m.eventLog) - logHeight

	if len(m.eventLog) == 0 {
		s.WriteString(st.header.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := st.warning
			if entry.isError {
				icon = "x"
				style = st.err
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				st.header.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return st.box.Width(m.width - 4).Render(s.String())
}
