// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for notices
}

// appendLogEntry appends an entry and drops the oldest beyond limit
func appendLogEntry(entries []eventLogEntry, limit int, message string, isError bool) []eventLogEntry {
	entries = append(entries, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

// tuiStyles is the shared lipgloss palette
type tuiStyles struct {
	title       lipgloss.Style
	header      lipgloss.Style
	statsLabel  lipgloss.Style
	statsValue  lipgloss.Style
	err         lipgloss.Style
	warning     lipgloss.Style
	box         lipgloss.Style
	focusedBox  lipgloss.Style
	idle        lipgloss.Style
	busy        lipgloss.Style
	placeholder lipgloss.Style
}

func newStyles() tuiStyles {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	return tuiStyles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1),
		header: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		statsLabel: lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true),
		statsValue: lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")),
		err: lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true),
		warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")),
		box:        box,
		focusedBox: box.BorderForeground(lipgloss.Color("12")),
		idle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true),
		busy: lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true),
		placeholder: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true),
	}
}

// formatUptime formats a duration to a human-friendly string
func formatUptime(d time.Duration) string {
	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	unit := func(n int64, name string) string {
		if n == 1 {
			return "1 " + name
		}
		return fmt.Sprintf("%d %ss", n, name)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, unit(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, unit(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, unit(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, unit(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}
