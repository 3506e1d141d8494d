// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dialects holds the command tables of the supported instruments.
// Every constructor returns a fresh *protocol.Dialect; callers share it
// read-only between sessions.
package dialects

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Thermoquad/labwire/pkg/protocol"
)

// Dialect names accepted by Lookup
const (
	NameTecanXLP6000 = "tecan-xlp6000"
	NameCadent3      = "cadent3"
	NameKernKDP3000  = "kern-kdp3000"
	NameCVC3000      = "cvc3000"
	NameMetrohm781   = "metrohm781"
)

type constructor func(address string) (*protocol.Dialect, error)

var registry = map[string]constructor{
	NameTecanXLP6000: TecanXLP6000,
	NameCadent3:      Cadent3,
	NameKernKDP3000:  unaddressed(KernKDP3000),
	NameCVC3000:      unaddressed(CVC3000),
	NameMetrohm781:   unaddressed(Metrohm781),
}

func unaddressed(f func() *protocol.Dialect) constructor {
	return func(address string) (*protocol.Dialect, error) {
		if address != "" {
			return nil, fmt.Errorf("dialect %s is not bus addressed", f().Name)
		}
		return f(), nil
	}
}

// Lookup builds the named dialect. Bus addressed dialects take the pump's
// address switch position; the others require an empty address.
func Lookup(name, address string) (*protocol.Dialect, error) {
	ctor, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown dialect %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return ctor(address)
}

// Names returns the known dialect names in sorted order
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SwitchPositions returns the address switch positions of a bus addressed
// dialect in switch order. It returns nil for dialects without an address.
func SwitchPositions(name string) []string {
	var table map[string]string
	switch strings.ToLower(name) {
	case NameTecanXLP6000:
		table = tecanSwitchAddresses
	case NameCadent3:
		table = cadentSwitchAddresses
	default:
		return nil
	}

	positions := make([]string, 0, len(table))
	for pos := range table {
		if pos != "all" {
			positions = append(positions, pos)
		}
	}
	// digits sort before A-F
	sort.Strings(positions)
	return positions
}

// typed is a shorthand for commands with an argument and a reply
func typed(name string, arg protocol.ValueType, rule protocol.Rule, reply protocol.ValueType) *protocol.Command {
	return &protocol.Command{Name: name, Arg: arg, Rule: rule, Reply: reply}
}

func query(name string, reply protocol.ValueType, parser protocol.ReplyParser) *protocol.Command {
	return &protocol.Command{Name: name, Reply: reply, Parser: parser}
}

func action(name string, reply protocol.ValueType) *protocol.Command {
	return &protocol.Command{Name: name, Reply: reply}
}

// strRange returns the decimal strings lo..hi
func strRange(lo, hi int) []any {
	out := make([]any, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, fmt.Sprint(i))
	}
	return out
}
