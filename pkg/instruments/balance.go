// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instruments

import (
	"fmt"
	"slices"

	"github.com/Thermoquad/labwire/pkg/device"
	"github.com/Thermoquad/labwire/pkg/dialects"
	"github.com/Thermoquad/labwire/pkg/protocol"
)

var (
	_ device.Device  = (*Balance)(nil)
	_ device.Balance = (*Balance)(nil)
)

// Balance drives a Kern KDP3000 balance
type Balance struct {
	*device.Session
}

// NewBalance wraps a session of the balance dialect
func NewBalance(s *device.Session) *Balance {
	return &Balance{Session: s}
}

// Initialize resets the balance
func (b *Balance) Initialize() error {
	if _, err := b.Call(dialects.CmdReset, nil); err != nil {
		return err
	}
	b.Logger().Info("Device initialized")
	return nil
}

// Model returns the model fields reported by the balance
func (b *Balance) Model() ([]string, error) {
	return device.Query[[]string](b.Session, dialects.CmdName, nil)
}

// IsConnected is true when the balance answers with its model name. Without
// an open transport it is false.
func (b *Balance) IsConnected() bool {
	if !b.Session.IsConnected() {
		return false
	}
	model, err := b.Model()
	return err == nil && slices.Contains(model, dialects.KernBalanceName)
}

// Tare tares the balance once the reading is stable
func (b *Balance) Tare() error {
	_, err := b.Call(dialects.CmdTare, nil)
	return err
}

// Zero zeroes the balance once the reading is stable
func (b *Balance) Zero() error {
	_, err := b.Call(dialects.CmdZero, nil)
	return err
}

// Weight reads the weight and its unit. A stable reading waits for the
// balance to settle; otherwise the current value is returned.
func (b *Balance) Weight(stable bool) (float64, string, error) {
	name := dialects.CmdWeightImmediate
	if stable {
		name = dialects.CmdWeight
	}
	fields, err := device.Query[[]string](b.Session, name, nil)
	if err != nil {
		return 0, "", err
	}
	if len(fields) != 2 {
		return 0, "", &protocol.Error{
			Kind:    protocol.KindReply,
			Command: name,
			Message: fmt.Sprintf("expected value and unit, got %q", fields),
		}
	}
	v, err := protocol.Coerce(protocol.TypeFloat, fields[0])
	if err != nil {
		return 0, "", &protocol.Error{Kind: protocol.KindReply, Command: name, Message: "weight is not a number", Err: err}
	}
	return v.(float64), fields[1], nil
}
