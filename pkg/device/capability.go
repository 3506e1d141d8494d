// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

// Device is the lifecycle every driver exposes
type Device interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	IsIdle() (bool, error)
	Initialize() error
}

// SyringeActuator moves a syringe plunger. Positions are in motor steps.
type SyringeActuator interface {
	MoveHome() error
	MovePlungerAbsolute(steps int) error
	// MovePlungerRelative aspirates for positive steps, dispenses for negative
	MovePlungerRelative(steps int) error
	PlungerPosition() (int, error)
}

// DistributionValve switches a multi-port valve
type DistributionValve interface {
	SetValvePosition(position string) error
	ValvePosition() (string, error)
}

// Balance reads a weighing cell
type Balance interface {
	Tare() error
	Zero() error
	// Weight returns the weight and its unit. With stable set the balance
	// waits for a settled reading.
	Weight(stable bool) (float64, string, error)
}
