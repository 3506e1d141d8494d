// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package instruments implements the capability interfaces of package device
// on top of sessions speaking the reference dialects.
package instruments

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/labwire/pkg/device"
	"github.com/Thermoquad/labwire/pkg/dialects"
	"github.com/Thermoquad/labwire/pkg/protocol"
)

// FullStroke is the plunger travel of a Tecan-style pump in standard
// resolution
const FullStroke = 6000

// Valve initialization directions
const (
	Clockwise        = "CW"
	CounterClockwise = "CCW"
)

var (
	_ device.Device            = (*SyringePump)(nil)
	_ device.SyringeActuator   = (*SyringePump)(nil)
	_ device.DistributionValve = (*SyringePump)(nil)
)

// SyringePump drives a Tecan XLP6000 or Cadent 3 pump. Motion commands wait
// for the pump to report idle before they are sent.
type SyringePump struct {
	*device.Session

	log        logrus.FieldLogger
	stepsPerML float64

	// settle times between transfer steps
	valveSettle  time.Duration
	liquidSettle time.Duration
	sleep        func(time.Duration)
}

// NewSyringePump wraps a session of a syringe pump dialect
func NewSyringePump(s *device.Session) *SyringePump {
	return &SyringePump{
		Session:      s,
		log:          s.Logger(),
		valveSettle:  time.Second,
		liquidSettle: 3 * time.Second,
		sleep:        time.Sleep,
	}
}

// SetSyringeSize sets the syringe volume in mL. Volumetric moves need either
// the syringe size or a calibration factor.
func (p *SyringePump) SetSyringeSize(ml float64) error {
	if ml <= 0 {
		return fmt.Errorf("invalid syringe size %v mL", ml)
	}
	p.stepsPerML = FullStroke / ml
	return nil
}

// SetStepsPerML sets the volumetric calibration factor directly
func (p *SyringePump) SetStepsPerML(steps float64) error {
	if steps <= 0 {
		return fmt.Errorf("invalid calibration factor %v", steps)
	}
	p.stepsPerML = steps
	return nil
}

// StepsPerML returns the calibration factor, 0 when unset
func (p *SyringePump) StepsPerML() float64 {
	return p.stepsPerML
}

// Initialize homes the plunger and the valve, enumerating valve ports
// clockwise
func (p *SyringePump) Initialize() error {
	return p.InitializeWith(Clockwise, "", "")
}

// InitializeWith runs initialization in the given valve enumeration
// direction. Non-empty input and output ports override the default ports on
// pumps that accept them.
func (p *SyringePump) InitializeWith(direction, inputPort, outputPort string) error {
	var name string
	switch strings.ToUpper(direction) {
	case Clockwise:
		name = dialects.CmdInitCW
	case CounterClockwise:
		name = dialects.CmdInitCCW
	default:
		return &protocol.Error{
			Kind:    protocol.KindInvalidArgument,
			Message: fmt.Sprintf("invalid valve initialization direction %q", direction),
		}
	}

	c, err := p.Dialect().Command(name)
	if err != nil {
		return err
	}

	var arg any
	if c.Arg != protocol.TypeNone {
		args := []string{""}
		for _, port := range []string{inputPort, outputPort} {
			if port == "" {
				continue
			}
			if !validPort(port) {
				return &protocol.Error{
					Kind:    protocol.KindInvalidArgument,
					Command: c.Name,
					Message: fmt.Sprintf("invalid initialization port %q", port),
				}
			}
			args = append(args, port)
		}
		arg = strings.Join(args, ",")
	} else if inputPort != "" || outputPort != "" {
		return fmt.Errorf("%s does not accept initialization ports", p.Dialect().Name)
	}

	if _, err := p.Send(c, arg); err != nil {
		return err
	}
	p.log.Info("Device initialized")
	return nil
}

func validPort(port string) bool {
	for _, v := range dialects.ValvePositions {
		if v == port && port != "" {
			return true
		}
	}
	return false
}

// IsInitialized reports the initialized bit of a fresh status byte
func (p *SyringePump) IsInitialized() (bool, error) {
	if _, err := p.Call(dialects.CmdStatus, nil); err != nil {
		return false, err
	}
	st := p.LastStatus()
	return st.Raw != "" && st.Byte()&(1<<dialects.TecanInitializedBit) != 0, nil
}

// Start runs queued commands. With autorun enabled there is nothing to run.
func (p *SyringePump) Start() error {
	if p.Autorun() {
		p.log.Warn("Run command is not required with autorun enabled")
		return nil
	}
	_, err := p.Call(dialects.CmdRun, nil)
	return err
}

// Stop terminates the current move immediately
func (p *SyringePump) Stop() error {
	_, err := p.Call(dialects.CmdTerminate, nil)
	return err
}

// SetSpeed sets the top velocity in steps per second
func (p *SyringePump) SetSpeed(stepsPerSecond int) error {
	_, err := p.Call(dialects.CmdSetTopVel, stepsPerSecond)
	return err
}

// MoveHome moves the plunger to position 0
func (p *SyringePump) MoveHome() error {
	return p.MovePlungerAbsolute(0)
}

// MovePlungerAbsolute moves the plunger to an absolute step position
func (p *SyringePump) MovePlungerAbsolute(steps int) error {
	return p.move(dialects.CmdMoveAbs, steps)
}

// MovePlungerRelative aspirates for positive steps and dispenses for
// negative ones
func (p *SyringePump) MovePlungerRelative(steps int) error {
	if steps > 0 {
		return p.move(dialects.CmdAspirate, steps)
	}
	return p.move(dialects.CmdDispense, -steps)
}

func (p *SyringePump) move(name string, steps int) error {
	c, err := p.Dialect().Command(name)
	if err != nil {
		return err
	}
	// Validate before waiting so a bad move fails without polling
	if _, err := protocol.Validate(c, steps); err != nil {
		return err
	}
	return p.ExecuteWhenReady(func() error {
		_, err := p.Send(c, steps)
		return err
	})
}

// PlungerPosition returns the absolute plunger position in steps
func (p *SyringePump) PlungerPosition() (int, error) {
	pos, err := device.Query[int64](p.Session, dialects.CmdPosition, nil)
	return int(pos), err
}

// Withdraw aspirates the given volume
func (p *SyringePump) Withdraw(ml float64) error {
	steps, err := p.steps(ml)
	if err != nil {
		return err
	}
	return p.MovePlungerRelative(steps)
}

// Dispense dispenses the given volume
func (p *SyringePump) Dispense(ml float64) error {
	steps, err := p.steps(ml)
	if err != nil {
		return err
	}
	return p.MovePlungerRelative(-steps)
}

func (p *SyringePump) steps(ml float64) (int, error) {
	if p.stepsPerML == 0 {
		return 0, fmt.Errorf("%s: syringe size not set, volumetric moves unavailable", p.Name())
	}
	return int(math.Round(ml * p.stepsPerML)), nil
}

// SetValvePosition switches the valve. Positions are "I" or "O" with an
// optional port number ("I3", "O"), or "B" and "E" for bypass and extra.
func (p *SyringePump) SetValvePosition(position string) error {
	position = strings.ToUpper(strings.TrimSpace(position))
	if position == "" {
		return p.invalidPosition(position)
	}

	var name string
	var arg any
	switch position[0] {
	case 'I':
		name, arg = dialects.CmdValveIn, position[1:]
	case 'O':
		name, arg = dialects.CmdValveOut, position[1:]
	case 'B':
		name = dialects.CmdValveBypass
	case 'E':
		name = dialects.CmdValveExtra
	}
	if name == "" || (arg == nil && len(position) > 1) {
		return p.invalidPosition(position)
	}

	c, err := p.Dialect().Command(name)
	if err != nil {
		return err
	}
	if _, err := protocol.Validate(c, arg); err != nil {
		return err
	}
	return p.ExecuteWhenReady(func() error {
		_, err := p.Send(c, arg)
		return err
	})
}

func (p *SyringePump) invalidPosition(position string) error {
	return &protocol.Error{
		Kind:    protocol.KindInvalidArgument,
		Message: fmt.Sprintf("unknown valve position %q", position),
		Details: map[string]interface{}{"value": position},
	}
}

// ValvePosition returns the current valve position
func (p *SyringePump) ValvePosition() (string, error) {
	return device.Query[string](p.Session, dialects.CmdValvePosition, nil)
}

// Firmware returns the firmware version string
func (p *SyringePump) Firmware() (string, error) {
	return device.Query[string](p.Session, dialects.CmdFirmware, nil)
}

// CheckFirmware fails when the pump firmware does not satisfy constraint,
// e.g. ">= 1.8"
func (p *SyringePump) CheckFirmware(constraint string) error {
	fw, err := p.Firmware()
	if err != nil {
		return err
	}
	return CheckFirmware(fw, constraint)
}

// Prime fills the tubing from port and pushes the air back out, cycles times
func (p *SyringePump) Prime(port string, cycles, steps int) error {
	if err := p.SetValvePosition(port); err != nil {
		return err
	}
	if err := p.MoveHome(); err != nil {
		return err
	}
	for c := 1; c <= cycles; c++ {
		p.log.WithFields(logrus.Fields{"port": port, "cycle": c, "cycles": cycles}).Info("Priming")
		if err := p.MovePlungerAbsolute(steps); err != nil {
			return err
		}
		p.sleep(p.liquidSettle)
		if err := p.MoveHome(); err != nil {
			return err
		}
	}
	return p.WaitUntilReady()
}

// Transfer moves volume mL from one valve position to another in full
// strokes plus a remainder
func (p *SyringePump) Transfer(from, to string, ml float64) error {
	steps, err := p.steps(ml)
	if err != nil {
		return err
	}

	strokes := steps / FullStroke
	remainder := steps % FullStroke
	p.log.WithFields(logrus.Fields{
		"from":      from,
		"to":        to,
		"volume_ml": ml,
		"strokes":   strokes,
		"remainder": remainder,
	}).Info("Transfer")

	for i := 0; i < strokes; i++ {
		if err := p.stroke(from, to, FullStroke); err != nil {
			return err
		}
	}
	if remainder > 0 {
		if err := p.stroke(from, to, remainder); err != nil {
			return err
		}
	}
	return p.WaitUntilReady()
}

func (p *SyringePump) stroke(from, to string, steps int) error {
	if err := p.SetValvePosition(from); err != nil {
		return err
	}
	p.sleep(p.valveSettle)
	if err := p.MovePlungerAbsolute(steps); err != nil {
		return err
	}
	p.sleep(p.liquidSettle)
	if err := p.SetValvePosition(to); err != nil {
		return err
	}
	p.sleep(p.valveSettle)
	return p.MoveHome()
}
