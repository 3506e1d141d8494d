// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dialects

import "github.com/Thermoquad/labwire/pkg/protocol"

// Vacuum controller command names
const (
	CmdVersion          = "VERSION"
	CmdConfiguration    = "CONFIGURATION"
	CmdErrors           = "ERRORS"
	CmdSetMode          = "SET_MODE"
	CmdSelectCVC3000    = "SELECT_CVC3000"
	CmdPressure         = "PRESSURE"
	CmdPressureSetpoint = "PRESSURE_SETPOINT"
	CmdSetPressure      = "SET_PRESSURE"
	CmdSetPressureVent  = "SET_PRESSURE_VENT"
	CmdPumpSpeed        = "PUMP_SPEED"
	CmdPumpSpeedSet     = "PUMP_SPEED_SETPOINT"
	CmdSetPumpSpeed     = "SET_PUMP_SPEED"
	CmdVentOn           = "VENT_ON"
	CmdVentOff          = "VENT_OFF"
	CmdVentToAtm        = "VENT_TO_ATMOSPHERE"
	CmdStart            = "START"
	CmdStop             = "STOP"
	CmdSetRemote        = "SET_REMOTE"
	CmdSetEcho          = "SET_ECHO"
	CmdUptime           = "UPTIME"
	CmdRuntime          = "RUNTIME"
	CmdSetDelayTime     = "SET_DELAY_TIME"
	CmdOffPressure      = "OFF_PRESSURE"
	CmdSetOffPressure   = "SET_OFF_PRESSURE"
)

// CVC3000Name is the model string reported by IN_VER
const CVC3000Name = "CVC 3000"

// cvcStatusExample is a stopped pump in vac control mode
const cvcStatusExample = "000020"

// cvcErrorFlags maps the bits of the IN_ERR reply to faults
var cvcErrorFlags = protocol.BitFlags{
	8: {Message: "Pump error", Category: protocol.CategoryDeviceFault},
	7: {Message: "In-line valve error", Category: protocol.CategoryDeviceFault},
	6: {Message: "Coolant valve error", Category: protocol.CategoryDeviceFault},
	5: {Message: "Vent valve error", Category: protocol.CategoryDeviceFault},
	4: {Message: "Overpressure error", Category: protocol.CategoryDeviceFault},
	3: {Message: "Vacuum sensor error", Category: protocol.CategoryDeviceFault},
	2: {Message: "External error", Category: protocol.CategoryDeviceFault},
	1: {Message: "Catch pot full error", Category: protocol.CategoryDeviceFault},
	0: {Message: "Last command incorrect", Category: protocol.CategoryInvalidArgument},
}

// Air admittance valve positions echoed by OUT_VENT
const (
	ventClosed = 0
	ventOpen   = 1
	ventAuto   = 2
)

// CVC3000 returns the dialect of a Vacuubrand CVC 3000 vacuum controller.
// The controller has no status indicator. In echo mode it answers every
// setting with the value applied and stays silent when it rejects one;
// IN_ERR reports the remaining faults as error flags.
func CVC3000() *protocol.Dialect {
	return &protocol.Dialect{
		Name: NameCVC3000,
		Framing: protocol.Framing{
			CommandTerminator: "\r\n",
			ReplyTerminator:   "\r\n",
			ArgDelimiter:      " ",
		},
		Commands: map[string]*protocol.Command{
			CmdName:          query("IN_VER", protocol.TypeString, protocol.Slice(0, 8)),
			CmdVersion:       query("IN_VER", protocol.TypeFloat, protocol.Slice(11, 15)),
			CmdConfiguration: query("IN_CFG", protocol.TypeString, nil),
			CmdStatus:        query("IN_STAT", protocol.TypeString, nil),
			CmdErrors:        query("IN_ERR", protocol.TypeString, nil),

			CmdSetMode:       echoed("OUT_MODE", protocol.TypeInt, protocol.OneOf(0, 1, 2, 3, 4, 5), protocol.TypeInt),
			CmdSelectCVC3000: action("CVC 3000", protocol.TypeInt),

			CmdPressure:         query("IN_PV_1", protocol.TypeFloat, protocol.Slice(0, 6)),
			CmdPressureSetpoint: query("IN_SP_1", protocol.TypeInt, protocol.Slice(0, 4)),
			CmdSetPressure:      echoed("OUT_SP_1", protocol.TypeInt, protocol.Between(0, 1060), protocol.TypeInt),
			CmdSetPressureVent:  echoed("OUT_SP_V", protocol.TypeInt, protocol.Between(0, 1060), protocol.TypeInt),

			CmdPumpSpeed:    query("IN_PV_2", protocol.TypeInt, protocol.Slice(0, 3)),
			CmdPumpSpeedSet: query("IN_SP_2", protocol.TypeInt, protocol.Slice(0, 3)),
			CmdSetPumpSpeed: echoed("OUT_SP_2", protocol.TypeInt, protocol.Between(0, 100), protocol.TypeInt),

			CmdVentOn:    acknowledged("OUT_VENT 1", protocol.TypeInt, ventOpen),
			CmdVentOff:   acknowledged("OUT_VENT 0", protocol.TypeInt, ventClosed),
			CmdVentToAtm: acknowledged("OUT_VENT 2", protocol.TypeInt, ventAuto),
			CmdStart:     action("START 1", protocol.TypeInt),
			CmdStop:      action("STOP 1", protocol.TypeInt),

			CmdSetRemote: echoed("REMOTE", protocol.TypeInt, protocol.OneOf(0, 1), protocol.TypeBool),
			CmdSetEcho:   echoed("ECHO", protocol.TypeInt, protocol.OneOf(0, 1), protocol.TypeBool),

			CmdUptime:         query("IN_PV_T", protocol.TypeString, nil),
			CmdRuntime:        query("IN_PV_3", protocol.TypeString, nil),
			CmdSetDelayTime:   typed("OUT_SP_4", protocol.TypeInt, protocol.Between(1, 300), protocol.TypeString),
			CmdOffPressure:    query("IN_SP_5", protocol.TypeInt, protocol.Slice(0, 4)),
			CmdSetOffPressure: echoed("OUT_SP_5", protocol.TypeInt, protocol.Between(0, 1060), protocol.TypeInt),
		},
		ReadyCommand:   CmdStatus,
		Idle:           controlOff{},
		SimulatedReady: cvcStatusExample,
		ErrorQuery:     CmdErrors,
		ErrorFlags:     cvcErrorFlags,
	}
}

func echoed(name string, arg protocol.ValueType, rule protocol.Rule, reply protocol.ValueType) *protocol.Command {
	c := typed(name, arg, rule, reply)
	c.Readback = true
	return c
}

func acknowledged(name string, reply protocol.ValueType, expect any) *protocol.Command {
	c := action(name, reply)
	c.Readback = true
	c.Expect = expect
	return c
}

// controlOff is idle when the last digit of IN_STAT, the control state,
// reads 0.
type controlOff struct{}

func (controlOff) Idle(_ protocol.Status, value any) bool {
	s, ok := value.(string)
	return ok && len(s) == len(cvcStatusExample) && s[len(s)-1] == '0'
}
