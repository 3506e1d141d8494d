// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dialects

import (
	"fmt"

	"github.com/Thermoquad/labwire/pkg/protocol"
)

// Syringe pump command names, shared by the XLP6000 and Cadent 3 tables
const (
	CmdInitCW         = "INIT_CW"
	CmdInitCCW        = "INIT_CCW"
	CmdInitValve      = "INIT_VALVE"
	CmdInitSyringe    = "INIT_SYRINGE"
	CmdMoveAbs        = "MOVE_ABS"
	CmdMoveAbsNoBusy  = "MOVE_ABS_NOBUSY"
	CmdAspirate       = "ASPIRATE"
	CmdAspirateNoBusy = "ASPIRATE_NOBUSY"
	CmdDispense       = "DISPENSE"
	CmdDispenseNoBusy = "DISPENSE_NOBUSY"
	CmdValveIn        = "VALVE_IN"
	CmdValveOut       = "VALVE_OUT"
	CmdValveBypass    = "VALVE_BYPASS"
	CmdValveExtra     = "VALVE_EXTRA"
	CmdRun            = "RUN"
	CmdRepeatLast     = "REPEAT_LAST"
	CmdHalt           = "HALT"
	CmdTerminate      = "TERMINATE"
	CmdLoopStart      = "LOOP_START"
	CmdLoopEnd        = "LOOP_END"
	CmdDelay          = "DELAY"
	CmdStatus         = "STATUS"
	CmdFirmware       = "FIRMWARE"
	CmdPosition       = "POSITION"
	CmdStartVelocity  = "GET_START_VELOCITY"
	CmdTopVelocity    = "GET_TOP_VELOCITY"
	CmdStopVelocity   = "GET_STOP_VELOCITY"
	CmdSupplyVoltage  = "SUPPLY_VOLTAGE"
	CmdValvePosition  = "VALVE_POSITION"
	CmdSetRampSlope   = "SET_RAMP_SLOPE"
	CmdSetStartVel    = "SET_START_VELOCITY"
	CmdSetTopVel      = "SET_TOP_VELOCITY"
	CmdSetSpeed       = "SET_SPEED"
	CmdSetStopVel     = "SET_STOP_VELOCITY"
	CmdSetResolution  = "SET_RESOLUTION"
	CmdSetValveType   = "SET_VALVE_TYPE"
	CmdSetDeadVolume  = "SET_DEAD_VOLUME"
	CmdSetExtOutput   = "SET_EXT_OUTPUT"
	CmdGetBacklash    = "GET_BACKLASH"
	CmdGetStepRamp    = "GET_STEP_RAMP"
	CmdGetResolution  = "GET_RESOLUTION"
	CmdEEPROMData     = "EEPROM_DATA"
)

// Status byte layout of Tecan-style pumps: bit 5 idle, bit 6 initialized,
// low bits error code.
const (
	TecanIdleBit        = 5
	TecanInitializedBit = 6
	tecanDefaultStatus  = "`"
)

var tecanSwitchAddresses = map[string]string{
	"0": "1", "1": "2", "2": "3", "3": "4", "4": "5",
	"5": "6", "6": "7", "7": "8", "8": "9", "9": ":",
	"A": ";", "B": "<", "C": "=", "D": ">", "E": "?",
	"all": "-",
}

var cadentSwitchAddresses = map[string]string{
	"1": "1", "2": "2", "3": "3", "4": "4", "5": "5",
	"6": "6", "7": "7", "8": "8", "9": "9",
	"A": ":", "B": ";", "C": "<", "D": "=", "E": ">", "F": "?",
	"all": "_",
}

// TecanAddress maps an XLP6000 address switch position to the address
// character used on the bus. "all" addresses every pump.
func TecanAddress(switchPos string) (string, error) {
	return mapAddress("XLP6000", tecanSwitchAddresses, switchPos)
}

// CadentAddress is TecanAddress for Cadent 3 pumps
func CadentAddress(switchPos string) (string, error) {
	return mapAddress("Cadent 3", cadentSwitchAddresses, switchPos)
}

func mapAddress(family string, table map[string]string, switchPos string) (string, error) {
	if switchPos == "" {
		switchPos = "0"
		if _, ok := table[switchPos]; !ok {
			switchPos = "1"
		}
	}
	addr, ok := table[switchPos]
	if !ok {
		return "", fmt.Errorf("invalid %s address switch position %q", family, switchPos)
	}
	return addr, nil
}

var xlpFaults = map[byte]protocol.Fault{
	1:  {Message: "Initialization failure", Category: protocol.CategoryDeviceFault},
	2:  {Message: "Invalid command", Category: protocol.CategoryInvalidArgument},
	3:  {Message: "Invalid operand", Category: protocol.CategoryInvalidArgument},
	6:  {Message: "EEPROM failure", Category: protocol.CategoryInternal},
	7:  {Message: "Device not initialized", Category: protocol.CategoryDeviceFault},
	8:  {Message: "Internal failure", Category: protocol.CategoryInternal},
	9:  {Message: "Plunger overload", Category: protocol.CategoryDeviceFault},
	10: {Message: "Valve overload", Category: protocol.CategoryDeviceFault},
	11: {Message: "Plunger move not allowed, check valve position", Category: protocol.CategoryDeviceFault},
	12: {Message: "Internal failure", Category: protocol.CategoryInternal},
	14: {Message: "ADC failure", Category: protocol.CategoryInternal},
	15: {Message: "Command overflow", Category: protocol.CategoryCommunication},
}

var cadentFaults = map[byte]protocol.Fault{
	1:  {Message: "syringe failed to initialize", Category: protocol.CategoryDeviceFault},
	2:  {Message: "invalid command", Category: protocol.CategoryInvalidArgument},
	3:  {Message: "invalid argument", Category: protocol.CategoryInvalidArgument},
	4:  {Message: "communication error", Category: protocol.CategoryCommunication},
	5:  {Message: `invalid "R" command`, Category: protocol.CategoryInvalidArgument},
	6:  {Message: "supply voltage too low", Category: protocol.CategoryDeviceFault},
	7:  {Message: "device not initialized", Category: protocol.CategoryDeviceFault},
	8:  {Message: "program in progress", Category: protocol.CategoryDeviceFault},
	9:  {Message: "syringe overload", Category: protocol.CategoryDeviceFault},
	10: {Message: "valve overload", Category: protocol.CategoryDeviceFault},
	11: {Message: "syringe move not allowed", Category: protocol.CategoryDeviceFault},
	12: {Message: "cannot move against limit", Category: protocol.CategoryDeviceFault},
	15: {Message: "command buffer overflow", Category: protocol.CategoryCommunication},
	16: {Message: "use for 3-way valve only", Category: protocol.CategoryInvalidArgument},
	17: {Message: "loops nested too deep", Category: protocol.CategoryInternal},
	18: {Message: "program label not found", Category: protocol.CategoryInternal},
	19: {Message: "end of program not found", Category: protocol.CategoryInternal},
	20: {Message: "out of program space", Category: protocol.CategoryInternal},
	21: {Message: "home not set", Category: protocol.CategoryDeviceFault},
	22: {Message: "too many program calls", Category: protocol.CategoryInternal},
	23: {Message: "program not found", Category: protocol.CategoryInternal},
	24: {Message: "valve position error", Category: protocol.CategoryDeviceFault},
	25: {Message: "syringe position corrupted", Category: protocol.CategoryDeviceFault},
	26: {Message: "syringe may go past home", Category: protocol.CategoryDeviceFault},
}

// ValvePositions are the numeric ports accepted by the I and O valve
// commands. The empty position selects the default port.
var ValvePositions = append([]any{""}, strRange(1, 9)...)

// tecanFraming is shared by both pump families. Replies come from the master
// address "0" and end with ETX.
func tecanFraming(address string) protocol.Framing {
	return protocol.Framing{
		CommandPrefix:     "/" + address,
		ExecSuffix:        "R",
		CommandTerminator: "\r\n",
		ReplyPrefix:       "/0",
		ReplyTerminator:   "\x03\r\n",
	}
}

// TecanXLP6000 returns the dialect of a Tecan Cavro XLP6000 syringe pump at
// the given address switch position ("0".."E", "all", or empty for "0").
func TecanXLP6000(switchPos string) (*protocol.Dialect, error) {
	addr, err := TecanAddress(switchPos)
	if err != nil {
		return nil, err
	}

	position := query("?", protocol.TypeInt, nil)
	// ? is only answered outside of queued execution
	position.Immediate = true

	return &protocol.Dialect{
		Name:    NameTecanXLP6000,
		Framing: tecanFraming(addr),
		Commands: map[string]*protocol.Command{
			// Initialization takes a comma separated argument list, e.g. ",1,6"
			CmdInitCW:      typed("Z", protocol.TypeString, nil, protocol.TypeString),
			CmdInitCCW:     typed("Y", protocol.TypeString, nil, protocol.TypeString),
			CmdInitValve:   typed("w", protocol.TypeString, nil, protocol.TypeString),
			CmdInitSyringe: typed("W", protocol.TypeString, nil, protocol.TypeString),

			CmdMoveAbs:        typed("A", protocol.TypeInt, protocol.Between(0, 6000), protocol.TypeString),
			CmdMoveAbsNoBusy:  typed("a", protocol.TypeInt, protocol.Between(0, 6000), protocol.TypeString),
			CmdAspirate:       typed("P", protocol.TypeInt, protocol.Between(0, 6000), protocol.TypeString),
			CmdAspirateNoBusy: typed("p", protocol.TypeInt, protocol.Between(0, 6000), protocol.TypeString),
			CmdDispense:       typed("D", protocol.TypeInt, protocol.Between(0, 6000), protocol.TypeString),
			CmdDispenseNoBusy: typed("d", protocol.TypeInt, protocol.Between(0, 6000), protocol.TypeString),

			CmdValveIn:     typed("I", protocol.TypeString, protocol.OneOf(ValvePositions...), protocol.TypeString),
			CmdValveOut:    typed("O", protocol.TypeString, protocol.OneOf(ValvePositions...), protocol.TypeString),
			CmdValveBypass: action("B", protocol.TypeString),
			CmdValveExtra:  action("E", protocol.TypeString),

			CmdRun:        action("R", protocol.TypeString),
			CmdRepeatLast: action("X", protocol.TypeString),
			CmdHalt:       action("H", protocol.TypeString),
			CmdTerminate:  action("T", protocol.TypeString),
			CmdLoopStart:  {Name: "g"},
			CmdLoopEnd:    typed("G", protocol.TypeInt, protocol.Between(0, 48000), protocol.TypeNone),
			CmdDelay:      typed("M", protocol.TypeInt, protocol.Between(0, 30000), protocol.TypeNone),

			CmdStatus:        {Name: "Q"},
			CmdFirmware:      query("?23", protocol.TypeString, nil),
			CmdEEPROMData:    query("?76", protocol.TypeString, nil),
			CmdPosition:      position,
			CmdStartVelocity: query("?1", protocol.TypeInt, nil),
			CmdTopVelocity:   query("?2", protocol.TypeInt, nil),
			CmdStopVelocity:  query("?3", protocol.TypeInt, nil),
			CmdGetStepRamp:   query("?25", protocol.TypeString, nil),
			CmdGetBacklash:   query("?12", protocol.TypeInt, nil),
			CmdGetResolution: query("?28", protocol.TypeString, nil),
			CmdSupplyVoltage: query("*", protocol.TypeInt, nil),
			CmdValvePosition: query("?6", protocol.TypeString, protocol.Upper()),

			CmdSetValveType:  action("U", protocol.TypeString),
			CmdSetDeadVolume: action("k", protocol.TypeString),
			CmdSetRampSlope:  typed("L", protocol.TypeString, protocol.OneOf(strRange(1, 20)...), protocol.TypeNone),
			CmdSetStartVel:   typed("v", protocol.TypeInt, protocol.Between(1, 8000), protocol.TypeString),
			CmdSetTopVel:     typed("V", protocol.TypeInt, protocol.Between(1, 48000), protocol.TypeString),
			CmdSetSpeed:      typed("S", protocol.TypeString, protocol.OneOf(strRange(0, 40)...), protocol.TypeString),
			CmdSetStopVel:    typed("c", protocol.TypeInt, protocol.Between(1, 21600), protocol.TypeString),
			CmdSetResolution: typed("N", protocol.TypeInt, protocol.OneOf(0, 1, 2), protocol.TypeString),
			CmdSetExtOutput:  action("J", protocol.TypeString),
		},
		Status: protocol.Bitfield{
			Mask:   0x0F,
			Faults: xlpFaults,
		},
		StatusReplies:  true,
		ReadyCommand:   CmdStatus,
		Idle:           protocol.StatusBit(TecanIdleBit),
		SimulatedReady: tecanDefaultStatus,
	}, nil
}

// Cadent3 returns the dialect of an IMI Norgren Cadent 3 syringe pump. The
// framing matches the XLP6000; the error code uses five status bits.
func Cadent3(switchPos string) (*protocol.Dialect, error) {
	addr, err := CadentAddress(switchPos)
	if err != nil {
		return nil, err
	}

	position := query("?", protocol.TypeInt, nil)
	position.Immediate = true

	return &protocol.Dialect{
		Name:    NameCadent3,
		Framing: tecanFraming(addr),
		Commands: map[string]*protocol.Command{
			CmdInitCW:      action("Z4", protocol.TypeString),
			CmdInitCCW:     action("Y4", protocol.TypeString),
			CmdInitSyringe: action("W10", protocol.TypeString),
			CmdInitValve:   action("W7", protocol.TypeString),

			CmdMoveAbs:        typed("A", protocol.TypeInt, protocol.Between(0, 6000), protocol.TypeString),
			CmdMoveAbsNoBusy:  typed("a", protocol.TypeInt, protocol.Between(0, 6000), protocol.TypeString),
			CmdAspirate:       typed("P", protocol.TypeInt, protocol.Between(0, 6000), protocol.TypeString),
			CmdAspirateNoBusy: typed("p", protocol.TypeInt, protocol.Between(0, 6000), protocol.TypeString),
			CmdDispense:       typed("D", protocol.TypeInt, protocol.Between(0, 6000), protocol.TypeString),
			CmdDispenseNoBusy: typed("d", protocol.TypeInt, protocol.Between(0, 6000), protocol.TypeString),

			CmdValveIn:     typed("I", protocol.TypeString, protocol.OneOf(ValvePositions...), protocol.TypeString),
			CmdValveOut:    typed("O", protocol.TypeString, protocol.OneOf(ValvePositions...), protocol.TypeString),
			CmdValveBypass: action("B", protocol.TypeString),

			CmdRun:        action("R", protocol.TypeString),
			CmdRepeatLast: action("X", protocol.TypeString),
			CmdHalt:       action("H", protocol.TypeString),
			CmdTerminate:  action("T", protocol.TypeString),
			CmdLoopStart:  {Name: "g"},
			CmdLoopEnd:    typed("G", protocol.TypeInt, protocol.Between(0, 48000), protocol.TypeNone),
			CmdDelay:      typed("M", protocol.TypeInt, protocol.Between(0, 30000), protocol.TypeNone),

			CmdStatus:        {Name: "Q"},
			CmdFirmware:      query("?32", protocol.TypeString, nil),
			CmdPosition:      position,
			CmdStartVelocity: query("?1", protocol.TypeInt, nil),
			CmdTopVelocity:   query("?2", protocol.TypeInt, nil),
			CmdStopVelocity:  query("?3", protocol.TypeInt, nil),
			CmdGetStepRamp:   query("?30", protocol.TypeString, protocol.Fields(",", 0, 2)),
			CmdGetBacklash:   query("?31", protocol.TypeInt, nil),
			CmdSupplyVoltage: query("*", protocol.TypeInt, nil),
			CmdValvePosition: query("?6", protocol.TypeString, protocol.Upper()),

			CmdSetStartVel: typed("v", protocol.TypeInt, protocol.Between(1, 1000), protocol.TypeString),
			CmdSetTopVel:   typed("V", protocol.TypeInt, protocol.Between(1, 6000), protocol.TypeString),
			CmdSetStopVel:  typed("c", protocol.TypeInt, protocol.Between(50, 2700), protocol.TypeString),
			CmdSetSpeed:    typed("S", protocol.TypeString, protocol.OneOf(strRange(0, 40)...), protocol.TypeString),
		},
		Status: protocol.Bitfield{
			Mask:   0x1F,
			Faults: cadentFaults,
		},
		StatusReplies:  true,
		ReadyCommand:   CmdStatus,
		Idle:           protocol.StatusBit(TecanIdleBit),
		SimulatedReady: tecanDefaultStatus,
	}, nil
}
