// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dialects

import (
	"slices"

	"github.com/Thermoquad/labwire/pkg/protocol"
)

// Balance command names
const (
	CmdCommandList     = "COMMAND_LIST"
	CmdName            = "NAME"
	CmdSoftwareVersion = "SOFTWARE_VERSION"
	CmdSerialNumber    = "SERIAL_NUMBER"
	CmdTare            = "TARE"
	CmdTareImmediate   = "TARE_IMMEDIATE"
	CmdZero            = "ZERO"
	CmdZeroImmediate   = "ZERO_IMMEDIATE"
	CmdWeight          = "WEIGHT"
	CmdWeightImmediate = "WEIGHT_IMMEDIATE"
	CmdCalibrateZero   = "CALIBRATE_ZERO"
	CmdCalibrateMax    = "CALIBRATE_MAX"
	CmdCalibrateSave   = "CALIBRATE_SAVE"
	CmdReset           = "RESET"
)

// KernBalanceName is the model string the balance reports for I2
const KernBalanceName = "KDP3000"

// KernKDP3000 returns the dialect of a Kern KDP3000 balance. Replies echo
// the command followed by a response code, e.g. "S S     12.345 g".
func KernKDP3000() *protocol.Dialect {
	// Weight replies decode to [value, unit]
	weight := query("S", protocol.TypeString, protocol.Fields(" ", 0, 2))
	weightNow := query("SI", protocol.TypeString, protocol.Fields(" ", 0, 2))

	return &protocol.Dialect{
		Name: NameKernKDP3000,
		Framing: protocol.Framing{
			CommandTerminator: "\r\n",
			ReplyTerminator:   "\r\n",
			ArgDelimiter:      " ",
		},
		Commands: map[string]*protocol.Command{
			CmdCommandList:     query("I0", protocol.TypeString, protocol.Fields(" ", 0, 0)),
			CmdName:            query("I2", protocol.TypeString, protocol.Fields(" ", 1, 0)),
			CmdSoftwareVersion: query("I3", protocol.TypeString, protocol.Fields(" ", 1, 0)),
			CmdSerialNumber:    query("I4", protocol.TypeString, protocol.Fields(" ", 1, 0)),
			CmdTare:            action("T", protocol.TypeString),
			CmdTareImmediate:   action("TI", protocol.TypeString),
			CmdZero:            action("Z", protocol.TypeString),
			CmdZeroImmediate:   action("ZI", protocol.TypeString),
			CmdWeight:          weight,
			CmdWeightImmediate: weightNow,
			CmdCalibrateZero:   action("JZ", protocol.TypeString),
			CmdCalibrateMax:    action("JG", protocol.TypeString),
			CmdCalibrateSave:   action("JS", protocol.TypeString),
			CmdReset:           action("@", protocol.TypeString),
		},
		Status: protocol.Token{
			Separator: " ",
			Position:  1,
			OK:        []string{"A", "B", "S", "D"},
			Faults: map[string]protocol.Fault{
				"L":  {Message: "Logical error or invalid parameter", Category: protocol.CategoryInvalidArgument},
				"I":  {Message: "Internal error", Category: protocol.CategoryInternal},
				"ES": {Message: "Syntax error", Category: protocol.CategoryInvalidArgument},
				"+":  {Message: "Overweight", Category: protocol.CategoryDeviceFault},
				"-":  {Message: "Underweight", Category: protocol.CategoryDeviceFault},
			},
		},
		StatusReplies:  true,
		// The balance has no busy state; answering its name means ready
		ReadyCommand:   CmdName,
		Idle:           hasField(KernBalanceName),
		SimulatedReady: `I2 A "KERN ` + KernBalanceName + `"`,
	}
}

// hasField is idle when a []string reply contains the given field
type hasField string

func (h hasField) Idle(_ protocol.Status, value any) bool {
	fields, ok := value.([]string)
	return ok && slices.Contains(fields, string(h))
}
