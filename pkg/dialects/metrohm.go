// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dialects

import "github.com/Thermoquad/labwire/pkg/protocol"

// pH meter command names
const (
	CmdPrimaryValue   = "PRIMARY_VALUE"
	CmdSecondaryValue = "SECONDARY_VALUE"
	CmdStirrerStatus  = "STIRRER_STATUS"
	CmdStirrerOn      = "STIRRER_ON"
	CmdStirrerOff     = "STIRRER_OFF"
	CmdStirrerRate    = "STIRRER_RATE"
	CmdSetStirrerRate = "SET_STIRRER_RATE"
)

// Metrohm global states, the first two characters of a $D reply
const (
	MetrohmIdle    = "$R"
	MetrohmRunning = "$G"
	MetrohmStopped = "$S"
)

// Metrohm781 returns the dialect of a Metrohm 781 pH meter
func Metrohm781() *protocol.Dialect {
	quoted := protocol.Strip(`"`)

	rates := make([]any, 0, 15)
	for _, r := range strRange(1, 15) {
		rates = append(rates, `"`+r.(string)+`"`)
	}

	return &protocol.Dialect{
		Name: NameMetrohm781,
		Framing: protocol.Framing{
			CommandTerminator: "\r\n",
			ReplyTerminator:   "\r\r\n",
			ArgDelimiter:      " ",
		},
		Commands: map[string]*protocol.Command{
			CmdFirmware:       query("&Config.Aux.Prog $Q", protocol.TypeString, protocol.Search(`\d\.\d{3}\.\d{4}`)),
			CmdStatus:         query("$D", protocol.TypeString, nil),
			CmdPrimaryValue:   query("&Info.ActualInfo.MeasValue.Primary $Q", protocol.TypeFloat, quoted),
			CmdSecondaryValue: query("&Info.ActualInfo.MeasValue.Secondary $Q", protocol.TypeFloat, quoted),
			CmdStirrerStatus:  query("&Mode.pH.MeasPara.Stirrer.Status $Q", protocol.TypeString, quoted),
			CmdStirrerOn:      {Name: `&Mode.pH.MeasPara.Stirrer.Status "ON"`},
			CmdStirrerOff:     {Name: `&Mode.pH.MeasPara.Stirrer.Status "OFF"`},
			CmdStirrerRate:    query("&Mode.pH.MeasPara.Stirrer.Rate $Q", protocol.TypeInt, quoted),
			CmdSetStirrerRate: typed("&Mode.pH.MeasPara.Stirrer.Rate", protocol.TypeString, protocol.OneOf(rates...), protocol.TypeNone),
		},
		ReadyCommand:   CmdStatus,
		Idle:           protocol.ValuePrefix(MetrohmIdle),
		SimulatedReady: MetrohmIdle,
	}
}
