// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/labwire/pkg/dialects"
	"github.com/Thermoquad/labwire/pkg/protocol"
)

var commandsCmd = &cobra.Command{
	Use:   "commands [DIALECT]",
	Short: "List the commands of a dialect",
	Long: `List every command a dialect defines with its wire name, argument
constraint and reply type.

The dialect is taken from the argument, --dialect, or the selected device.
Without any of them the known dialects are listed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCommands,
}

func init() {
	rootCmd.AddCommand(commandsCmd)
}

func runCommands(cmd *cobra.Command, args []string) error {
	name := dialectName
	if len(args) == 1 {
		name = args[0]
	}

	var d *protocol.Dialect
	var err error
	switch {
	case name != "":
		d, err = dialects.Lookup(name, busAddress)
	case deviceName != "":
		dev, lookupErr := cfg.Device(deviceName)
		if lookupErr != nil {
			return lookupErr
		}
		d, err = dev.LookupDialect()
	default:
		fmt.Println("Dialects:")
		for _, n := range dialects.Names() {
			fmt.Printf("  %s\n", n)
		}
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("Dialect: %s (ready command %s)\n\n", d.Name, d.ReadyCommand)
	fmt.Printf("%-22s %-32s %s\n", "NAME", "WIRE", "REPLY")
	for _, n := range d.Names() {
		c := d.Commands[n]
		reply := "-"
		if c.Reply != protocol.TypeNone {
			reply = c.Reply.String()
		}
		wire := c.String()
		if c.Immediate {
			wire += " (immediate)"
		}
		fmt.Printf("%-22s %-32s %s\n", n, wire, reply)
	}
	return nil
}
