// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/labwire/internal/config"
	"github.com/Thermoquad/labwire/pkg/device"
	"github.com/Thermoquad/labwire/pkg/dialects"
	"github.com/Thermoquad/labwire/pkg/instruments"
)

var pumpCmd = &cobra.Command{
	Use:   "pump",
	Short: "Run syringe pump operations",
	Long: `Drive a Tecan XLP6000 or Cadent 3 syringe pump through volumetric and
valve operations. Each operation waits until the pump reports ready.

Volumes are in mL and need syringe_size set for the device in the config
file.

Exit codes:
  0 - Operation completed
  1 - Device fault or invalid argument
  2 - Connection or reply error`,
}

var pumpSyringeSize float64

func init() {
	rootCmd.AddCommand(pumpCmd)
	pumpCmd.PersistentFlags().Float64Var(&pumpSyringeSize, "syringe-size", 0, "Syringe volume in mL (overrides the config file)")
	pumpCmd.AddCommand(
		pumpOp("init", "Home the plunger and the valve", cobra.NoArgs,
			func(p *instruments.SyringePump, _ []string) error { return p.Initialize() }),
		pumpOp("valve PORT", "Switch the valve to PORT (I, O, B, E, I3, ...)", cobra.ExactArgs(1),
			func(p *instruments.SyringePump, args []string) error { return p.SetValvePosition(args[0]) }),
		pumpOp("withdraw ML", "Aspirate ML through the current valve position", cobra.ExactArgs(1),
			func(p *instruments.SyringePump, args []string) error {
				ml, err := parseVolume(args[0])
				if err != nil {
					return err
				}
				return p.Withdraw(ml)
			}),
		pumpOp("dispense ML", "Dispense ML through the current valve position", cobra.ExactArgs(1),
			func(p *instruments.SyringePump, args []string) error {
				ml, err := parseVolume(args[0])
				if err != nil {
					return err
				}
				return p.Dispense(ml)
			}),
		pumpOp("transfer FROM TO ML", "Move ML from one valve port to another", cobra.ExactArgs(3),
			func(p *instruments.SyringePump, args []string) error {
				ml, err := parseVolume(args[2])
				if err != nil {
					return err
				}
				return p.Transfer(args[0], args[1], ml)
			}),
		pumpOp("position", "Print the plunger position in steps", cobra.NoArgs,
			func(p *instruments.SyringePump, _ []string) error {
				pos, err := p.PlungerPosition()
				if err != nil {
					return err
				}
				fmt.Println(pos)
				return nil
			}),
	)
}

// pumpOp builds a pump subcommand running op on the selected pump
func pumpOp(use, short string, args cobra.PositionalArgs, op func(*instruments.SyringePump, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, argv []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			sessions, devices, err := rt.openSelected(false)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
				rt.Close()
				os.Exit(2)
			}

			p, err := newPump(sessions[0], devices[0])
			if err != nil {
				return err
			}
			if err := op(p, argv); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", p.Name(), err)
				rt.Close()
				os.Exit(exitCode(err))
			}
			return nil
		},
	}
}

// newPump wraps a pump session and applies the syringe size. Syringe pumps
// are the bus addressed dialects.
func newPump(s *device.Session, d config.Device) (*instruments.SyringePump, error) {
	if dialects.SwitchPositions(d.Dialect) == nil {
		return nil, fmt.Errorf("device %s (%s) is not a syringe pump", d.Name, d.Dialect)
	}
	p := instruments.NewSyringePump(s)

	size := d.SyringeSize
	if pumpSyringeSize > 0 {
		size = pumpSyringeSize
	}
	if size > 0 {
		if err := p.SetSyringeSize(size); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func parseVolume(s string) (float64, error) {
	ml, err := strconv.ParseFloat(s, 64)
	if err != nil || ml <= 0 {
		return 0, fmt.Errorf("invalid volume %q, want a positive number of mL", s)
	}
	return ml, nil
}
