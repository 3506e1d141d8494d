// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/labwire/pkg/protocol"
)

var faultsCmd = &cobra.Command{
	Use:   "faults",
	Short: "Read the device's error flags",
	Long: `Query the error flags of a device that reports faults through a
dedicated error command, such as the IN_ERR flags of a CVC 3000, and list
every fault that is set.

Exit codes:
  0 - No fault set
  1 - One or more faults set
  2 - Connection or reply error`,
	RunE: runFaults,
}

func init() {
	rootCmd.AddCommand(faultsCmd)
}

func runFaults(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	sessions, _, err := rt.openSelected(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		rt.Close()
		os.Exit(2)
	}
	s := sessions[0]

	err = s.CheckErrors()
	if err == nil {
		fmt.Printf("%s: no faults\n", s.Name())
		return nil
	}

	faults := faultList(err)
	if faults == nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", s.Name(), err)
		rt.Close()
		os.Exit(2)
	}
	for _, f := range faults {
		fmt.Printf("%s: bit %s: %s (%s)\n", s.Name(), f.Code, f.Message, f.Category)
	}
	rt.Close()
	os.Exit(1)
	return nil
}

// faultList returns the faults carried by a device fault error, or nil for
// any other error
func faultList(err error) []protocol.Fault {
	var e *protocol.Error
	if !errors.As(err, &e) || e.Kind != protocol.KindDeviceFault {
		return nil
	}
	if faults, ok := e.Details["faults"].([]protocol.Fault); ok {
		return faults
	}
	if f, ok := e.Fault(); ok {
		return []protocol.Fault{f}
	}
	return nil
}
