// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait until the device reports ready",
	Long: `Poll the device's ready command until it reports idle, a fault is
reported, or the configured attempt budget runs out.

Exit codes:
  0 - Device is ready
  1 - Device faulted or stayed busy
  2 - Connection error`,
	RunE: runWait,
}

func init() {
	rootCmd.AddCommand(waitCmd)
}

func runWait(cmd *cobra.Command, args []string) error {
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
	s := sessions[0]

	fmt.Printf("Labwire - Wait\n")
	fmt.Printf("Device: %s (%s)\n", s.Name(), s.Dialect().Name)
	fmt.Printf("Connection: %s\n", describeConnection(devices[0]))
	fmt.Printf("Polling every %v, at most %d times...\n\n", devices[0].Readiness.Interval, devices[0].Readiness.Attempts)

	start := time.Now()
	if err := s.WaitUntilReady(); err != nil {
		fmt.Fprintf(os.Stderr, "NOT READY: %v\n", err)
		rt.Close()
		os.Exit(1)
	}

	fmt.Printf("READY after %v\n", time.Since(start).Round(time.Millisecond))
	return nil
}
