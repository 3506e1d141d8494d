// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/labwire/pkg/device"
	"github.com/Thermoquad/labwire/pkg/dialects"
	"github.com/Thermoquad/labwire/pkg/protocol"
	"github.com/Thermoquad/labwire/pkg/transport"
)

var discoveryTimeout time.Duration

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Discover pumps sharing a bus",
	Long: `Probe every address switch position of a bus addressed dialect and report
the devices that answer.

All probes share one connection, so this works through a single serial port
or network bridge carrying a daisy chain of pumps. Positions that stay silent
until the timeout are reported as empty.

Examples:
  # Scan a serial daisy chain of XLP6000 pumps
  labwire discovery --dialect tecan-xlp6000 --port /dev/ttyUSB0

  # Scan Cadent 3 pumps behind a TCP serial server
  labwire discovery --dialect cadent3 --address 10.0.0.5 --port 4001

Exit codes:
  0 - Discovery successful (at least one device found)
  1 - Discovery failed (no devices answered)
  2 - Connection error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().DurationVar(&discoveryTimeout, "timeout", 300*time.Millisecond, "Reply timeout per address")
}

type discoveredDevice struct {
	position string
	prefix   string
	state    string
	firmware string
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	selected, err := selectDevices(false)
	if err != nil {
		return err
	}
	base := selected[0]

	positions := dialects.SwitchPositions(base.Dialect)
	if positions == nil {
		return fmt.Errorf("dialect %s is not bus addressed", base.Dialect)
	}

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	fmt.Printf("Labwire - Device Discovery\n")
	fmt.Printf("Dialect: %s\n", base.Dialect)
	fmt.Printf("Connection: %s\n", describeConnection(base))
	fmt.Printf("Timeout: %v per address\n\n", discoveryTimeout)

	var found []discoveredDevice
	for _, pos := range positions {
		d := base
		d.Name = fmt.Sprintf("%s@%s", base.Dialect, pos)
		d.BusAddress = pos
		d.Connection.ReadTimeout = discoveryTimeout

		s, err := rt.open(d)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
			rt.Close()
			os.Exit(2)
		}

		dev, ok := probe(s, pos)
		if !ok {
			fmt.Printf("  switch %s: -\n", pos)
			continue
		}
		found = append(found, dev)
		fmt.Printf("  switch %s: %s (prefix %q)\n", pos, dev.state, dev.prefix)
		if dev.firmware != "" {
			fmt.Printf("    Firmware: %s\n", dev.firmware)
		}
	}

	// Summary
	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Devices found: %d\n", len(found))

	if len(found) == 0 {
		fmt.Printf("No devices discovered. Check connection, device power and baud rate.\n")
		rt.Close()
		os.Exit(1)
	}
	return nil
}

// probe polls one address once. A timeout means no device is set to that
// switch position; a fault still proves one is there.
func probe(s *device.Session, pos string) (discoveredDevice, bool) {
	idle, err := s.IsIdle()
	if errors.Is(err, transport.ErrReadTimeout) {
		return discoveredDevice{}, false
	}

	dev := discoveredDevice{
		position: pos,
		prefix:   s.Framing().CommandPrefix,
		state:    deviceState(idle, err),
	}
	if errors.Is(err, protocol.ErrConnection) {
		return dev, false
	}

	if _, ok := s.Dialect().Commands[dialects.CmdFirmware]; ok {
		if fw, err := device.Query[string](s, dialects.CmdFirmware, nil); err == nil {
			dev.firmware = fw
		}
	}
	return dev, true
}
