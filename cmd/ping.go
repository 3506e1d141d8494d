// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	pingCount    int
	pingInterval time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test a connection by repeating the ready command",
	Long: `Send the dialect's ready command repeatedly and report round trip times
and exchange statistics.

Exit codes:
  0 - Every exchange succeeded
  1 - At least one exchange failed
  2 - Connection error

Useful for testing connectivity through serial adapters and network bridges.`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVarP(&pingCount, "count", "n", 10, "Number of exchanges")
	pingCmd.Flags().DurationVarP(&pingInterval, "interval", "i", 500*time.Millisecond, "Pause between exchanges")
}

func runPing(cmd *cobra.Command, args []string) error {
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

	fmt.Printf("Labwire - Ping\n")
	fmt.Printf("Device: %s (%s)\n", s.Name(), s.Dialect().Name)
	fmt.Printf("Connection: %s\n", describeConnection(devices[0]))
	fmt.Printf("Sending %s %d times...\n\n", s.Dialect().ReadyCommand, pingCount)

	var rtts []time.Duration
	for seq := 1; seq <= pingCount; seq++ {
		start := time.Now()
		idle, err := s.IsIdle()
		rtt := time.Since(start)

		if err != nil {
			fmt.Printf("seq=%d error: %v\n", seq, err)
		} else {
			state := "busy"
			if idle {
				state = "idle"
			}
			fmt.Printf("seq=%d %s time=%v\n", seq, state, rtt.Round(time.Microsecond))
			rtts = append(rtts, rtt)
		}

		if seq < pingCount {
			time.Sleep(pingInterval)
		}
	}

	fmt.Println()
	if len(rtts) > 0 {
		lo, hi, total := rtts[0], rtts[0], time.Duration(0)
		for _, d := range rtts {
			lo = min(lo, d)
			hi = max(hi, d)
			total += d
		}
		fmt.Printf("Round trip min/avg/max: %v / %v / %v\n\n",
			lo.Round(time.Microsecond),
			(total / time.Duration(len(rtts))).Round(time.Microsecond),
			hi.Round(time.Microsecond))
	}

	stats := s.Stats()
	fmt.Print(stats.String())

	if len(rtts) < pingCount {
		rt.Close()
		os.Exit(1)
	}
	return nil
}
