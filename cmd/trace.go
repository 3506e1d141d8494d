// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/labwire/pkg/transport"
)

var traceEndpoint string

var traceCmd = &cobra.Command{
	Use:   "trace FILE",
	Short: "Display a recorded exchange trace in human-readable format",
	Long: `Decode and display a CBOR exchange trace written with --record.

Each frame is shown with its timestamp, endpoint, direction and the quoted
bytes that went over the wire.`,
	Args: cobra.ExactArgs(1),
	RunE: runTrace,
}

func init() {
	rootCmd.AddCommand(traceCmd)
	traceCmd.Flags().StringVarP(&traceEndpoint, "endpoint", "e", "", "Only show frames of this endpoint")
}

func runTrace(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := transport.ReadTrace(f)
	if err != nil {
		return err
	}

	fmt.Printf("Labwire - Trace\n")
	fmt.Printf("File: %s (%d frames)\n\n", args[0], len(records))

	for _, rec := range records {
		if traceEndpoint != "" && rec.Endpoint != traceEndpoint {
			continue
		}
		fmt.Print(formatRecord(rec))
	}
	return nil
}

// formatRecord renders one trace record on a single line
func formatRecord(rec transport.Record) string {
	line := fmt.Sprintf("[%s] %-7s %s", rec.Time().Format("15:04:05.000"), rec.Dir, rec.Endpoint)
	if len(rec.Data) > 0 {
		line += fmt.Sprintf(" %q", rec.Data)
	}
	return line + "\n"
}
