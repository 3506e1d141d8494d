// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/labwire/pkg/protocol"
)

var (
	sendWait      bool
	sendNoAutorun bool
)

var sendCmd = &cobra.Command{
	Use:   "send NAME [ARG]",
	Short: "Send one command and print the reply",
	Long: `Validate, encode and send one command, then print the decoded reply.

NAME is the symbolic command name as listed by "labwire commands". ARG is
coerced to the command's argument type and checked against its constraint
before anything is written to the device.

Exit codes:
  0 - Command succeeded
  1 - Device fault or invalid argument
  2 - Connection or reply error`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().BoolVarP(&sendWait, "wait", "w", false, "Wait until the device is ready before sending")
	sendCmd.Flags().BoolVar(&sendNoAutorun, "no-autorun", false, "Queue the command without the execute suffix")
}

func runSend(cmd *cobra.Command, args []string) error {
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
	s.SetAutorun(!sendNoAutorun)

	var arg any
	if len(args) == 2 {
		arg = args[1]
	}

	var value any
	call := func() error {
		var err error
		value, err = s.Call(strings.ToUpper(args[0]), arg)
		return err
	}
	if sendWait {
		err = s.ExecuteWhenReady(call)
	} else {
		err = call()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", s.Name(), err)
		rt.Close()
		os.Exit(exitCode(err))
	}

	fmt.Println(formatResult(value))
	if st := s.LastStatus(); st.Raw != "" {
		log.WithField("status", fmt.Sprintf("%q", st.Raw)).Debug("Last status")
	}
	return nil
}

// exitCode maps a command error to the send exit codes
func exitCode(err error) int {
	switch {
	case errors.Is(err, protocol.ErrDeviceFault), errors.Is(err, protocol.ErrInvalidArgument):
		return 1
	default:
		return 2
	}
}

// formatResult renders a decoded reply value for the terminal
func formatResult(v any) string {
	switch v := v.(type) {
	case nil:
		return "OK"
	case []string:
		return strings.Join(v, " ")
	default:
		return protocol.FormatValue(v)
	}
}
