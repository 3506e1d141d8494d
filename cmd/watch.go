// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/labwire/pkg/device"
)

var (
	watchInterval time.Duration
	watchCount    int
)

var watchCmd = &cobra.Command{
	Use:   "watch NAME [ARG]",
	Short: "Send a command periodically and print each reply",
	Long: `Run one command as a background task at a fixed interval and print every
reply as it arrives, until the count is reached or the program is
interrupted.

Examples:
  # Log the pressure of a vacuum controller every 5 seconds
  labwire watch PRESSURE -i 5s --dialect cvc3000 --port /dev/ttyUSB0`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", time.Second, "Time between commands")
	watchCmd.Flags().IntVarP(&watchCount, "count", "n", 0, "Number of replies to print (0 = until interrupted)")
}

func runWatch(cmd *cobra.Command, args []string) error {
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

	name := strings.ToUpper(args[0])
	var arg any
	if len(args) == 2 {
		arg = args[1]
	}
	if _, err := s.Dialect().Command(name); err != nil {
		return err
	}

	task, err := s.StartTask(name, watchInterval, func() (any, error) {
		v, err := s.Call(name, arg)
		if err == nil && v == nil {
			// keep command-only runs visible
			return "OK", nil
		}
		return v, err
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printed := watchResults(ctx, task, watchCount, func(line string) { fmt.Println(line) })
	s.StopTasks()
	log.WithFields(logrus.Fields{"replies": printed, "dropped": task.Dropped()}).Debug("Watch finished")
	return nil
}

// watchResults prints task results until count results were printed, the
// context ends or the task exits. It returns the number printed.
func watchResults(ctx context.Context, task *device.Task, count int, emit func(string)) int {
	printed := 0
	for count == 0 || printed < count {
		if ctx.Err() != nil {
			return printed
		}
		select {
		case <-ctx.Done():
			return printed
		case r, ok := <-task.Results():
			if !ok {
				return printed
			}
			stamp := r.At.Format("15:04:05.000")
			if r.Err != nil {
				emit(fmt.Sprintf("[%s] error: %v", stamp, r.Err))
			} else {
				emit(fmt.Sprintf("[%s] %s", stamp, formatResult(r.Value)))
			}
			printed++
		}
	}
	return printed
}
