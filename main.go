// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Labwire - Laboratory instrument communication tool
//
// A CLI tool for sending validated commands to laboratory instruments and
// monitoring their readiness over serial, TCP and WebSocket connections.

package main

import (
	"os"

	"github.com/Thermoquad/labwire/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
