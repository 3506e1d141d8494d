// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/labwire/internal/config"
	"github.com/Thermoquad/labwire/internal/logging"
)

var (
	// Configuration flags
	configPath  string
	deviceName  string
	dialectName string
	busAddress  string
	simulate    bool
	logLevel    string
	recordPath  string
	metricsFile string

	// Connection flags
	connMode    string
	portName    string
	hostAddress string
	baudRate    int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

var (
	cfg       *config.Config
	log       *logrus.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "labwire",
	Short: "Laboratory instrument communication tool",
	Long: `Labwire - A CLI tool for talking to laboratory instruments over serial,
TCP or WebSocket bridges.

Devices are either listed in a YAML configuration file (--config) and selected
with --device, or described ad hoc with --dialect and the connection flags.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600]
  TCP:       --address 192.168.1.20 --port 4001
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the LABWIRE_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

With --simulate no connection is opened and every command is answered by the
simulation layer.`,
	Version:            "0.3.0",
	SilenceUsage:       true,
	PersistentPreRunE:  loadConfig,
	PersistentPostRunE: closeLogger,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&deviceName, "device", "d", "", "Configured device name")
	rootCmd.PersistentFlags().StringVar(&dialectName, "dialect", "", "Device dialect for an ad hoc device")
	rootCmd.PersistentFlags().StringVar(&busAddress, "bus-address", "", "Device address on a shared bus")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "Answer commands from the simulation layer")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides configuration)")
	rootCmd.PersistentFlags().StringVar(&recordPath, "record", "", "Record every exchange to a CBOR trace file")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")

	// Connection flags
	rootCmd.PersistentFlags().StringVar(&connMode, "mode", "", "Connection mode: serial, tcp or websocket")
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device or TCP port")
	rootCmd.PersistentFlags().StringVar(&hostAddress, "address", "", "TCP host address")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 9600, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = c
	} else {
		cfg = config.Default()
		if err := cfg.ApplyEnv(); err != nil {
			return err
		}
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if metricsFile == "" {
		metricsFile = cfg.MetricsFile
	}
	if recordPath == "" {
		recordPath = cfg.TraceFile
	}

	l, closer, err := logging.Setup(cfg.Log)
	if err != nil {
		return err
	}
	log, logCloser = l, closer
	return nil
}

func closeLogger(cmd *cobra.Command, args []string) error {
	if logCloser == nil {
		return nil
	}
	return logCloser.Close()
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
