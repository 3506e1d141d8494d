// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the labwire YAML configuration and applies
// environment overrides
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/labwire/internal/logging"
	"github.com/Thermoquad/labwire/pkg/device"
	"github.com/Thermoquad/labwire/pkg/dialects"
	"github.com/Thermoquad/labwire/pkg/protocol"
	"github.com/Thermoquad/labwire/pkg/transport"
)

// Config is the top-level configuration file
type Config struct {
	Log         logging.Config `yaml:"log"`
	MetricsFile string         `yaml:"metrics_file"`
	TraceFile   string         `yaml:"trace_file"`
	Devices     []Device       `yaml:"devices"`
}

// Device configures one instrument session
type Device struct {
	Name       string           `yaml:"name"`
	Dialect    string           `yaml:"dialect"`
	BusAddress string           `yaml:"bus_address"`
	Connection transport.Config `yaml:"connection"`
	Simulation bool             `yaml:"simulation"`
	Readiness  Readiness        `yaml:"readiness"`
	// SyringeSize is the syringe volume in mL for volumetric pump moves
	SyringeSize float64 `yaml:"syringe_size"`
}

// Readiness configures busy polling
type Readiness struct {
	Interval time.Duration `yaml:"interval"`
	Attempts int           `yaml:"attempts"`
}

// Env holds the environment overrides
type Env struct {
	Simulation *bool  `env:"LABWIRE_SIMULATION"`
	LogLevel   string `env:"LABWIRE_LOG_LEVEL"`
	LogFormat  string `env:"LABWIRE_LOG_FORMAT"`
	Password   string `env:"LABWIRE_PASSWORD"`
}

// Default returns the configuration used without a config file
func Default() *Config {
	return &Config{
		Log: logging.Config{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads the YAML file at path over the defaults and applies the
// environment overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides the configuration from LABWIRE_* variables
func (c *Config) ApplyEnv() error {
	var e Env
	if err := env.Parse(&e); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	if e.LogLevel != "" {
		c.Log.Level = e.LogLevel
	}
	if e.LogFormat != "" {
		c.Log.Format = e.LogFormat
	}
	for i := range c.Devices {
		e.applyDevice(&c.Devices[i])
	}
	return nil
}

func (e Env) applyDevice(d *Device) {
	if e.Simulation != nil {
		d.Simulation = *e.Simulation
	}
	if e.Password != "" {
		d.Connection.Password = e.Password
	}
}

func (c *Config) fillDefaults() {
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Readiness.Interval == 0 {
			d.Readiness.Interval = device.DefaultPollInterval
		}
		if d.Readiness.Attempts == 0 {
			d.Readiness.Attempts = device.DefaultPollAttempts
		}
		d.Connection = d.Connection.WithDefaults()
	}
}

// Validate checks every device entry
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.Name == "" {
			return fmt.Errorf("device %d has no name", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate device name %q", d.Name)
		}
		seen[d.Name] = true

		if _, err := d.LookupDialect(); err != nil {
			return fmt.Errorf("device %s: %w", d.Name, err)
		}
		if d.Simulation {
			continue
		}
		if err := d.Connection.WithDefaults().Validate(); err != nil {
			return fmt.Errorf("device %s: %w", d.Name, err)
		}
	}
	return nil
}

// AddDevice appends d with the environment overrides and defaults applied
// and validates the result. On error the configuration is left unchanged.
func (c *Config) AddDevice(d Device) error {
	var e Env
	if err := env.Parse(&e); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	e.applyDevice(&d)

	c.Devices = append(c.Devices, d)
	c.fillDefaults()
	if err := c.Validate(); err != nil {
		c.Devices = c.Devices[:len(c.Devices)-1]
		return err
	}
	return nil
}

// Device returns the named device entry
func (c *Config) Device(name string) (*Device, error) {
	for i := range c.Devices {
		if c.Devices[i].Name == name {
			return &c.Devices[i], nil
		}
	}
	return nil, fmt.Errorf("no device %q in configuration", name)
}

// LookupDialect builds the device's dialect
func (d *Device) LookupDialect() (*protocol.Dialect, error) {
	return dialects.Lookup(d.Dialect, d.BusAddress)
}
