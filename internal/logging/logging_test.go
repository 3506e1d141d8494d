// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		level   logrus.Level
		wantErr bool
	}{
		{"defaults", Config{}, logrus.InfoLevel, false},
		{"debug json", Config{Level: "debug", Format: "json"}, logrus.DebugLevel, false},
		{"stdout", Config{Level: "warn", Output: "stdout"}, logrus.WarnLevel, false},
		{"bad level", Config{Level: "loud"}, 0, true},
		{"bad format", Config{Format: "xml"}, 0, true},
		{"bad output", Config{Output: "syslog"}, 0, true},
		{"file without path", Config{Output: "file"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, closer, err := Setup(tt.cfg)
			if closer == nil {
				t.Fatal("Setup() returned a nil closer")
			}
			defer closer.Close()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Setup() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && log.GetLevel() != tt.level {
				t.Errorf("level = %v, want %v", log.GetLevel(), tt.level)
			}
		})
	}
}

func TestSetup_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labwire.log")
	log, closer, err := Setup(Config{Format: "json", Output: "file", File: path})
	if err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	log.WithField("device", "pump").Info("Connected")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"device":"pump"`) {
		t.Errorf("log file = %q, want a JSON entry with the device field", data)
	}
}
