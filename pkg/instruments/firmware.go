// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instruments

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

// versionPattern finds the first dotted number in a firmware banner such as
// "XP3000 V1.8.2" or "781 pH Meter 5.781.0014"
var versionPattern = regexp.MustCompile(`\d+(\.\d+){1,2}`)

// FirmwareVersion extracts a semantic version from a firmware banner
func FirmwareVersion(banner string) (*semver.Version, error) {
	m := versionPattern.FindString(banner)
	if m == "" {
		return nil, fmt.Errorf("no version in firmware string %q", banner)
	}
	v, err := semver.NewVersion(m)
	if err != nil {
		return nil, fmt.Errorf("failed to parse firmware version %q: %w", m, err)
	}
	return v, nil
}

// CheckFirmware reports an error when the version in banner does not satisfy
// constraint
func CheckFirmware(banner, constraint string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid firmware constraint %q: %w", constraint, err)
	}
	v, err := FirmwareVersion(banner)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("firmware %s does not satisfy %s", v, constraint)
	}
	return nil
}
