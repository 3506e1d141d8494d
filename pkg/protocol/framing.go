// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"bytes"
	"strings"
)

// Framing is the wrapper around commands and replies on the wire
type Framing struct {
	CommandPrefix     string
	CommandTerminator string
	// ExecSuffix is appended before the terminator to run a command
	// immediately (Tecan "R"). Immediate commands never carry it.
	ExecSuffix      string
	ReplyPrefix     string
	ReplyTerminator string
	ArgDelimiter    string
}

// Encode validates value and builds the outbound frame:
// prefix + name + [delimiter + value] + [exec suffix] + terminator.
func (f Framing) Encode(c *Command, value any) ([]byte, error) {
	return f.encode(c, value, true)
}

// EncodeQueued is Encode without the exec suffix, for devices running with
// autorun disabled.
func (f Framing) EncodeQueued(c *Command, value any) ([]byte, error) {
	return f.encode(c, value, false)
}

func (f Framing) encode(c *Command, value any, autorun bool) ([]byte, error) {
	v, err := Validate(c, value)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(f.CommandPrefix)
	b.WriteString(c.Name)
	if c.Arg != TypeNone {
		b.WriteString(f.ArgDelimiter)
		b.WriteString(FormatValue(v))
	}
	if autorun && !c.Immediate {
		b.WriteString(f.ExecSuffix)
	}
	b.WriteString(f.CommandTerminator)
	return []byte(b.String()), nil
}

// DecodeFrame strips the reply prefix and terminator when present.
// A reply missing either is passed through unchanged on that side.
func (f Framing) DecodeFrame(raw []byte) string {
	raw = bytes.TrimPrefix(raw, []byte(f.ReplyPrefix))
	raw = bytes.TrimSuffix(raw, []byte(f.ReplyTerminator))
	return string(raw)
}

// Terminator returns the reply terminator as bytes for transport reads
func (f Framing) Terminator() []byte {
	return []byte(f.ReplyTerminator)
}
