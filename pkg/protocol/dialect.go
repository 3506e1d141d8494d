// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// Dialect is the command table, framing and status semantics of one
// instrument family.
type Dialect struct {
	Name     string
	Framing  Framing
	Commands map[string]*Command
	// Status decodes the status indicator of every reply; nil means replies
	// carry data only.
	Status StatusDecoder
	// StatusReplies is set when the device answers every command, so a reply
	// is read even for commands without a reply type.
	StatusReplies bool
	// ReadyCommand names the command polled for readiness
	ReadyCommand string
	Idle         IdleRule
	// SimulatedReady is the payload an idle device answers the ready command
	// with; simulation decodes it when no canned reply is configured.
	SimulatedReady string
	// ErrorQuery names a command whose reply is a set of error flags
	// decoded by ErrorFlags
	ErrorQuery string
	ErrorFlags BitFlags
}

// Command returns the named command
func (d *Dialect) Command(name string) (*Command, error) {
	c, ok := d.Commands[name]
	if !ok {
		return nil, fmt.Errorf("dialect %s has no command %q", d.Name, name)
	}
	return c, nil
}

// MustCommand is Command for names known at compile time
func (d *Dialect) MustCommand(name string) *Command {
	c, err := d.Command(name)
	if err != nil {
		panic(err)
	}
	return c
}

// Names returns the command names in sorted order
func (d *Dialect) Names() []string {
	names := make([]string, 0, len(d.Commands))
	for n := range d.Commands {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ExpectsReply reports whether sending c waits for a reply
func (d *Dialect) ExpectsReply(c *Command) bool {
	return c.Reply != TypeNone || d.StatusReplies
}

// Decode strips framing from raw, decodes the status indicator and then the
// payload. A status error preempts payload decoding.
func (d *Dialect) Decode(f Framing, c *Command, raw []byte) (*Reply, error) {
	r := &Reply{Raw: raw, Payload: f.DecodeFrame(raw)}
	return r, d.decodePayload(c, r)
}

// DecodePayload decodes an already unframed payload
func (d *Dialect) DecodePayload(c *Command, payload string) (*Reply, error) {
	r := &Reply{Payload: payload}
	return r, d.decodePayload(c, r)
}

func (d *Dialect) decodePayload(c *Command, r *Reply) error {
	data := r.Payload
	if d.Status != nil {
		st, rest, err := d.Status.Decode(r.Payload)
		if err != nil {
			return withCommand(err, c.Name)
		}
		r.Status = st
		if err := st.Outcome.Err(c.Name); err != nil {
			return err
		}
		data = rest
	}

	v, err := DecodeReply(c, data)
	if err != nil {
		return err
	}
	r.Value = v
	return nil
}

func withCommand(err error, name string) error {
	if e, ok := err.(*Error); ok && e.Command == "" {
		e.Command = name
	}
	return err
}

// IdleRule decides readiness from the last status and the ready command's
// reply value.
type IdleRule interface {
	Idle(st Status, value any) bool
}

// StatusBit is idle when bit n of the status byte is set
type StatusBit uint

// Idle implements IdleRule
func (b StatusBit) Idle(st Status, _ any) bool {
	return st.Raw != "" && st.Byte()&(1<<uint(b)) != 0
}

// ValuePrefix is idle when the reply value starts with the given string
type ValuePrefix string

// Idle implements IdleRule
func (p ValuePrefix) Idle(_ Status, value any) bool {
	s, ok := value.(string)
	return ok && strings.HasPrefix(s, string(p))
}
