// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"fmt"
	"strings"
)

// Command describes one named protocol operation. Commands are built once per
// dialect and must not be modified afterwards; sessions share them read-only.
type Command struct {
	// Name is the wire token
	Name string
	// Arg is the argument type; TypeNone means the command takes no argument
	Arg ValueType
	// Rule optionally restricts the coerced argument
	Rule Rule
	// Reply is the type the reply payload is coerced to
	Reply ValueType
	// Parser optionally transforms the payload before coercion
	Parser ReplyParser
	// Immediate commands are sent without the framing's execute suffix.
	// Queries that the device only answers outside of queued execution set it.
	Immediate bool
	// Readback commands are acknowledged by echoing a value back: the
	// argument sent, or Expect for commands without one. The device stays
	// silent when it rejects the command.
	Readback bool
	Expect   any
}

// CheckReadback compares the echo of a readback command with what was sent.
// Values are compared in wire form, so an int argument matches a bool echo.
func CheckReadback(c *Command, sent, echo any) error {
	if !c.Readback {
		return nil
	}
	want := sent
	if c.Arg == TypeNone {
		want = c.Expect
	}
	if FormatValue(want) == FormatValue(echo) {
		return nil
	}
	return &Error{
		Kind:    KindReply,
		Command: c.Name,
		Message: fmt.Sprintf("read-back check failed: expected %s, read back %s", FormatValue(want), FormatValue(echo)),
		Details: map[string]interface{}{"expected": want, "readback": echo},
	}
}

// NoEcho is the error of a readback command whose echo never arrived
func NoEcho(command string, err error) *Error {
	return &Error{
		Kind:    KindReply,
		Command: command,
		Message: "no echo reply received",
		Err:     err,
	}
}

// String returns the wire name and argument type, e.g. "A<int 0..6000>"
func (c *Command) String() string {
	if c.Arg == TypeNone {
		return c.Name
	}
	if c.Rule != nil {
		return fmt.Sprintf("%s<%s %s>", c.Name, c.Arg, c.Rule)
	}
	return fmt.Sprintf("%s<%s>", c.Name, c.Arg)
}

// Rule is a validation constraint applied to a coerced argument
type Rule interface {
	Check(v any) bool
	String() string
}

// Enumerated is implemented by rules admitting a closed set of values
type Enumerated interface {
	Rule
	Values() []string
}

// OneOf returns a rule admitting only the given values. Values are compared
// by their wire representation, so OneOf(1, 2) admits int64(2) and "2" alike.
func OneOf(values ...any) Rule {
	allowed := make(map[string]struct{}, len(values))
	order := make([]string, 0, len(values))
	for _, v := range values {
		s := FormatValue(v)
		if _, dup := allowed[s]; dup {
			continue
		}
		allowed[s] = struct{}{}
		order = append(order, s)
	}
	return setRule{allowed: allowed, order: order}
}

type setRule struct {
	allowed map[string]struct{}
	order   []string
}

func (r setRule) Check(v any) bool {
	_, ok := r.allowed[FormatValue(v)]
	return ok
}

func (r setRule) String() string {
	quoted := make([]string, len(r.order))
	for i, s := range r.order {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "one of {" + strings.Join(quoted, ", ") + "}"
}

// Values returns the admitted values in declaration order
func (r setRule) Values() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Between returns an inclusive numeric range rule
func Between(min, max float64) Rule {
	return rangeRule{min: min, max: max}
}

type rangeRule struct {
	min, max float64
}

func (r rangeRule) Check(v any) bool {
	f, err := coerceFloat(v)
	if err != nil {
		return false
	}
	return f >= r.min && f <= r.max
}

func (r rangeRule) String() string {
	return fmt.Sprintf("range [%s, %s]", FormatValue(r.min), FormatValue(r.max))
}

// Validate checks value against the command's argument type and rule and
// returns it in canonical form. Commands without an argument accept only nil.
// Validation never performs I/O.
func Validate(c *Command, value any) (any, error) {
	if c.Arg == TypeNone {
		if value != nil {
			return nil, invalidArgument(c.Name, value, "no argument")
		}
		return nil, nil
	}
	if value == nil {
		return nil, invalidArgument(c.Name, value, fmt.Sprintf("required %s argument", c.Arg))
	}

	v, err := Coerce(c.Arg, value)
	if err != nil {
		e := invalidArgument(c.Name, value, fmt.Sprintf("type %s", c.Arg))
		e.Err = err
		return nil, e
	}
	if c.Rule != nil && !c.Rule.Check(v) {
		return nil, invalidArgument(c.Name, v, c.Rule.String())
	}
	return v, nil
}
