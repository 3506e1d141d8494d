// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Category partitions known device errors
type Category int

const (
	CategoryDeviceFault Category = iota
	CategoryInvalidArgument
	CategoryInternal
	CategoryCommunication
)

// String returns the human-readable name for a category
func (c Category) String() string {
	switch c {
	case CategoryDeviceFault:
		return "device fault"
	case CategoryInvalidArgument:
		return "invalid argument"
	case CategoryInternal:
		return "internal device error"
	case CategoryCommunication:
		return "communication error"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// Fault is one entry of a dialect's error table
type Fault struct {
	Code     string
	Message  string
	Category Category
}

// OutcomeKind tags an Outcome
type OutcomeKind int

const (
	OutcomeNone OutcomeKind = iota
	OutcomeKnown
	OutcomeUnknown
)

// Outcome is the decoded meaning of a status indicator
type Outcome struct {
	Kind  OutcomeKind
	Fault Fault
	Raw   string
}

// NoError is the outcome of a status indicator reporting success
var NoError = Outcome{Kind: OutcomeNone}

// Err converts the outcome into the error a command exchange returns.
// Known outcomes become device faults; unknown ones become reply errors.
func (o Outcome) Err(command string) error {
	switch o.Kind {
	case OutcomeNone:
		return nil
	case OutcomeKnown:
		return &Error{
			Kind:    KindDeviceFault,
			Command: command,
			Message: fmt.Sprintf("%s: %s (code %s)", o.Fault.Category, o.Fault.Message, o.Fault.Code),
			Details: map[string]interface{}{"fault": o.Fault, "status": o.Raw},
		}
	default:
		return &Error{
			Kind:    KindReply,
			Command: command,
			Message: fmt.Sprintf("unknown error code (status %q)", o.Raw),
			Details: map[string]interface{}{"status": o.Raw},
		}
	}
}

// Status is the indicator extracted from one reply
type Status struct {
	Raw     string
	Outcome Outcome
}

// Byte returns the first byte of the raw indicator, or 0 when empty
func (s Status) Byte() byte {
	if s.Raw == "" {
		return 0
	}
	return s.Raw[0]
}

// StatusDecoder extracts the status indicator from a reply payload and
// returns the remaining data for reply decoding. A malformed indicator is a
// reply error; a well-formed one is reported through Status.Outcome.
type StatusDecoder interface {
	Decode(payload string) (Status, string, error)
}

// Bitfield decodes a leading status byte whose low bits carry an error code.
// Code 0 means no error.
type Bitfield struct {
	Mask   byte
	Faults map[byte]Fault
}

// Decode implements StatusDecoder
func (b Bitfield) Decode(payload string) (Status, string, error) {
	if payload == "" {
		return Status{}, "", replyError("", payload, "missing status indicator")
	}
	st := Status{Raw: payload[:1]}
	st.Outcome = b.Classify(payload[0])
	return st, payload[1:], nil
}

// Classify maps a status byte to an outcome
func (b Bitfield) Classify(status byte) Outcome {
	raw := string([]byte{status})
	code := status & b.Mask
	if code == 0 {
		return Outcome{Kind: OutcomeNone, Raw: raw}
	}
	if f, ok := b.Faults[code]; ok {
		if f.Code == "" {
			f.Code = strconv.Itoa(int(code))
		}
		return Outcome{Kind: OutcomeKnown, Fault: f, Raw: raw}
	}
	return Outcome{Kind: OutcomeUnknown, Raw: raw}
}

// Token decodes a short textual response code found at a fixed field of the
// reply, e.g. "S S     12.34 g" where field 1 is the code.
type Token struct {
	Separator string
	Position  int
	// OK lists codes that mean success
	OK     []string
	Faults map[string]Fault
}

// Decode implements StatusDecoder. The data returned is everything after the
// code field with surrounding blanks and quotes removed.
func (t Token) Decode(payload string) (Status, string, error) {
	fields := splitFields(payload, t.Separator)
	if t.Position < 0 || t.Position >= len(fields) {
		// A rejected command may be answered with the bare fault code
		if len(fields) == 1 {
			if _, ok := t.Faults[fields[0]]; ok {
				return Status{Raw: fields[0], Outcome: t.classify(fields[0])}, "", nil
			}
		}
		return Status{}, "", replyError("", payload, "missing status indicator")
	}

	code := fields[t.Position]
	data := strings.Join(fields[t.Position+1:], t.Separator)
	data = strings.Trim(strings.TrimSpace(data), `"`)

	st := Status{Raw: code, Outcome: t.classify(code)}
	return st, data, nil
}

func (t Token) classify(code string) Outcome {
	for _, ok := range t.OK {
		if code == ok {
			return Outcome{Kind: OutcomeNone, Raw: code}
		}
	}
	if f, ok := t.Faults[code]; ok {
		if f.Code == "" {
			f.Code = code
		}
		return Outcome{Kind: OutcomeKnown, Fault: f, Raw: code}
	}
	return Outcome{Kind: OutcomeUnknown, Raw: code}
}

// splitFields splits on sep and drops empty fields, so runs of padding
// blanks in fixed-width replies collapse.
func splitFields(s, sep string) []string {
	if sep == "" || sep == " " {
		return strings.Fields(s)
	}
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BitFlags decodes a reply made of binary digits, most significant bit
// first, where each set bit reports one fault. Bit 0 is the last digit.
type BitFlags map[uint]Fault

// Faults returns the faults whose bits are set, lowest bit first
func (b BitFlags) Faults(payload string) ([]Fault, error) {
	digits := strings.TrimSpace(payload)
	bits, err := strconv.ParseUint(digits, 2, 64)
	if err != nil {
		e := replyError("", payload, "expected binary error flags")
		e.Err = err
		return nil, e
	}

	var faults []Fault
	for bit := uint(0); bit < 64 && bits != 0; bit++ {
		if bits&(1<<bit) == 0 {
			continue
		}
		bits &^= 1 << bit
		f, ok := b[bit]
		if !ok {
			f = Fault{Message: "Unknown error", Category: CategoryDeviceFault}
		}
		if f.Code == "" {
			f.Code = strconv.Itoa(int(bit))
		}
		faults = append(faults, f)
	}
	return faults, nil
}

// Err decodes payload and reports every set flag as one device fault
// error. It returns nil when no flag is set.
func (b BitFlags) Err(command, payload string) error {
	faults, err := b.Faults(payload)
	if err != nil {
		return withCommand(err, command)
	}
	if len(faults) == 0 {
		return nil
	}

	messages := make([]string, len(faults))
	for i, f := range faults {
		messages[i] = f.Message
	}
	return &Error{
		Kind:    KindDeviceFault,
		Command: command,
		Message: strings.Join(messages, "; "),
		Details: map[string]interface{}{"fault": faults[0], "faults": faults, "flags": payload},
	}
}
