// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package protocol implements the declarative command/reply engine shared by
// all labwire instrument dialects.
//
// A dialect is data: a Framing (prefixes, terminators, argument delimiter), a
// table of immutable Command descriptors and an optional StatusDecoder that
// turns the device's status indicator into an Outcome. The engine validates
// arguments, encodes frames, strips reply framing, decodes status and coerces
// reply payloads into typed Go values. It performs no I/O.
package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueType is the wire type of a command argument or reply.
type ValueType int

const (
	TypeNone ValueType = iota
	TypeInt
	TypeFloat
	TypeString
	TypeBool
)

// String returns the human-readable name for a value type
func (t ValueType) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	default:
		return fmt.Sprintf("ValueType(%d)", int(t))
	}
}

// Coerce converts v to the canonical Go representation of t: int64, float64,
// string or bool. Strings are parsed for numeric and boolean types.
func Coerce(t ValueType, v any) (any, error) {
	switch t {
	case TypeNone:
		return nil, nil
	case TypeInt:
		return coerceInt(v)
	case TypeFloat:
		return coerceFloat(v)
	case TypeString:
		return coerceString(v)
	case TypeBool:
		return coerceBool(v)
	}
	return nil, fmt.Errorf("unsupported value type %v", t)
}

func coerceInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", n)
		}
		return int64(n), nil
	case float32:
		return integral(float64(n))
	case float64:
		return integral(n)
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		// Devices report integers as "12.0" often enough that float parsing is the fallback.
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		return integral(f)
	}
	return 0, fmt.Errorf("cannot convert %T to int", v)
}

func integral(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%v overflows int64", f)
	}
	return int64(f), nil
}

func coerceFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		return f, nil
	case bool:
		return 0, fmt.Errorf("cannot convert bool to float")
	}
	i, err := coerceInt(v)
	if err != nil {
		return 0, fmt.Errorf("cannot convert %T to float", v)
	}
	return float64(i), nil
}

func coerceString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	case bool:
		return FormatValue(s), nil
	}
	if i, err := coerceInt(v); err == nil {
		return FormatValue(i), nil
	}
	if f, err := coerceFloat(v); err == nil {
		return FormatValue(f), nil
	}
	return "", fmt.Errorf("cannot convert %T to string", v)
}

func coerceBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "1", "true", "on":
			return true, nil
		case "0", "false", "off":
			return false, nil
		}
		return false, fmt.Errorf("%q is not a boolean", b)
	}
	i, err := coerceInt(v)
	if err != nil {
		return false, fmt.Errorf("cannot convert %T to bool", v)
	}
	return i != 0, nil
}

// FormatValue renders a canonical value the way it goes on the wire:
// decimal for numbers, literal for strings, "1"/"0" for booleans.
func FormatValue(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return n
	case int64:
		return strconv.FormatInt(n, 10)
	case int:
		return strconv.Itoa(n)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	case bool:
		if n {
			return "1"
		}
		return "0"
	}
	return fmt.Sprint(v)
}
