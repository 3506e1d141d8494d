// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"fmt"
	"regexp"
	"strings"
)

// Reply is one decoded wire exchange
type Reply struct {
	Raw     []byte
	Payload string
	Status  Status
	Value   any
}

// ReplyParser transforms a payload before type coercion. It returns either a
// string or a []string.
type ReplyParser func(payload string) (any, error)

// DecodeReply applies the command's parser and coerces the result to the
// command's reply type. []string results are coerced element by element.
// Commands with reply type none decode to nil.
func DecodeReply(c *Command, payload string) (any, error) {
	if c.Reply == TypeNone {
		return nil, nil
	}

	var parsed any = payload
	if c.Parser != nil {
		p, err := c.Parser(payload)
		if err != nil {
			e := replyError(c.Name, payload, "parser failed")
			e.Err = err
			return nil, e
		}
		parsed = p
	}

	switch p := parsed.(type) {
	case string:
		v, err := Coerce(c.Reply, p)
		if err != nil {
			e := replyError(c.Name, payload, fmt.Sprintf("expected %s reply", c.Reply))
			e.Err = err
			return nil, e
		}
		return v, nil
	case []string:
		if c.Reply == TypeString {
			return p, nil
		}
		out := make([]any, len(p))
		for i, s := range p {
			v, err := Coerce(c.Reply, s)
			if err != nil {
				e := replyError(c.Name, payload, fmt.Sprintf("expected %s reply field %d", c.Reply, i))
				e.Err = err
				return nil, e
			}
			out[i] = v
		}
		return out, nil
	}
	return nil, replyError(c.Name, payload, fmt.Sprintf("parser returned %T", parsed))
}

// Slice returns the payload substring [start:end]. Negative indices count
// from the end; end 0 means the end of the payload.
func Slice(start, end int) ReplyParser {
	return func(payload string) (any, error) {
		s, e, ok := bounds(len(payload), start, end)
		if !ok {
			return nil, fmt.Errorf("slice [%d:%d] out of range for %d bytes", start, end, len(payload))
		}
		return payload[s:e], nil
	}
}

func bounds(n, start, end int) (int, int, bool) {
	if start < 0 {
		start += n
	}
	if end <= 0 {
		end += n
	}
	if start < 0 || end > n || start > end {
		return 0, 0, false
	}
	return start, end, true
}

// Field splits the payload on sep and returns one field. Negative index
// counts from the end. Empty fields are dropped.
func Field(sep string, index int) ReplyParser {
	return func(payload string) (any, error) {
		fields := splitFields(payload, sep)
		i := index
		if i < 0 {
			i += len(fields)
		}
		if i < 0 || i >= len(fields) {
			return nil, fmt.Errorf("field %d missing in %d fields", index, len(fields))
		}
		return fields[i], nil
	}
}

// Fields splits the payload on sep and returns fields [start:end], with the
// same index rules as Slice.
func Fields(sep string, start, end int) ReplyParser {
	return func(payload string) (any, error) {
		fields := splitFields(payload, sep)
		s, e, ok := bounds(len(fields), start, end)
		if !ok {
			return nil, fmt.Errorf("fields [%d:%d] out of range for %d fields", start, end, len(fields))
		}
		return fields[s:e], nil
	}
}

// Search returns the first match of pattern, or its first submatch when the
// pattern has a group.
func Search(pattern string) ReplyParser {
	re := regexp.MustCompile(pattern)
	return func(payload string) (any, error) {
		m := re.FindStringSubmatch(payload)
		if m == nil {
			return nil, fmt.Errorf("no match for %q", pattern)
		}
		if len(m) > 1 {
			return m[1], nil
		}
		return m[0], nil
	}
}

// Strip removes leading and trailing characters in cutset
func Strip(cutset string) ReplyParser {
	return func(payload string) (any, error) {
		return strings.Trim(payload, cutset), nil
	}
}

// Upper upper-cases the payload
func Upper() ReplyParser {
	return func(payload string) (any, error) {
		return strings.ToUpper(payload), nil
	}
}

// Chain runs string parsers in order, feeding each result to the next.
// Only the last parser may return []string.
func Chain(parsers ...ReplyParser) ReplyParser {
	return func(payload string) (any, error) {
		var cur any = payload
		for i, p := range parsers {
			s, ok := cur.(string)
			if !ok {
				return nil, fmt.Errorf("parser %d received %T", i, cur)
			}
			next, err := p(s)
			if err != nil {
				return nil, err
			}
			cur = next
		}
		return cur, nil
	}
}
