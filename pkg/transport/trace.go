// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Direction of a traced frame
type Direction uint8

const (
	DirTx Direction = iota + 1
	DirRx
	DirTimeout
)

// String returns the short label used in trace listings
func (d Direction) String() string {
	switch d {
	case DirTx:
		return "TX"
	case DirRx:
		return "RX"
	case DirTimeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("DIR(%d)", uint8(d))
	}
}

// Record is one entry of an exchange trace. Traces are CBOR sequences of
// records with integer keys.
type Record struct {
	At       int64     `cbor:"1,keyasint"`
	Endpoint string    `cbor:"2,keyasint"`
	Dir      Direction `cbor:"3,keyasint"`
	Data     []byte    `cbor:"4,keyasint,omitempty"`
}

// Time returns the record timestamp
func (r Record) Time() time.Time {
	return time.Unix(0, r.At)
}

// TraceWriter appends records to a CBOR sequence. It is shared by all
// recorders writing to the same file.
type TraceWriter struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

// NewTraceWriter creates a writer on w
func NewTraceWriter(w io.Writer) *TraceWriter {
	return &TraceWriter{enc: cbor.NewEncoder(w)}
}

// Write appends one record
func (tw *TraceWriter) Write(rec Record) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if err := tw.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode trace record: %w", err)
	}
	return nil
}

// ReadTrace decodes every record of a CBOR trace
func ReadTrace(r io.Reader) ([]Record, error) {
	dec := cbor.NewDecoder(r)
	var records []Record
	for {
		var rec Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, fmt.Errorf("failed to decode trace record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
}

// Recorder wraps a transport and traces every frame written and read
type Recorder struct {
	Transport
	endpoint string
	out      *TraceWriter
	now      func() time.Time
}

// NewRecorder wraps t, tracing under endpoint to out
func NewRecorder(t Transport, endpoint string, out *TraceWriter) *Recorder {
	return &Recorder{Transport: t, endpoint: endpoint, out: out, now: time.Now}
}

// RecordingFactory wraps every transport built by f in a Recorder
func RecordingFactory(f Factory, endpoint string, out *TraceWriter) Factory {
	return func() (Transport, error) {
		t, err := f()
		if err != nil {
			return nil, err
		}
		return NewRecorder(t, endpoint, out), nil
	}
}

func (r *Recorder) record(dir Direction, data []byte) error {
	return r.out.Write(Record{
		At:       r.now().UnixNano(),
		Endpoint: r.endpoint,
		Dir:      dir,
		Data:     append([]byte(nil), data...),
	})
}

// Write implements Transport
func (r *Recorder) Write(p []byte) error {
	if err := r.Transport.Write(p); err != nil {
		return err
	}
	return r.record(DirTx, p)
}

// ReadUntil implements Transport
func (r *Recorder) ReadUntil(terminator []byte, timeout time.Duration) ([]byte, error) {
	frame, err := r.Transport.ReadUntil(terminator, timeout)
	switch {
	case errors.Is(err, ErrReadTimeout):
		if rerr := r.record(DirTimeout, nil); rerr != nil {
			return nil, rerr
		}
		return nil, err
	case err != nil:
		return nil, err
	}
	if rerr := r.record(DirRx, frame); rerr != nil {
		return nil, rerr
	}
	return frame, nil
}

// ErrReplayMismatch is returned when a replayed session writes a frame the
// trace did not record.
var ErrReplayMismatch = errors.New("frame does not match trace")

// Replay is a transport answering from a recorded trace. Written frames are
// checked against the recorded TX frames in order.
type Replay struct {
	records []Record
	next    int
	open    bool
}

// NewReplay builds a replay transport from the records of one endpoint
func NewReplay(records []Record, endpoint string) *Replay {
	var own []Record
	for _, rec := range records {
		if endpoint == "" || rec.Endpoint == endpoint {
			own = append(own, rec)
		}
	}
	return &Replay{records: own}
}

// Open implements Transport
func (r *Replay) Open() error {
	r.open = true
	return nil
}

// Close implements Transport
func (r *Replay) Close() error {
	r.open = false
	return nil
}

// IsOpen implements Transport
func (r *Replay) IsOpen() bool {
	return r.open
}

// Remaining returns the number of records not yet replayed
func (r *Replay) Remaining() int {
	return len(r.records) - r.next
}

// Write implements Transport
func (r *Replay) Write(p []byte) error {
	if !r.open {
		return ErrNotOpen
	}
	if r.next >= len(r.records) {
		return fmt.Errorf("trace exhausted: %w", ErrConnectionClosed)
	}
	rec := r.records[r.next]
	if rec.Dir != DirTx || !bytes.Equal(rec.Data, p) {
		return fmt.Errorf("%w: wrote %q, record %d is %s %q", ErrReplayMismatch, p, r.next, rec.Dir, rec.Data)
	}
	r.next++
	return nil
}

// ReadUntil implements Transport
func (r *Replay) ReadUntil(terminator []byte, timeout time.Duration) ([]byte, error) {
	if !r.open {
		return nil, ErrNotOpen
	}
	if r.next >= len(r.records) {
		return nil, fmt.Errorf("trace exhausted: %w", ErrConnectionClosed)
	}
	rec := r.records[r.next]
	switch rec.Dir {
	case DirRx:
		r.next++
		return rec.Data, nil
	case DirTimeout:
		r.next++
		return nil, fmt.Errorf("%w (replayed)", ErrReadTimeout)
	default:
		return nil, fmt.Errorf("%w: read expected, record %d is %s", ErrReplayMismatch, r.next, rec.Dir)
	}
}
