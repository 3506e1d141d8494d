// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestRecorder_TraceAndReplay(t *testing.T) {
	var buf bytes.Buffer
	tw := NewTraceWriter(&buf)

	ft := &fakeTransport{replies: [][]byte{[]byte("/0`3000\x03\r\n")}}
	factory := RecordingFactory(func() (Transport, error) { return ft, nil }, "/dev/ttyUSB0", tw)
	tr, err := factory()
	if err != nil {
		t.Fatal(err)
	}
	rec := tr.(*Recorder)
	rec.now = func() time.Time { return time.Unix(1700000000, 0) }

	if err := tr.Open(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Write([]byte("/1?\r\n")); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.ReadUntil([]byte("\x03\r\n"), time.Second); err != nil {
		t.Fatal(err)
	}
	if err := tr.Write([]byte("/1QR\r\n")); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.ReadUntil([]byte("\x03\r\n"), time.Second); !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("ReadUntil() error = %v, want ErrReadTimeout", err)
	}

	records, err := ReadTrace(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadTrace() error: %v", err)
	}
	wantDirs := []Direction{DirTx, DirRx, DirTx, DirTimeout}
	if len(records) != len(wantDirs) {
		t.Fatalf("ReadTrace() = %d records, want %d", len(records), len(wantDirs))
	}
	for i, want := range wantDirs {
		if records[i].Dir != want {
			t.Errorf("record %d Dir = %v, want %v", i, records[i].Dir, want)
		}
		if records[i].Endpoint != "/dev/ttyUSB0" {
			t.Errorf("record %d Endpoint = %q", i, records[i].Endpoint)
		}
	}
	if !records[0].Time().Equal(time.Unix(1700000000, 0)) {
		t.Errorf("record time = %v", records[0].Time())
	}

	replay := NewReplay(records, "/dev/ttyUSB0")
	if err := replay.Open(); err != nil {
		t.Fatal(err)
	}
	if err := replay.Write([]byte("/1?\r\n")); err != nil {
		t.Fatalf("replay Write() error: %v", err)
	}
	frame, err := replay.ReadUntil([]byte("\x03\r\n"), time.Second)
	if err != nil || string(frame) != "/0`3000\x03\r\n" {
		t.Fatalf("replay ReadUntil() = %q, %v", frame, err)
	}
	if err := replay.Write([]byte("/1ZR\r\n")); !errors.Is(err, ErrReplayMismatch) {
		t.Errorf("replay Write() error = %v, want ErrReplayMismatch", err)
	}
	if err := replay.Write([]byte("/1QR\r\n")); err != nil {
		t.Fatal(err)
	}
	if _, err := replay.ReadUntil(nil, time.Second); !errors.Is(err, ErrReadTimeout) {
		t.Errorf("replay ReadUntil() error = %v, want ErrReadTimeout", err)
	}
	if replay.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", replay.Remaining())
	}
	if _, err := replay.ReadUntil(nil, time.Second); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("exhausted ReadUntil() error = %v, want ErrConnectionClosed", err)
	}
}

func TestReplay_FiltersEndpoint(t *testing.T) {
	records := []Record{
		{Endpoint: "a", Dir: DirTx, Data: []byte("x")},
		{Endpoint: "b", Dir: DirTx, Data: []byte("y")},
		{Endpoint: "a", Dir: DirRx, Data: []byte("z")},
	}
	if got := NewReplay(records, "a").Remaining(); got != 2 {
		t.Errorf("Remaining() = %d, want 2", got)
	}
	if got := NewReplay(records, "").Remaining(); got != 3 {
		t.Errorf("Remaining() = %d, want 3", got)
	}
}
