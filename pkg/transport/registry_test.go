// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// ============================================================
// Test Helpers
// ============================================================

// fakeTransport answers every write with the next scripted reply
type fakeTransport struct {
	mu       sync.Mutex
	open     bool
	opens    int
	closes   int
	openErr  error
	written  [][]byte
	replies  [][]byte
	inFlight int32
	overlap  int32
}

func (f *fakeTransport) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.open = true
	f.opens++
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.closes++
	return nil
}

// breakConn marks the transport unusable the way a failed bridge read does
func (f *fakeTransport) breakConn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) Write(p []byte) error {
	if atomic.AddInt32(&f.inFlight, 1) > 1 {
		atomic.StoreInt32(&f.overlap, 1)
	}
	f.mu.Lock()
	f.written = append(f.written, append([]byte(nil), p...))
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) ReadUntil(terminator []byte, timeout time.Duration) ([]byte, error) {
	defer atomic.AddInt32(&f.inFlight, -1)
	time.Sleep(time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return nil, ErrReadTimeout
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// ============================================================
// Registry Tests
// ============================================================

func TestRegistry_SharesOneTransport(t *testing.T) {
	reg := NewRegistry(quietLogger())
	ft := &fakeTransport{}
	factoryCalls := 0
	factory := func() (Transport, error) {
		factoryCalls++
		return ft, nil
	}

	const n = 5
	var first *Shared
	for i := 0; i < n; i++ {
		s, err := reg.Bind("/dev/ttyUSB0", factory)
		if err != nil {
			t.Fatalf("Bind() #%d error: %v", i, err)
		}
		if first == nil {
			first = s
		} else if s != first {
			t.Fatalf("Bind() #%d returned a different handle", i)
		}
	}

	if factoryCalls != 1 || ft.opens != 1 {
		t.Errorf("factory calls = %d, opens = %d, want 1 and 1", factoryCalls, ft.opens)
	}
	if got := reg.RefCount("/dev/ttyUSB0"); got != n {
		t.Errorf("RefCount() = %d, want %d", got, n)
	}

	for i := 0; i < n-1; i++ {
		if err := reg.Unbind("/dev/ttyUSB0"); err != nil {
			t.Fatalf("Unbind() #%d error: %v", i, err)
		}
		if ft.closes != 0 || !ft.IsOpen() {
			t.Fatalf("transport closed after %d of %d unbinds", i+1, n)
		}
	}

	if err := reg.Unbind("/dev/ttyUSB0"); err != nil {
		t.Fatalf("last Unbind() error: %v", err)
	}
	if ft.closes != 1 {
		t.Errorf("closes = %d, want 1", ft.closes)
	}
	if got := reg.RefCount("/dev/ttyUSB0"); got != 0 {
		t.Errorf("RefCount() after last unbind = %d, want 0", got)
	}
	if len(reg.Endpoints()) != 0 {
		t.Errorf("Endpoints() = %v, want empty", reg.Endpoints())
	}
}

func TestRegistry_UnbindUnknown(t *testing.T) {
	reg := NewRegistry(quietLogger())
	if err := reg.Unbind("nope"); err == nil {
		t.Error("Unbind() of unknown endpoint should fail")
	}
}

func TestRegistry_OpenFailureLeavesNoEntry(t *testing.T) {
	reg := NewRegistry(quietLogger())
	openErr := errors.New("permission denied")
	_, err := reg.Bind("/dev/ttyS9", func() (Transport, error) {
		return &fakeTransport{openErr: openErr}, nil
	})
	if !errors.Is(err, openErr) {
		t.Fatalf("Bind() error = %v, want %v", err, openErr)
	}
	if reg.RefCount("/dev/ttyS9") != 0 {
		t.Error("failed bind must not leave an entry")
	}

	_, err = reg.Bind("/dev/ttyS9", func() (Transport, error) {
		return nil, fmt.Errorf("bad config")
	})
	if err == nil {
		t.Error("Bind() with failing factory should fail")
	}
}

func TestRegistry_ConcurrentBindUnbind(t *testing.T) {
	reg := NewRegistry(quietLogger())
	ft := &fakeTransport{}
	factory := func() (Transport, error) { return ft, nil }

	// Hold one reference so the transport stays open throughout
	if _, err := reg.Bind("tcp:5000", factory); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Bind("tcp:5000", factory); err != nil {
				t.Error(err)
				return
			}
			if err := reg.Unbind("tcp:5000"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if got := reg.RefCount("tcp:5000"); got != 1 {
		t.Errorf("RefCount() = %d, want 1", got)
	}
	if ft.opens != 1 || ft.closes != 0 {
		t.Errorf("opens = %d, closes = %d, want 1 and 0", ft.opens, ft.closes)
	}
}

// ============================================================
// Shared Transport Tests
// ============================================================

func TestShared_SerializesExchanges(t *testing.T) {
	reg := NewRegistry(quietLogger())
	ft := &fakeTransport{}
	for i := 0; i < 40; i++ {
		ft.replies = append(ft.replies, []byte("/0`\x03\r\n"))
	}
	shared, err := reg.Bind("bus", func() (Transport, error) { return ft, nil })
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(addr int) {
			defer wg.Done()
			frame := []byte(fmt.Sprintf("/%dQR\r\n", addr%4))
			if _, err := shared.Exchange(frame, []byte("\x03\r\n"), time.Second); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	if atomic.LoadInt32(&ft.overlap) != 0 {
		t.Error("exchanges on a shared transport overlapped")
	}
	if len(ft.written) != 40 {
		t.Errorf("written frames = %d, want 40", len(ft.written))
	}
}

func TestShared_CommandGap(t *testing.T) {
	ft := &fakeTransport{open: true}
	s := &Shared{endpoint: "bus", log: quietLogger(), transport: ft}
	s.SetCommandGap(20 * time.Millisecond)
	s.SetCommandGap(5 * time.Millisecond)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := s.Send([]byte("x")); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("3 sends took %v, want at least 40ms", elapsed)
	}
}

func TestShared_ClosedTransport(t *testing.T) {
	ft := &fakeTransport{openErr: errors.New("device unplugged")}
	s := &Shared{endpoint: "bus", log: quietLogger(), transport: ft}
	if _, err := s.Exchange([]byte("Q"), []byte("\r\n"), time.Second); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Exchange() error = %v, want ErrNotOpen", err)
	}
	if len(ft.written) != 0 {
		t.Errorf("%d frames written to a closed transport", len(ft.written))
	}
}

func TestShared_ReopensBrokenTransport(t *testing.T) {
	reg := NewRegistry(quietLogger())
	ft := &fakeTransport{}
	factory := func() (Transport, error) { return ft, nil }

	// Two sessions share the endpoint
	shared, err := reg.Bind("ws://bridge", factory)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Bind("ws://bridge", factory); err != nil {
		t.Fatal(err)
	}

	if _, err := shared.Exchange([]byte("/1QR\r\n"), []byte("\x03\r\n"), time.Second); !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("Exchange() error = %v, want ErrReadTimeout", err)
	}
	ft.breakConn()

	// Reconnecting one session while the other still holds a reference
	if err := reg.Unbind("ws://bridge"); err != nil {
		t.Fatal(err)
	}
	again, err := reg.Bind("ws://bridge", factory)
	if err != nil {
		t.Fatalf("Bind() after failure error: %v", err)
	}
	if !again.IsOpen() || ft.opens != 2 {
		t.Fatalf("IsOpen() = %v, opens = %d, want reopened", again.IsOpen(), ft.opens)
	}

	ft.mu.Lock()
	ft.replies = append(ft.replies, []byte("/0`\x03\r\n"))
	ft.mu.Unlock()
	if _, err := again.Exchange([]byte("/1QR\r\n"), []byte("\x03\r\n"), time.Second); err != nil {
		t.Errorf("Exchange() after reopen error: %v", err)
	}

	// A session that never reconnects recovers on its next write too
	ft.breakConn()
	ft.mu.Lock()
	ft.replies = append(ft.replies, []byte("/0`\x03\r\n"))
	ft.mu.Unlock()
	if _, err := shared.Exchange([]byte("/2QR\r\n"), []byte("\x03\r\n"), time.Second); err != nil {
		t.Errorf("Exchange() on the old handle error: %v", err)
	}
	if ft.opens != 3 || reg.RefCount("ws://bridge") != 2 {
		t.Errorf("opens = %d, refs = %d, want 3 and 2", ft.opens, reg.RefCount("ws://bridge"))
	}
}

func TestRegistry_BindReopenFailure(t *testing.T) {
	reg := NewRegistry(quietLogger())
	ft := &fakeTransport{}
	if _, err := reg.Bind("tcp:5000", func() (Transport, error) { return ft, nil }); err != nil {
		t.Fatal(err)
	}
	ft.breakConn()
	ft.openErr = errors.New("connection refused")

	if _, err := reg.Bind("tcp:5000", nil); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Bind() error = %v, want ErrNotOpen", err)
	}
	if got := reg.RefCount("tcp:5000"); got != 1 {
		t.Errorf("RefCount() = %d, want 1", got)
	}
}

// ============================================================
// Framing Reader Tests
// ============================================================

// chunks replays a fixed sequence of reads
type chunks struct {
	data [][]byte
}

func (c *chunks) readChunk(deadline time.Time) ([]byte, error) {
	if len(c.data) == 0 {
		time.Sleep(time.Until(deadline))
		return nil, nil
	}
	d := c.data[0]
	c.data = c.data[1:]
	return d, nil
}

func TestReadUntil(t *testing.T) {
	src := &chunks{data: [][]byte{[]byte("/0`12"), []byte("3\x03\r"), []byte("\n/0@\x03\r\nextra")}}
	var pending []byte
	term := []byte("\x03\r\n")

	frame, err := readUntil(src, &pending, term, time.Second)
	if err != nil {
		t.Fatalf("readUntil() error: %v", err)
	}
	if !bytes.Equal(frame, []byte("/0`123\x03\r\n")) {
		t.Errorf("first frame = %q", frame)
	}

	frame, err = readUntil(src, &pending, term, time.Second)
	if err != nil {
		t.Fatalf("readUntil() error: %v", err)
	}
	if !bytes.Equal(frame, []byte("/0@\x03\r\n")) {
		t.Errorf("second frame = %q", frame)
	}

	_, err = readUntil(src, &pending, term, 20*time.Millisecond)
	if !errors.Is(err, ErrReadTimeout) {
		t.Errorf("readUntil() error = %v, want ErrReadTimeout", err)
	}
	if pending != nil {
		t.Errorf("partial frame %q kept after timeout", pending)
	}
}

func TestReadUntil_EmptyTerminator(t *testing.T) {
	var pending []byte
	if _, err := readUntil(&chunks{}, &pending, nil, time.Millisecond); err == nil {
		t.Error("readUntil() with empty terminator should fail")
	}
}
