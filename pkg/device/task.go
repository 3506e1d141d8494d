// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTaskQueue is the number of results a task buffers for its reader
const DefaultTaskQueue = 100

// TaskFunc is one run of a background task. Runs returning neither a value
// nor an error produce no result.
type TaskFunc func() (any, error)

// TaskResult is the outcome of one task run
type TaskResult struct {
	At    time.Time
	Value any
	Err   error
}

// Task runs a function at a fixed interval on its own goroutine until
// stopped. Results are buffered; when the buffer is full new results are
// dropped and counted.
type Task struct {
	name     string
	interval time.Duration
	fn       TaskFunc
	log      logrus.FieldLogger

	results chan TaskResult
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	runs    atomic.Int64
	dropped atomic.Int64
}

// NewTask starts fn every interval, first immediately
func NewTask(name string, interval time.Duration, fn TaskFunc, log logrus.FieldLogger) (*Task, error) {
	return startTask(name, interval, DefaultTaskQueue, fn, log)
}

func startTask(name string, interval time.Duration, queue int, fn TaskFunc, log logrus.FieldLogger) (*Task, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("task %s: interval must be positive, got %v", name, interval)
	}
	if fn == nil {
		return nil, fmt.Errorf("task %s: no function", name)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	t := &Task{
		name:     name,
		interval: interval,
		fn:       fn,
		log:      log.WithField("task", name),
		results:  make(chan TaskResult, queue),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	t.log.WithField("interval", interval).Info("Background task started")
	go t.run()
	return t, nil
}

// Name returns the task name
func (t *Task) Name() string { return t.name }

// Interval returns the time between runs
func (t *Task) Interval() time.Duration { return t.interval }

// Results returns the result queue. It is closed once the task has exited.
func (t *Task) Results() <-chan TaskResult { return t.results }

// Runs returns how many times the function has run
func (t *Task) Runs() int64 { return t.runs.Load() }

// Dropped returns how many results were discarded on a full queue
func (t *Task) Dropped() int64 { return t.dropped.Load() }

// Done is closed once the task has exited
func (t *Task) Done() <-chan struct{} { return t.done }

// Stop signals the task to exit and waits until it has. A run in progress
// is finished first. Stop may be called more than once.
func (t *Task) Stop() {
	t.once.Do(func() { close(t.stop) })
	<-t.done
}

func (t *Task) run() {
	defer func() {
		close(t.results)
		close(t.done)
		t.log.Info("Background task exiting")
	}()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		default:
		}

		t.runOnce()

		select {
		case <-t.stop:
			return
		case <-ticker.C:
		}
	}
}

func (t *Task) runOnce() {
	v, err := t.fn()
	t.runs.Add(1)
	if v == nil && err == nil {
		return
	}

	select {
	case t.results <- TaskResult{At: time.Now(), Value: v, Err: err}:
	default:
		t.dropped.Add(1)
		t.log.WithField("value", fmt.Sprint(v)).Warn("Result queue full, dropping task result")
	}
}
