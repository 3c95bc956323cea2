package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"
)

const (
	defaultTestTimeout = 2 * time.Second
	testTick           = 5 * time.Millisecond
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func fastPolicy() ReconnectPolicy {
	return ReconnectPolicy{InitialDelay: 20 * time.Millisecond, Multiplier: 1}
}

var errDialRefused = errors.New("connection refused")

// fakeConn is an in-memory transport handle
type fakeConn struct {
	deviceID  string
	msgs      chan []byte
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn(deviceID string) *fakeConn {
	return &fakeConn{
		deviceID: deviceID,
		msgs:     make(chan []byte, 16),
		errs:     make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case <-c.closed:
		return nil, net.ErrClosed
	default:
	}
	select {
	case m := <-c.msgs:
		return m, nil
	case err := <-c.errs:
		return nil, err
	case <-c.closed:
		return nil, net.ErrClosed
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Push(msg string) {
	c.msgs <- []byte(msg)
}

func (c *fakeConn) Fail(err error) {
	c.errs <- err
}

func (c *fakeConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out fakeConns and records every dial
type fakeDialer struct {
	mu       sync.Mutex
	dials    []string
	failNext int
	failAll  bool
	conns    chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 32)}
}

func (d *fakeDialer) Target(deviceID string) string {
	return "fake://" + deviceID
}

func (d *fakeDialer) Dial(ctx context.Context, deviceID string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials = append(d.dials, deviceID)
	if d.failAll {
		return nil, errDialRefused
	}
	if d.failNext > 0 {
		d.failNext--
		return nil, errDialRefused
	}
	c := newFakeConn(deviceID)
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) Dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dials...)
}

func (d *fakeDialer) DialCount() int {
	return len(d.Dials())
}

// nextConn waits for the next successful dial
func (d *fakeDialer) nextConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(defaultTestTimeout):
		t.Fatal("timed out waiting for a dial")
		return nil
	}
}

// stateRecorder collects state transitions from a WithStateHook
type stateRecorder struct {
	mu     sync.Mutex
	states []ConnState
}

func (r *stateRecorder) hook(_ *Connection, s ConnState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) States() []ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnState(nil), r.states...)
}

// messageRecorder is a MessageHandler that keeps every payload
type messageRecorder struct {
	mu       sync.Mutex
	payloads []string
	devices  []string
}

func (r *messageRecorder) handle(c *Connection, payload []byte) {
	r.mu.Lock()
	r.payloads = append(r.payloads, string(payload))
	r.devices = append(r.devices, c.DeviceID())
	r.mu.Unlock()
}

func (r *messageRecorder) Payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.payloads...)
}

func (r *messageRecorder) Devices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.devices...)
}
