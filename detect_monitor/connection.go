package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConnState is a step in the connection lifecycle
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
	StateErrored
	StateFailed   // reconnect policy exhausted
	StateDisposed // Close was called, terminal
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	case StateFailed:
		return "failed"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Conn is a live transport handle delivering one message per read
type Conn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens a new transport handle for a device
type Dialer interface {
	Dial(ctx context.Context, deviceID string) (Conn, error)
	Target(deviceID string) string
}

// CloseError reports a close initiated by the remote side
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed (code %d)", e.Code)
	}
	return fmt.Sprintf("connection closed (code %d): %s", e.Code, e.Reason)
}

// MessageHandler receives every inbound payload, in transport order
type MessageHandler func(c *Connection, payload []byte)

// ReconnectPolicy decides how long to wait between reconnect attempts
type ReconnectPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration // 0 means no cap
	Multiplier   float64       // 1 gives a fixed delay
	Jitter       float64       // fraction of the delay, 0..1
	MaxAttempts  int           // consecutive reconnects before giving up, 0 is unlimited
}

// DefaultReconnectPolicy retries every second forever
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: 1000 * time.Millisecond,
		Multiplier:   1,
	}
}

func (p ReconnectPolicy) Validate() error {
	switch {
	case p.InitialDelay <= 0:
		return errors.New("reconnect initial delay must be positive")
	case p.MaxDelay < 0:
		return errors.New("reconnect max delay must not be negative")
	case p.Multiplier < 1:
		return errors.New("reconnect multiplier must be at least 1")
	case p.Jitter < 0 || p.Jitter > 1:
		return errors.New("reconnect jitter must be between 0 and 1")
	case p.MaxAttempts < 0:
		return errors.New("reconnect max attempts must not be negative")
	}
	return nil
}

// Delay returns the wait before reconnect attempt n (1-based)
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Exhausted reports whether no reconnect may follow failure number attempt
func (p ReconnectPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}

// Connection owns at most one live transport handle to a single device and
// replaces it with a fresh one after every close or error.
type Connection struct {
	id       string
	deviceID string
	dialer   Dialer
	policy   ReconnectPolicy
	handler  MessageHandler
	onState  func(*Connection, ConnState)
	logger   *slog.Logger

	mu          sync.RWMutex
	state       ConnState
	handle      Conn
	attempts    int
	lastErr     error
	lastErrTime time.Time
	started     bool
	closing     bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// ConnectionOption customizes a Connection
type ConnectionOption func(*Connection)

// WithStateHook registers fn to be called after every state transition
func WithStateHook(fn func(*Connection, ConnState)) ConnectionOption {
	return func(c *Connection) {
		c.onState = fn
	}
}

func NewConnection(deviceID string, dialer Dialer, policy ReconnectPolicy, handler MessageHandler, logger *slog.Logger, opts ...ConnectionOption) *Connection {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	id := uuid.NewString()
	c := &Connection{
		id:       id,
		deviceID: deviceID,
		dialer:   dialer,
		policy:   policy,
		handler:  handler,
		state:    StateConnecting,
		done:     make(chan struct{}),
		logger: logger.With(
			"device", deviceID,
			"conn_id", id,
			"target", dialer.Target(deviceID),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start runs the lifecycle in its own goroutine until Close or ctx ends
func (c *Connection) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go c.run()
}

// Close tears the connection down: the handle is closed, any pending
// reconnect is cancelled and no further messages are delivered.
// It blocks until the lifecycle goroutine has exited.
func (c *Connection) Close() {
	c.mu.Lock()
	if !c.started {
		c.started = true
		c.closing = true
		c.state = StateDisposed
		close(c.done)
		c.mu.Unlock()
		return
	}
	if !c.closing {
		c.closing = true
		c.cancel()
	}
	c.mu.Unlock()

	<-c.done
}

func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) DeviceID() string {
	return c.deviceID
}

func (c *Connection) Target() string {
	return c.dialer.Target(c.deviceID)
}

// Handle returns the live transport handle, or nil when not open
func (c *Connection) Handle() Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateOpen {
		return nil
	}
	return c.handle
}

func (c *Connection) Connected() bool {
	return c.State() == StateOpen
}

func (c *Connection) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Attempts returns the number of failures since the last successful open
func (c *Connection) Attempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempts
}

func (c *Connection) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Connection) LastErrorTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErrTime
}

func (c *Connection) run() {
	defer close(c.done)
	defer c.setState(StateDisposed)

	for {
		c.setState(StateConnecting)
		c.logger.Debug("connecting")

		conn, err := c.dialer.Dial(c.ctx, c.deviceID)
		if c.ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}

		if err != nil {
			c.fail(StateErrored, err)
		} else {
			err = c.serve(conn)
			if c.ctx.Err() != nil {
				return
			}
			c.fail(classifyReadError(err), err)
		}

		attempt := c.Attempts()
		if c.policy.Exhausted(attempt) {
			c.logger.Error("giving up on connection", "attempts", attempt-1)
			c.setState(StateFailed)
			<-c.ctx.Done()
			return
		}

		delay := c.policy.Delay(attempt)
		c.logger.Info("attempting to reconnect", "attempt", attempt, "delay", delay)
		if !sleepContext(c.ctx, delay) {
			return
		}
	}
}

// serve installs conn as the live handle and reads until it fails
func (c *Connection) serve(conn Conn) error {
	closeConn := sync.OnceFunc(func() { conn.Close() })
	stop := context.AfterFunc(c.ctx, closeConn)
	defer func() {
		stop()
		closeConn()
	}()
	if c.ctx.Err() != nil {
		return nil
	}

	c.mu.Lock()
	c.handle = conn
	c.attempts = 0
	c.mu.Unlock()
	c.setState(StateOpen)
	c.logger.Info("connected")

	for {
		payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if c.ctx.Err() != nil {
			return nil
		}
		if c.handler != nil {
			c.handler(c, payload)
		}
	}
}

func (c *Connection) fail(state ConnState, err error) {
	c.mu.Lock()
	c.handle = nil
	c.attempts++
	c.lastErr = err
	c.lastErrTime = time.Now()
	c.mu.Unlock()

	var closeErr *CloseError
	switch {
	case errors.As(err, &closeErr) && closeErr.Reason != "":
		c.logger.Info("connection closed", "reason", closeErr.Reason, "code", closeErr.Code)
	case state == StateClosed:
		c.logger.Info("connection closed")
	default:
		c.logger.Warn("connection error", "error", err)
	}
	c.setState(state)
}

func (c *Connection) setState(state ConnState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	if state != StateOpen {
		c.handle = nil
	}
	hook := c.onState
	c.mu.Unlock()

	c.logger.Debug("state changed", "state", state)
	if hook != nil {
		hook(c, state)
	}
}

// classifyReadError maps a read failure to Closed for orderly ends and
// Errored for everything else
func classifyReadError(err error) ConnState {
	var closeErr *CloseError
	if errors.As(err, &closeErr) || errors.Is(err, io.EOF) {
		return StateClosed
	}
	return StateErrored
}

// sleepContext waits for d and reports false if ctx ended first
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
