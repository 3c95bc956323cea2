package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Device identifier used until the user picks another one
const defaultDeviceID = "webclient"

var (
	ErrEmptyDeviceID = errors.New("device id must not be empty")
	ErrScopeClosed   = errors.New("connection scope is closed")
)

// ConnectionScope owns the current Connection for the lifetime of the
// application and is handed to every consumer that needs the connection
// handle, the connectivity flag or the device id setter.
type ConnectionScope struct {
	dialer  Dialer
	policy  ReconnectPolicy
	handler MessageHandler
	logger  *slog.Logger
	opts    []ConnectionOption

	// switchMu serializes device switches, reconnects and Close
	switchMu sync.Mutex

	mu       sync.RWMutex
	ctx      context.Context
	current  *Connection
	deviceID string
	closed   bool
}

func NewConnectionScope(deviceID string, dialer Dialer, policy ReconnectPolicy, handler MessageHandler, logger *slog.Logger, opts ...ConnectionOption) *ConnectionScope {
	if deviceID == "" {
		deviceID = defaultDeviceID
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ConnectionScope{
		dialer:   dialer,
		policy:   policy,
		handler:  handler,
		logger:   logger,
		opts:     opts,
		deviceID: deviceID,
	}
}

// Start creates the first connection. Connections live until Close or
// until ctx is cancelled.
func (s *ConnectionScope) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrScopeClosed
	}
	if s.ctx != nil {
		s.mu.Unlock()
		return nil
	}
	s.ctx = ctx
	id := s.deviceID
	s.mu.Unlock()

	return s.replace(id, true)
}

// Current returns the live Connection, or nil outside the scope lifetime
func (s *ConnectionScope) Current() *Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Handle returns the open transport handle, or nil
func (s *ConnectionScope) Handle() Conn {
	if c := s.Current(); c != nil {
		return c.Handle()
	}
	return nil
}

func (s *ConnectionScope) Connected() bool {
	if c := s.Current(); c != nil {
		return c.Connected()
	}
	return false
}

func (s *ConnectionScope) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID
}

// SetDeviceID closes the current connection and opens a new one for id.
// Messages read by the old connection are never dispatched once this returns.
func (s *ConnectionScope) SetDeviceID(id string) error {
	if id == "" {
		return ErrEmptyDeviceID
	}
	if id == s.DeviceID() && s.Current() != nil {
		return nil
	}
	return s.replace(id, true)
}

// Reconnect recreates the connection for the current device id
func (s *ConnectionScope) Reconnect() error {
	return s.replace(s.DeviceID(), false)
}

// Close tears down the current connection; the scope cannot be reused
func (s *ConnectionScope) Close() {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	old := s.current
	s.current = nil
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	s.logger.Info("connection scope closed")
}

func (s *ConnectionScope) replace(id string, switched bool) error {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrScopeClosed
	}
	old := s.current
	s.current = nil
	prevID := s.deviceID
	s.deviceID = id
	ctx := s.ctx
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if ctx == nil {
		// Not started yet, the id is picked up by Start
		return nil
	}

	conn := NewConnection(id, s.dialer, s.policy, s.dispatch, s.logger, s.opts...)
	s.mu.Lock()
	s.current = conn
	s.mu.Unlock()

	if switched && prevID != id {
		s.logger.Info("device id changed", "from", prevID, "to", id)
	}
	conn.Start(ctx)
	return nil
}

// dispatch forwards messages from the current connection only
func (s *ConnectionScope) dispatch(c *Connection, payload []byte) {
	if s.Current() != c || s.handler == nil {
		return
	}
	s.handler(c, payload)
}
