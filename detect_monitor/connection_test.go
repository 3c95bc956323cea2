package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionOpensAndDeliversMessages(t *testing.T) {
	dialer := newFakeDialer()
	rec := &messageRecorder{}
	c := NewConnection("webclient", dialer, fastPolicy(), rec.handle, testLogger())
	assert.Equal(t, StateConnecting, c.State())
	assert.Nil(t, c.Handle())

	c.Start(context.Background())
	defer c.Close()

	conn := dialer.nextConn(t)
	require.Eventually(t, c.Connected, defaultTestTimeout, testTick)
	assert.Same(t, conn, c.Handle())

	conn.Push(`{"event":"ping"}`)
	conn.Push(`{"event":"pong"}`)
	require.Eventually(t, func() bool { return len(rec.Payloads()) == 2 }, defaultTestTimeout, testTick)
	assert.Equal(t, []string{`{"event":"ping"}`, `{"event":"pong"}`}, rec.Payloads())
	assert.Equal(t, []string{"webclient"}, dialer.Dials())
	assert.Equal(t, "fake://webclient", c.Target())
	assert.NotEmpty(t, c.ID())
}

func TestConnectionReconnectsAfterClose(t *testing.T) {
	dialer := newFakeDialer()
	states := &stateRecorder{}
	c := NewConnection("glass-1", dialer, fastPolicy(), nil, testLogger(), WithStateHook(states.hook))
	c.Start(context.Background())
	defer c.Close()

	first := dialer.nextConn(t)
	require.Eventually(t, c.Connected, defaultTestTimeout, testTick)

	first.Fail(&CloseError{Code: 1001, Reason: "server restart"})

	second := dialer.nextConn(t)
	require.Eventually(t, c.Connected, defaultTestTimeout, testTick)

	assert.True(t, first.IsClosed(), "old handle must be closed before reconnect")
	assert.NotSame(t, first, second)
	assert.Same(t, second, c.Handle())
	assert.Equal(t, []string{"glass-1", "glass-1"}, dialer.Dials())
	assert.Equal(t, 0, c.Attempts())

	var closeErr *CloseError
	require.ErrorAs(t, c.LastError(), &closeErr)
	assert.Equal(t, "server restart", closeErr.Reason)
	assert.False(t, c.LastErrorTime().IsZero())

	require.Eventually(t, func() bool { return len(states.States()) == 4 }, defaultTestTimeout, testTick)
	assert.Equal(t, []ConnState{StateOpen, StateClosed, StateConnecting, StateOpen}, states.States())
}

func TestConnectionFlagFalseUntilReopen(t *testing.T) {
	dialer := newFakeDialer()
	policy := ReconnectPolicy{InitialDelay: 200 * time.Millisecond, Multiplier: 1}
	c := NewConnection("glass-1", dialer, policy, nil, testLogger())
	c.Start(context.Background())
	defer c.Close()

	first := dialer.nextConn(t)
	require.Eventually(t, c.Connected, defaultTestTimeout, testTick)

	first.Fail(errors.New("read: connection reset by peer"))
	require.Eventually(t, func() bool { return c.State() == StateErrored }, defaultTestTimeout, testTick)
	assert.False(t, c.Connected())
	assert.Nil(t, c.Handle())
	assert.Equal(t, 1, c.Attempts())
	assert.Equal(t, 1, dialer.DialCount(), "reconnect must wait for the policy delay")

	dialer.nextConn(t)
	require.Eventually(t, c.Connected, defaultTestTimeout, testTick)
	assert.Equal(t, 2, dialer.DialCount())
}

func TestConnectionRetriesFailedDials(t *testing.T) {
	dialer := newFakeDialer()
	dialer.failNext = 2
	states := &stateRecorder{}
	c := NewConnection("glass-1", dialer, fastPolicy(), nil, testLogger(), WithStateHook(states.hook))
	c.Start(context.Background())
	defer c.Close()

	dialer.nextConn(t)
	require.Eventually(t, c.Connected, defaultTestTimeout, testTick)
	assert.Equal(t, 3, dialer.DialCount())
	assert.ErrorIs(t, c.LastError(), errDialRefused)
	require.Eventually(t, func() bool { return len(states.States()) == 5 }, defaultTestTimeout, testTick)
	assert.Equal(t, []ConnState{
		StateErrored, StateConnecting,
		StateErrored, StateConnecting,
		StateOpen,
	}, states.States())
}

func TestConnectionGivesUpAfterMaxAttempts(t *testing.T) {
	dialer := newFakeDialer()
	dialer.failAll = true
	policy := fastPolicy()
	policy.MaxAttempts = 2
	c := NewConnection("glass-1", dialer, policy, nil, testLogger())
	c.Start(context.Background())

	require.Eventually(t, func() bool { return c.State() == StateFailed }, defaultTestTimeout, testTick)
	assert.Equal(t, 3, dialer.DialCount(), "initial dial plus two reconnects")

	c.Close()
	assert.Equal(t, StateDisposed, c.State())
	assert.Equal(t, 3, dialer.DialCount())
}

func TestConnectionCloseCancelsPendingReconnect(t *testing.T) {
	dialer := newFakeDialer()
	dialer.failAll = true
	policy := ReconnectPolicy{InitialDelay: time.Hour, Multiplier: 1}
	c := NewConnection("glass-1", dialer, policy, nil, testLogger())
	c.Start(context.Background())

	require.Eventually(t, func() bool { return c.Attempts() == 1 }, defaultTestTimeout, testTick)

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(defaultTestTimeout):
		t.Fatal("Close blocked on the pending reconnect")
	}

	assert.Equal(t, StateDisposed, c.State())
	assert.Equal(t, 1, dialer.DialCount())
}

func TestConnectionCloseStopsDelivery(t *testing.T) {
	dialer := newFakeDialer()
	rec := &messageRecorder{}
	c := NewConnection("glass-1", dialer, fastPolicy(), rec.handle, testLogger())
	c.Start(context.Background())

	conn := dialer.nextConn(t)
	require.Eventually(t, c.Connected, defaultTestTimeout, testTick)

	c.Close()
	c.Close()

	assert.True(t, conn.IsClosed())
	assert.Nil(t, c.Handle())
	assert.False(t, c.Connected())
	assert.Equal(t, StateDisposed, c.State())

	conn.msgs <- []byte("late")
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.Payloads())
	assert.Equal(t, 1, dialer.DialCount())
}

func TestConnectionStopsWithParentContext(t *testing.T) {
	dialer := newFakeDialer()
	ctx, cancel := context.WithCancel(context.Background())
	c := NewConnection("glass-1", dialer, fastPolicy(), nil, testLogger())
	c.Start(ctx)

	conn := dialer.nextConn(t)
	require.Eventually(t, c.Connected, defaultTestTimeout, testTick)

	cancel()
	select {
	case <-c.Done():
	case <-time.After(defaultTestTimeout):
		t.Fatal("connection did not stop")
	}
	assert.True(t, conn.IsClosed())
	assert.Equal(t, StateDisposed, c.State())
}

func TestConnectionCloseBeforeStart(t *testing.T) {
	dialer := newFakeDialer()
	c := NewConnection("glass-1", dialer, fastPolicy(), nil, testLogger())
	c.Close()
	c.Start(context.Background())

	assert.Equal(t, StateDisposed, c.State())
	assert.Equal(t, 0, dialer.DialCount())
	select {
	case <-c.Done():
	default:
		t.Fatal("done should be closed")
	}
}

func TestReconnectPolicyDefaultIsFixedOneSecond(t *testing.T) {
	p := DefaultReconnectPolicy()
	require.NoError(t, p.Validate())
	for attempt := 1; attempt <= 10; attempt++ {
		assert.Equal(t, time.Second, p.Delay(attempt))
		assert.False(t, p.Exhausted(attempt))
	}
}

func TestReconnectPolicyExponentialBackoff(t *testing.T) {
	p := ReconnectPolicy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
		MaxAttempts:  5,
	}
	require.NoError(t, p.Validate())

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, d := range want {
		assert.Equal(t, d, p.Delay(i+1), "attempt %d", i+1)
	}
	assert.False(t, p.Exhausted(5))
	assert.True(t, p.Exhausted(6))
}

func TestReconnectPolicyJitterStaysInBounds(t *testing.T) {
	p := ReconnectPolicy{InitialDelay: time.Second, Multiplier: 1, Jitter: 0.2}
	for i := 0; i < 100; i++ {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}

func TestReconnectPolicyValidate(t *testing.T) {
	cases := map[string]ReconnectPolicy{
		"zero delay":       {Multiplier: 1},
		"negative max":     {InitialDelay: time.Second, MaxDelay: -1, Multiplier: 1},
		"small multiplier": {InitialDelay: time.Second, Multiplier: 0.5},
		"jitter too big":   {InitialDelay: time.Second, Multiplier: 1, Jitter: 1.5},
		"negative max try": {InitialDelay: time.Second, Multiplier: 1, MaxAttempts: -1},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, p.Validate())
		})
	}
}

func TestClassifyReadError(t *testing.T) {
	assert.Equal(t, StateClosed, classifyReadError(&CloseError{Code: 1000}))
	assert.Equal(t, StateClosed, classifyReadError(io.EOF))
	assert.Equal(t, StateErrored, classifyReadError(errors.New("boom")))
}

func TestCloseErrorMessage(t *testing.T) {
	assert.Equal(t, "connection closed (code 1000)", (&CloseError{Code: 1000}).Error())
	assert.Equal(t, "connection closed (code 1001): going away", (&CloseError{Code: 1001, Reason: "going away"}).Error())
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "disposed", StateDisposed.String())
	assert.Equal(t, "ConnState(42)", ConnState(42).String())
}
