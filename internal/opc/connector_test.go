package opc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPublisher collects every published message.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []string
}

func (p *recordingPublisher) Publish(msg string) {
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
}

func (p *recordingPublisher) messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.msgs...)
}

// fakeSession simulates an established upstream subscription.
type fakeSession struct {
	notify    chan Notification
	healthErr error
	closed    atomic.Int32
}

func newFakeSession() *fakeSession {
	return &fakeSession{notify: make(chan Notification, 8)}
}

func (s *fakeSession) Notifications() <-chan Notification { return s.notify }

func (s *fakeSession) CheckHealth(context.Context) error { return s.healthErr }

func (s *fakeSession) Close(context.Context) error {
	s.closed.Add(1)
	return nil
}

func TestConnector_PublishesDecodedNotifications(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	sess := newFakeSession()
	c := NewConnector(pub, func(context.Context) (Session, error) {
		return sess, nil
	}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	sess.notify <- Notification{Change: DataChange{
		NodeID: "42",
		Value:  map[string]any{"x": 1},
	}}

	require.Eventually(t, func() bool {
		return len(pub.messages()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, `{"type":"opc_data_change","node":"42","data":{"x":1}}`, pub.messages()[0])

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.EqualValues(t, 1, sess.closed.Load())
}

func TestConnector_RetriesForeverOnDialTimeout(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	c := NewConnector(&recordingPublisher{}, func(context.Context) (Session, error) {
		attempts.Add(1)
		return nil, syscall.ECONNREFUSED
	}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return attempts.Load() >= 3
	}, time.Second, time.Millisecond, "connector stopped retrying")

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConnector_FatalDialErrorStopsRun(t *testing.T) {
	t.Parallel()

	boom := errors.New("certificate rejected")
	c := NewConnector(&recordingPublisher{}, func(context.Context) (Session, error) {
		return nil, boom
	}, 5*time.Millisecond)

	err := c.Run(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestConnector_NotificationErrorTriggersRetry(t *testing.T) {
	t.Parallel()

	first := newFakeSession()
	second := newFakeSession()
	sessions := []*fakeSession{first, second}

	var dials atomic.Int32
	c := NewConnector(&recordingPublisher{}, func(context.Context) (Session, error) {
		n := dials.Add(1)
		if int(n) > len(sessions) {
			return newFakeSession(), nil
		}
		return sessions[n-1], nil
	}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	first.notify <- Notification{Err: syscall.ECONNRESET}

	require.Eventually(t, func() bool {
		return dials.Load() >= 2
	}, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, first.closed.Load())

	cancel()
	<-done
}

func TestConnector_ClosedNotificationChannelTriggersRetry(t *testing.T) {
	t.Parallel()

	first := newFakeSession()
	close(first.notify)

	var dials atomic.Int32
	c := NewConnector(&recordingPublisher{}, func(context.Context) (Session, error) {
		if dials.Add(1) == 1 {
			return first, nil
		}
		return newFakeSession(), nil
	}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return dials.Load() >= 2
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestConnector_HealthCheckFailureTriggersRetry(t *testing.T) {
	t.Parallel()

	sick := newFakeSession()
	sick.healthErr = syscall.ECONNRESET

	var dials atomic.Int32
	c := NewConnector(&recordingPublisher{}, func(context.Context) (Session, error) {
		if dials.Add(1) == 1 {
			return sick, nil
		}
		return newFakeSession(), nil
	}, 5*time.Millisecond)
	c.SetHealthInterval(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return dials.Load() >= 2
	}, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, sick.closed.Load())

	cancel()
	<-done
}

func TestConnector_CancelDuringRetryDelay(t *testing.T) {
	t.Parallel()

	c := NewConnector(&recordingPublisher{}, func(context.Context) (Session, error) {
		return nil, syscall.ECONNREFUSED
	}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return c.State() == StateRetrying
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return during retry delay")
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "subscribed", StateSubscribed.String())
	assert.Equal(t, "retrying", StateRetrying.String())
}
