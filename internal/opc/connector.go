package opc

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// State describes where the connector is in its session lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateRetrying
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateRetrying:
		return "retrying"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DataChange is one decoded data-change notification from the upstream server.
type DataChange struct {
	NodeID string
	Value  any
}

// Notification carries either a data change or an error surfaced by the
// notification delivery path.
type Notification struct {
	Change DataChange
	Err    error
}

// Session is one established upstream connection with an active data-change
// subscription. It is created per connect attempt and discarded on any error.
type Session interface {
	// Notifications delivers decoded data changes. The channel is closed
	// when the session ends on its own.
	Notifications() <-chan Notification

	// CheckHealth verifies the connection is still alive, typically by
	// reading the server status. Used to detect silently broken connections.
	CheckHealth(ctx context.Context) error

	Close(ctx context.Context) error
}

// DialFunc establishes a session: connect, resolve the monitored node and
// register the data-change subscription.
type DialFunc func(ctx context.Context) (Session, error)

// Publisher receives the serialized messages the connector produces.
// *pubsub.Hub satisfies it.
type Publisher interface {
	Publish(msg string)
}

// Connector owns the upstream session lifecycle. It dials, serves
// notifications into the Publisher and retries forever on transient errors.
// Anything outside the transient class ends Run and is fatal to the process.
type Connector struct {
	pub        Publisher
	dial       DialFunc
	retryDelay time.Duration

	// healthInterval is how often an established session is probed.
	healthInterval time.Duration

	state atomic.Int32
}

// NewConnector creates a Connector publishing into pub via sessions obtained
// from dial.
func NewConnector(pub Publisher, dial DialFunc, retryDelay time.Duration) *Connector {
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	return &Connector{
		pub:            pub,
		dial:           dial,
		retryDelay:     retryDelay,
		healthInterval: time.Second,
	}
}

// SetHealthInterval overrides the connection health probe interval.
func (c *Connector) SetHealthInterval(d time.Duration) {
	if d > 0 {
		c.healthInterval = d
	}
}

// State returns the connector's current lifecycle state.
func (c *Connector) State() State {
	return State(c.state.Load())
}

func (c *Connector) setState(s State) {
	c.state.Store(int32(s))
	slog.Debug("opc ua connector state", "state", s.String())
}

// Run drives the connect/subscribe/retry loop until ctx is cancelled or a
// non-transient error occurs. It never gives up on transient failures.
func (c *Connector) Run(ctx context.Context) error {
	defer c.setState(StateDisconnected)

	for {
		c.setState(StateConnecting)

		err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsTransient(err) {
			return err
		}
		slog.Error("opc ua client error", "error", err)

		c.setState(StateRetrying)
		slog.Info("opc ua connection retry", "delay", c.retryDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
}

func (c *Connector) connectAndServe(ctx context.Context) error {
	sess, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("opc ua connect: %w", err)
	}
	defer c.closeSession(sess)

	c.setState(StateSubscribed)
	slog.Info("opc ua subscription established")

	return c.serve(ctx, sess)
}

// serve pumps notifications into the publisher and probes connection health
// until the session breaks or ctx is cancelled.
func (c *Connector) serve(ctx context.Context, sess Session) error {
	health := time.NewTicker(c.healthInterval)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-sess.Notifications():
			if !ok {
				return errSessionClosed
			}
			if n.Err != nil {
				return fmt.Errorf("opc ua notification: %w", n.Err)
			}
			if err := c.publish(n.Change); err != nil {
				return err
			}
		case <-health.C:
			if err := sess.CheckHealth(ctx); err != nil {
				return fmt.Errorf("opc ua health check: %w", err)
			}
		}
	}
}

func (c *Connector) publish(change DataChange) error {
	msg, err := EncodeDataChange(change)
	if err != nil {
		return fmt.Errorf("encoding data change for node %s: %w", change.NodeID, err)
	}

	slog.Debug("data change notification", "node", change.NodeID)
	c.pub.Publish(msg)
	return nil
}

// closeSession releases a session with its own deadline; the surrounding ctx
// may already be cancelled when teardown runs.
func (c *Connector) closeSession(sess Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sess.Close(ctx); err != nil {
		slog.Debug("closing opc ua session", "error", err)
	}
}
