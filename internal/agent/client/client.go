package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mkravtsov/wakewatch/internal/domain/alarm"
	"github.com/mkravtsov/wakewatch/internal/logger"
	"github.com/mkravtsov/wakewatch/internal/protocol"
)

// Handler receives the server-pushed state. Implementations are called from
// the client's read loop, one message at a time, in receive order.
type Handler interface {
	// OnStateSync replaces the whole local alarm view.
	OnStateSync(ctx context.Context, snapshot []alarm.Alarm)
	// OnSetAlarm applies a create-or-update delta.
	OnSetAlarm(ctx context.Context, a alarm.Alarm)
	// OnDeleteAlarm applies a removal delta.
	OnDeleteAlarm(ctx context.Context, id string)
	// OnAgentStatus reports agent connectivity changes.
	OnAgentStatus(ctx context.Context, online bool)
}

var (
	// ErrConnectionLost is the terminal condition after the reconnect budget
	// is exhausted; the operator has to intervene.
	ErrConnectionLost = errors.New("connection lost")
	// ErrAuthRejected means the server invalidated the session. The cached
	// token is discarded; reconnecting with it would only fail again.
	ErrAuthRejected = errors.New("authentication rejected")
)

// Client maintains a sync connection with automatic bounded reconnection.
type Client struct {
	// url is the websocket endpoint.
	url string
	// token is the bearer token; cleared on AUTH_FAILED.
	token string
	// role is the declared connection role.
	role protocol.Role
	// handler consumes server-pushed state.
	handler Handler

	// backoff is the reconnect policy.
	backoff *protocol.Backoff
	// heartbeatInterval is the liveness signal period while connected.
	heartbeatInterval time.Duration
	// dialer opens websocket connections.
	dialer *websocket.Dialer

	// writeMu serializes writes across the heartbeat loop and the read loop.
	writeMu sync.Mutex
	// conn is the live connection, nil while disconnected.
	conn *websocket.Conn
}

// Option configures the client.
type Option func(*Client)

// WithBackoff overrides the reconnect policy, used by tests.
func WithBackoff(b *protocol.Backoff) Option {
	return func(c *Client) {
		if b != nil {
			c.backoff = b
		}
	}
}

// WithHeartbeatInterval overrides the heartbeat period.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.heartbeatInterval = interval
		}
	}
}

// New creates a sync client for the given endpoint and role.
func New(url, token string, role protocol.Role, handler Handler, opts ...Option) *Client {
	c := &Client{
		url:               url,
		token:             token,
		role:              role,
		handler:           handler,
		backoff:           protocol.NewBackoff(),
		heartbeatInterval: protocol.HeartbeatInterval,
		dialer:            websocket.DefaultDialer,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Run connects and keeps the session alive until the context is cancelled.
// A cancelled context is the deliberate disconnect: it returns nil and never
// reconnects. Otherwise Run retries per the backoff policy and returns
// ErrConnectionLost when the budget is exhausted, or ErrAuthRejected when the
// server invalidates the session.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.runOnce(ctx)

		if ctx.Err() != nil {
			return nil
		}

		if errors.Is(err, ErrAuthRejected) {
			// Hard invalidation: drop the token so no retry can reuse it.
			c.token = ""

			return err
		}

		delay, ok := c.backoff.Next()
		if !ok {
			return fmt.Errorf("%w: %d attempts exhausted", ErrConnectionLost, c.backoff.MaxAttempts)
		}

		logger.WarnKV(ctx, "Connection lost, reconnecting",
			"attempt", c.backoff.Attempt(), "delay", delay.String(), "error", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// runOnce performs one full session: dial, handshake, pump until it dies.
func (c *Client) runOnce(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	defer func() {
		_ = conn.Close()
	}()

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	if err := c.send(protocol.Auth{Token: c.token, Role: c.role}); err != nil {
		return err
	}

	if err := c.awaitAuthResult(ctx, conn); err != nil {
		return err
	}

	// Authenticated: the reconnect budget starts fresh.
	c.backoff.Reset()
	logger.InfoKV(ctx, "Sync session established", "url", c.url, "role", c.role)

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()

	go c.heartbeatLoop(heartbeatCtx)

	// Close the socket when the context ends so the read loop unblocks and
	// a user-initiated stop is immediate.
	go func() {
		<-heartbeatCtx.Done()
		_ = conn.Close()
	}()

	return c.readLoop(ctx, conn)
}

// awaitAuthResult reads the server's verdict on the handshake.
func (c *Client) awaitAuthResult(ctx context.Context, conn *websocket.Conn) error {
	var envelope protocol.Envelope
	if err := conn.ReadJSON(&envelope); err != nil {
		return fmt.Errorf("read auth result: %w", err)
	}

	msg, err := envelope.Decode()
	if err != nil {
		return fmt.Errorf("decode auth result: %w", err)
	}

	switch result := msg.(type) {
	case protocol.AuthSuccess:
		c.handler.OnAgentStatus(ctx, result.AgentOnline)

		return nil
	case protocol.AuthFailed:
		logger.ErrorKV(ctx, "Session invalidated by server", "reason", result.Reason)

		return fmt.Errorf("%w: %s", ErrAuthRejected, result.Reason)
	default:
		return fmt.Errorf("unexpected handshake reply %s", envelope.Type)
	}
}

// readLoop dispatches server frames until the connection dies.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var envelope protocol.Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		msg, err := envelope.Decode()
		if err != nil {
			// Unknown types are logged and ignored, not fatal.
			logger.WarnKV(ctx, "Ignoring undecodable frame", "type", envelope.Type, "error", err)

			continue
		}

		switch m := msg.(type) {
		case protocol.StateSync:
			c.handler.OnStateSync(ctx, m.Alarms)
		case protocol.SetAlarm:
			c.handler.OnSetAlarm(ctx, m.Alarm)
		case protocol.DeleteAlarm:
			c.handler.OnDeleteAlarm(ctx, m.ID)
		case protocol.ClientStatusUpdate:
			c.handler.OnAgentStatus(ctx, m.AgentOnline)
		case protocol.AuthFailed:
			return fmt.Errorf("%w: %s", ErrAuthRejected, m.Reason)
		case protocol.Heartbeat:
			_ = c.send(protocol.HeartbeatAck{})
		case protocol.HeartbeatAck:
			// Liveness acknowledged, nothing to apply.
		default:
			logger.WarnKV(ctx, "Ignoring unexpected server frame", "type", envelope.Type)
		}
	}
}

// heartbeatLoop emits the periodic liveness signal while connected.
func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(protocol.Heartbeat{}); err != nil {
				// The read loop sees the broken socket and reconnects.
				return
			}
		}
	}
}

// RequestState asks the server for a fresh full snapshot.
func (c *Client) RequestState() error {
	return c.send(protocol.RequestState{})
}

// send serializes one frame onto the live connection.
func (c *Client) send(msg protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil {
		return ErrConnectionLost
	}

	envelope, err := protocol.NewEnvelope(msg, time.Now())
	if err != nil {
		return err
	}

	if err := c.conn.WriteJSON(envelope); err != nil {
		return fmt.Errorf("write %s: %w", envelope.Type, err)
	}

	return nil
}
