package hub

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mkravtsov/wakewatch/internal/auth"
	"github.com/mkravtsov/wakewatch/internal/domain/alarm"
	"github.com/mkravtsov/wakewatch/internal/logger"
	"github.com/mkravtsov/wakewatch/internal/protocol"
	"github.com/mkravtsov/wakewatch/internal/repository/alarms"
	"github.com/mkravtsov/wakewatch/internal/server/registry"
)

// DefaultAuthDeadline bounds how long an unauthenticated socket may sit idle
// before the server gives up on its handshake.
const DefaultAuthDeadline = 10 * time.Second

// Hub runs the server side of the sync protocol: it upgrades sockets, drives
// the handshake, dispatches inbound frames and, as the state reconciler,
// pushes the authoritative alarm set to every connection.
type Hub struct {
	// registry tracks live connections and delivers outbound frames.
	registry *registry.Registry
	// store is the authoritative alarm set.
	store alarms.Store
	// secret verifies handshake tokens.
	secret string

	// authDeadline bounds the unauthenticated phase of a connection.
	authDeadline time.Duration
	// now is the clock, injectable for tests.
	now func() time.Time
	// upgrader performs the websocket upgrade.
	upgrader websocket.Upgrader
}

// Option configures the hub.
type Option func(*Hub)

// WithAuthDeadline overrides the handshake deadline.
func WithAuthDeadline(deadline time.Duration) Option {
	return func(h *Hub) {
		if deadline > 0 {
			h.authDeadline = deadline
		}
	}
}

// WithClock injects the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// New creates a hub over the given registry and alarm store and subscribes
// to store mutations so every write is reconciled out as a delta.
func New(reg *registry.Registry, store alarms.Store, secret string, opts ...Option) *Hub {
	h := &Hub{
		registry:     reg,
		store:        store,
		secret:       secret,
		authDeadline: DefaultAuthDeadline,
		now:          time.Now,
		upgrader: websocket.Upgrader{
			// Browsers connect from arbitrary origins; the token is the
			// access control, not the Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	store.Subscribe(h.onAlarmSet, h.onAlarmDeleted)

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// CurrentSnapshot returns the authoritative alarm set. This is the read
// surface exposed to the CRUD layer.
func (h *Hub) CurrentSnapshot(ctx context.Context) []alarm.Alarm {
	return h.store.All(ctx)
}

// onAlarmSet reconciles a create-or-update out to every active connection.
func (h *Hub) onAlarmSet(ctx context.Context, a alarm.Alarm) {
	h.registry.BroadcastAll(ctx, protocol.SetAlarm{Alarm: a})
}

// onAlarmDeleted reconciles a removal out to every active connection.
func (h *Hub) onAlarmDeleted(ctx context.Context, id string) {
	h.registry.BroadcastAll(ctx, protocol.DeleteAlarm{ID: id})
}

// ServeHTTP upgrades the request and runs the connection to completion.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithName(r.Context(), "hub")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnKV(ctx, "Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)

		return
	}

	h.serve(ctx, conn)
}

// serve drives one connection: handshake, then the dispatch loop.
func (h *Hub) serve(ctx context.Context, conn *websocket.Conn) {
	sender := newWSSender(conn)

	session, err := h.handshake(ctx, conn, sender)
	if err != nil {
		sender.Close()

		return
	}

	ctx = logger.WithKV(ctx, "connection_id", session.ID, "role", session.Role)

	defer h.registry.Deregister(ctx, session.ID)

	h.readLoop(ctx, conn, sender, session)
}

// handshake expects AUTH as the first frame, verifies the token and registers
// the connection. On failure the peer gets AUTH_FAILED with a reason and the
// error return tells the caller to drop the socket.
func (h *Hub) handshake(
	ctx context.Context,
	conn *websocket.Conn,
	sender *wsSender,
) (*registry.Connection, error) {
	_ = conn.SetReadDeadline(h.now().Add(h.authDeadline))

	var envelope protocol.Envelope
	if err := conn.ReadJSON(&envelope); err != nil {
		logger.WarnKV(ctx, "Handshake read failed", "error", err)

		return nil, err
	}

	msg, err := envelope.Decode()
	if err != nil {
		h.rejectAuth(ctx, sender, "first message must be AUTH")

		return nil, err
	}

	request, ok := msg.(protocol.Auth)
	if !ok {
		h.rejectAuth(ctx, sender, "first message must be AUTH")

		return nil, errors.New("unexpected handshake message")
	}

	if !request.Role.Valid() {
		h.rejectAuth(ctx, sender, "unknown role")

		return nil, errors.New("unknown role")
	}

	claims, err := auth.Verify(h.secret, request.Token, h.now())
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			h.rejectAuth(ctx, sender, "token expired")
		default:
			h.rejectAuth(ctx, sender, "token invalid")
		}

		return nil, err
	}

	session, err := h.registry.Register(ctx, request.Role, *claims, sender)
	if err != nil {
		if errors.Is(err, registry.ErrRoleConflict) {
			h.rejectAuth(ctx, sender, "an agent is already connected")
		}

		return nil, err
	}

	// Success: confirm, then immediately reconcile with a full snapshot so
	// the server's truth is the only state the peer trusts.
	_ = h.registry.Send(ctx, session.ID, protocol.AuthSuccess{
		AgentOnline: h.registry.AgentOnline(),
	})
	_ = h.registry.Send(ctx, session.ID, protocol.StateSync{
		Alarms: h.store.All(ctx),
	})

	// Handshake done; fall back to the heartbeat-governed liveness model.
	_ = conn.SetReadDeadline(time.Time{})

	return session, nil
}

// rejectAuth delivers AUTH_FAILED with a reason before the socket closes.
func (h *Hub) rejectAuth(ctx context.Context, sender *wsSender, reason string) {
	envelope, err := protocol.NewEnvelope(protocol.AuthFailed{Reason: reason}, h.now())
	if err != nil {
		return
	}

	if err := sender.Send(envelope); err != nil {
		logger.WarnKV(ctx, "Auth rejection delivery failed", "error", err)
	}

	logger.WarnKV(ctx, "Handshake rejected", "reason", reason)
}

// readLoop dispatches inbound frames until the socket dies. Any inbound
// traffic counts as liveness.
func (h *Hub) readLoop(
	ctx context.Context,
	conn *websocket.Conn,
	sender *wsSender,
	session *registry.Connection,
) {
	for {
		var envelope protocol.Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WarnKV(ctx, "Connection read failed", "error", err)
			}

			return
		}

		h.registry.Touch(session.ID)

		msg, err := envelope.Decode()
		if err != nil {
			// Unknown or malformed frames are logged and ignored, not fatal.
			logger.WarnKV(ctx, "Ignoring undecodable frame", "type", envelope.Type, "error", err)

			continue
		}

		switch msg.(type) {
		case protocol.Heartbeat:
			_ = h.registry.Send(ctx, session.ID, protocol.HeartbeatAck{})
		case protocol.HeartbeatAck:
			// Touch above already recorded liveness.
		case protocol.RequestState:
			// A long-lived connection re-proves freshness when it asks for
			// state: expired claims end the session rather than serving
			// stale-authenticated reads.
			if !session.Claims.ExpiresAt.After(h.now()) {
				h.rejectAuth(ctx, sender, "token expired")

				return
			}

			_ = h.registry.Send(ctx, session.ID, protocol.StateSync{
				Alarms: h.store.All(ctx),
			})
		default:
			logger.WarnKV(ctx, "Ignoring unexpected client frame", "type", envelope.Type)
		}
	}
}
