package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkravtsov/wakewatch/internal/auth"
	"github.com/mkravtsov/wakewatch/internal/logger"
	"github.com/mkravtsov/wakewatch/internal/protocol"
)

// Sender delivers envelopes to one peer. Implementations must preserve FIFO
// order per connection; delivery across connections is unordered.
type Sender interface {
	Send(envelope *protocol.Envelope) error
	Close()
}

// Connection is one live sync session. All fields are set at registration
// and immutable afterwards except lastSeen, which the registry owns.
type Connection struct {
	// ID uniquely identifies the connection for point-to-point sends.
	ID uuid.UUID
	// Role is the connection's declared role.
	Role protocol.Role
	// Claims is the verified token identity.
	Claims auth.Claims

	// sender delivers outbound envelopes to the peer.
	sender Sender
	// lastSeen is the instant of the most recent heartbeat or traffic.
	lastSeen time.Time
}

// DefaultSweepInterval is how often the liveness sweep runs. It is well under
// the heartbeat timeout so a dead peer is detected within one sweep of the
// bound, even with no further traffic on the socket.
const DefaultSweepInterval = 15 * time.Second

var (
	// ErrRoleConflict is returned when a second agent tries to register
	// while one is active and the replace policy is off.
	ErrRoleConflict = errors.New("an agent connection is already active")
	// ErrNotRegistered is returned for sends to unknown connections.
	ErrNotRegistered = errors.New("connection is not registered")
)

// Registry tracks every live connection and is the only component allowed to
// mutate connection state. All access goes through its methods.
type Registry struct {
	// mu protects conns and agentID.
	mu sync.Mutex
	// conns holds every active connection by ID.
	conns map[uuid.UUID]*Connection
	// agentID is the active agent connection, or uuid.Nil.
	agentID uuid.UUID

	// replaceAgent selects the supersede policy for a second agent:
	// false rejects the newcomer, true closes the incumbent.
	replaceAgent bool
	// heartbeatTimeout is the silence window before a peer is declared dead.
	heartbeatTimeout time.Duration
	// sweepInterval is the liveness sweep period.
	sweepInterval time.Duration
	// now is the clock, injectable for tests.
	now func() time.Time
}

// Option configures the registry.
type Option func(*Registry)

// WithReplaceAgent makes a new agent connection supersede the active one
// instead of being rejected. Off by default: rejecting avoids split-brain
// execution when two agents race.
func WithReplaceAgent() Option {
	return func(r *Registry) {
		r.replaceAgent = true
	}
}

// WithHeartbeatTimeout overrides the dead-peer silence window.
func WithHeartbeatTimeout(timeout time.Duration) Option {
	return func(r *Registry) {
		if timeout > 0 {
			r.heartbeatTimeout = timeout
		}
	}
}

// WithSweepInterval overrides the liveness sweep period.
func WithSweepInterval(interval time.Duration) Option {
	return func(r *Registry) {
		if interval > 0 {
			r.sweepInterval = interval
		}
	}
}

// WithClock injects the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		conns:            make(map[uuid.UUID]*Connection),
		heartbeatTimeout: protocol.HeartbeatTimeout,
		sweepInterval:    DefaultSweepInterval,
		now:              time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds an authenticated connection under the given role.
// Registering a second agent fails with ErrRoleConflict unless the replace
// policy is on, in which case the incumbent is deregistered first.
func (r *Registry) Register(
	ctx context.Context,
	role protocol.Role,
	claims auth.Claims,
	sender Sender,
) (*Connection, error) {
	var superseded *Connection

	r.mu.Lock()

	if role == protocol.RoleAgent && r.agentID != uuid.Nil {
		if !r.replaceAgent {
			r.mu.Unlock()

			return nil, ErrRoleConflict
		}

		superseded = r.conns[r.agentID]
		delete(r.conns, r.agentID)
		r.agentID = uuid.Nil
	}

	conn := &Connection{
		ID:       uuid.New(),
		Role:     role,
		Claims:   claims,
		sender:   sender,
		lastSeen: r.now(),
	}

	r.conns[conn.ID] = conn

	if role == protocol.RoleAgent {
		r.agentID = conn.ID
	}

	r.mu.Unlock()

	if superseded != nil {
		logger.InfoKV(ctx, "Agent connection superseded",
			"old_connection_id", superseded.ID, "new_connection_id", conn.ID)
		superseded.sender.Close()
	}

	logger.InfoKV(ctx, "Connection registered",
		"connection_id", conn.ID, "role", role, "subject", claims.Subject)

	// Browsers learn about agent arrival; the agent itself needs no echo.
	if role == protocol.RoleAgent {
		r.Broadcast(ctx, protocol.RoleBrowser, protocol.ClientStatusUpdate{AgentOnline: true})
	}

	return conn, nil
}

// Deregister removes the connection and closes its sender. If it was the
// agent, browsers are told the execution endpoint went offline.
func (r *Registry) Deregister(ctx context.Context, id uuid.UUID) {
	r.mu.Lock()

	conn, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()

		return
	}

	delete(r.conns, id)

	wasAgent := r.agentID == id
	if wasAgent {
		r.agentID = uuid.Nil
	}

	r.mu.Unlock()

	conn.sender.Close()

	logger.InfoKV(ctx, "Connection deregistered", "connection_id", id, "role", conn.Role)

	if wasAgent {
		r.Broadcast(ctx, protocol.RoleBrowser, protocol.ClientStatusUpdate{AgentOnline: false})
	}
}

// Broadcast delivers the message to every active connection of the role.
// Delivery is best-effort: a failing peer is logged, not deregistered here,
// since its read pump or the sweep will reap it.
func (r *Registry) Broadcast(ctx context.Context, role protocol.Role, msg protocol.Message) {
	envelope, err := protocol.NewEnvelope(msg, r.now())
	if err != nil {
		logger.ErrorKV(ctx, "Broadcast encode failed", "type", msg.MessageType(), "error", err)

		return
	}

	for _, conn := range r.connectionsByRole(role) {
		if err := conn.sender.Send(envelope); err != nil {
			logger.WarnKV(ctx, "Broadcast delivery failed",
				"connection_id", conn.ID, "type", envelope.Type, "error", err)
		}
	}
}

// BroadcastAll delivers the message to every active connection of any role.
func (r *Registry) BroadcastAll(ctx context.Context, msg protocol.Message) {
	r.Broadcast(ctx, protocol.RoleBrowser, msg)
	r.Broadcast(ctx, protocol.RoleAgent, msg)
}

// Send delivers the message point-to-point.
func (r *Registry) Send(_ context.Context, id uuid.UUID, msg protocol.Message) error {
	r.mu.Lock()
	conn, ok := r.conns[id]
	r.mu.Unlock()

	if !ok {
		return ErrNotRegistered
	}

	envelope, err := protocol.NewEnvelope(msg, r.now())
	if err != nil {
		return err
	}

	return conn.sender.Send(envelope)
}

// Touch records traffic on the connection, deferring its heartbeat deadline.
func (r *Registry) Touch(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[id]; ok {
		conn.lastSeen = r.now()
	}
}

// AgentOnline reports whether the single execution agent is connected.
func (r *Registry) AgentOnline() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.agentID != uuid.Nil
}

// Len returns the number of active connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.conns)
}

// RunSweeper periodically reaps connections silent for longer than the
// heartbeat timeout. It blocks until the context is cancelled. The sweep is
// what catches silently dead sockets that never produce a read error.
func (r *Registry) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// Sweep runs a single liveness pass, reaping silent connections.
func (r *Registry) sweep(ctx context.Context) {
	deadline := r.now().Add(-r.heartbeatTimeout)

	r.mu.Lock()

	var dead []uuid.UUID

	for id, conn := range r.conns {
		if conn.lastSeen.Before(deadline) {
			dead = append(dead, id)
		}
	}

	r.mu.Unlock()

	for _, id := range dead {
		logger.WarnKV(ctx, "Heartbeat timeout, reaping connection", "connection_id", id)
		r.Deregister(ctx, id)
	}
}

// SweepOnce exposes a single sweep pass for tests and diagnostics.
func (r *Registry) SweepOnce(ctx context.Context) {
	r.sweep(ctx)
}

// connectionsByRole snapshots the connections of a role so sends happen
// outside the lock.
func (r *Registry) connectionsByRole(role protocol.Role) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*Connection

	for _, conn := range r.conns {
		if conn.Role == role {
			result = append(result, conn)
		}
	}

	return result
}
