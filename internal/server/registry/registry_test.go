package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkravtsov/wakewatch/internal/auth"
	"github.com/mkravtsov/wakewatch/internal/protocol"
)

// fakeSender records delivered envelopes for assertions.
type fakeSender struct {
	// mu protects sent and closed.
	mu sync.Mutex
	// sent is every envelope delivered, in order.
	sent []*protocol.Envelope
	// closed reports whether Close was called.
	closed bool
}

func (f *fakeSender) Send(envelope *protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, envelope)

	return nil
}

func (f *fakeSender) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
}

func (f *fakeSender) byType(t protocol.Type) []*protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []*protocol.Envelope

	for _, e := range f.sent {
		if e.Type == t {
			result = append(result, e)
		}
	}

	return result
}

func testClaims(subject string) auth.Claims {
	return auth.Claims{
		Subject:   subject,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

// TestRegisterRejectsSecondAgent asserts the default policy: connection B
// fails with a role conflict and connection A stays active.
func TestRegisterRejectsSecondAgent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := New()

	a, err := r.Register(ctx, protocol.RoleAgent, testClaims("agent-a"), new(fakeSender))
	require.NoError(t, err)
	require.True(t, r.AgentOnline())

	_, err = r.Register(ctx, protocol.RoleAgent, testClaims("agent-b"), new(fakeSender))
	require.ErrorIs(t, err, ErrRoleConflict)

	// A is still the registered agent.
	require.True(t, r.AgentOnline())
	require.NoError(t, r.Send(ctx, a.ID, protocol.Heartbeat{}))
}

// TestRegisterReplaceAgentPolicy verifies the explicit supersede switch.
func TestRegisterReplaceAgentPolicy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := New(WithReplaceAgent())

	oldSender := new(fakeSender)

	old, err := r.Register(ctx, protocol.RoleAgent, testClaims("agent-a"), oldSender)
	require.NoError(t, err)

	_, err = r.Register(ctx, protocol.RoleAgent, testClaims("agent-b"), new(fakeSender))
	require.NoError(t, err)

	require.True(t, oldSender.closed)
	require.ErrorIs(t, r.Send(ctx, old.ID, protocol.Heartbeat{}), ErrNotRegistered)
	require.True(t, r.AgentOnline())
}

// TestAgentStatusBroadcasts checks browsers hear about agent arrival and
// departure, exactly once each.
func TestAgentStatusBroadcasts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := New()

	browser := new(fakeSender)

	_, err := r.Register(ctx, protocol.RoleBrowser, testClaims("user"), browser)
	require.NoError(t, err)

	agent, err := r.Register(ctx, protocol.RoleAgent, testClaims("agent"), new(fakeSender))
	require.NoError(t, err)

	updates := browser.byType(protocol.TypeClientStatusUpdate)
	require.Len(t, updates, 1)

	msg, err := updates[0].Decode()
	require.NoError(t, err)
	require.Equal(t, protocol.ClientStatusUpdate{AgentOnline: true}, msg)

	r.Deregister(ctx, agent.ID)
	require.False(t, r.AgentOnline())

	updates = browser.byType(protocol.TypeClientStatusUpdate)
	require.Len(t, updates, 2)

	msg, err = updates[1].Decode()
	require.NoError(t, err)
	require.Equal(t, protocol.ClientStatusUpdate{AgentOnline: false}, msg)

	// Deregistering again is a no-op, no duplicate broadcast.
	r.Deregister(ctx, agent.ID)
	require.Len(t, browser.byType(protocol.TypeClientStatusUpdate), 2)
}

// TestSweepReapsSilentConnections drives a manual clock past the heartbeat
// timeout and checks the silent agent is reaped with a single status
// broadcast, while a heartbeating browser survives.
func TestSweepReapsSilentConnections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	now := time.Date(2026, time.March, 1, 7, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	r := New(WithClock(clock))

	browser := new(fakeSender)

	b, err := r.Register(ctx, protocol.RoleBrowser, testClaims("user"), browser)
	require.NoError(t, err)

	agentSender := new(fakeSender)

	_, err = r.Register(ctx, protocol.RoleAgent, testClaims("agent"), agentSender)
	require.NoError(t, err)

	// 60s in: both inside the window, browser heartbeats.
	now = now.Add(60 * time.Second)
	r.Touch(b.ID)
	r.SweepOnce(ctx)
	require.Equal(t, 2, r.Len())

	// 91s after the agent's last traffic: the agent is past the bound.
	now = now.Add(31 * time.Second)
	r.SweepOnce(ctx)

	require.Equal(t, 1, r.Len())
	require.False(t, r.AgentOnline())
	require.True(t, agentSender.closed)

	offline := browser.byType(protocol.TypeClientStatusUpdate)

	// Arrival update plus exactly one offline update.
	require.Len(t, offline, 2)
}

// TestBroadcastTargetsRole ensures role filtering and FIFO order per connection.
func TestBroadcastTargetsRole(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := New()

	browser := new(fakeSender)
	agent := new(fakeSender)

	_, err := r.Register(ctx, protocol.RoleBrowser, testClaims("user"), browser)
	require.NoError(t, err)

	_, err = r.Register(ctx, protocol.RoleAgent, testClaims("agent"), agent)
	require.NoError(t, err)

	r.Broadcast(ctx, protocol.RoleAgent, protocol.StateSync{})
	r.Broadcast(ctx, protocol.RoleAgent, protocol.Heartbeat{})

	require.Empty(t, browser.byType(protocol.TypeStateSync))
	require.Len(t, agent.byType(protocol.TypeStateSync), 1)

	// FIFO within the agent connection.
	agent.mu.Lock()
	require.Equal(t, protocol.TypeStateSync, agent.sent[0].Type)
	require.Equal(t, protocol.TypeHeartbeat, agent.sent[1].Type)
	agent.mu.Unlock()
}
