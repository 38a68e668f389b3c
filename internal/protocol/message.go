package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mkravtsov/wakewatch/internal/domain/alarm"
)

// Type is the wire message type discriminator.
type Type string

// Message types exchanged over a sync connection.
const (
	// TypeAuth is the first client frame, carrying the bearer token and role.
	TypeAuth Type = "AUTH"
	// TypeAuthSuccess confirms the handshake and carries the agent flag.
	TypeAuthSuccess Type = "AUTH_SUCCESS"
	// TypeAuthFailed rejects the handshake; the connection is closed after it.
	TypeAuthFailed Type = "AUTH_FAILED"
	// TypeRequestState asks the server for a full snapshot.
	TypeRequestState Type = "REQUEST_STATE"
	// TypeStateSync carries the full authoritative alarm snapshot.
	TypeStateSync Type = "STATE_SYNC"
	// TypeSetAlarm is an incremental create-or-update delta.
	TypeSetAlarm Type = "SET_ALARM"
	// TypeDeleteAlarm is an incremental removal delta.
	TypeDeleteAlarm Type = "DELETE_ALARM"
	// TypeClientStatusUpdate notifies browsers of agent connectivity changes.
	TypeClientStatusUpdate Type = "CLIENT_STATUS_UPDATE"
	// TypeHeartbeat is the periodic liveness signal.
	TypeHeartbeat Type = "HEARTBEAT"
	// TypeHeartbeatAck answers a heartbeat.
	TypeHeartbeatAck Type = "HEARTBEAT_ACK"
)

// Role distinguishes the two kinds of sync clients.
type Role string

const (
	// RoleBrowser is a read-only observer connection.
	RoleBrowser Role = "browser"
	// RoleAgent is the single execution endpoint.
	RoleAgent Role = "agent"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleBrowser || r == RoleAgent
}

// Envelope is the wire frame: {type, timestamp, data}.
type Envelope struct {
	// Type discriminates the payload carried in Data.
	Type Type `json:"type"`
	// Timestamp is the sender's send time.
	Timestamp time.Time `json:"timestamp"`
	// Data is the type-specific payload, absent for bare signals.
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is the tagged-variant view of a decoded envelope. Adding a wire
// type means adding a concrete Message and extending Decode, so dispatch
// stays a compile-time-checked switch rather than a dynamic lookup.
type Message interface {
	// MessageType returns the wire type of the message.
	MessageType() Type
}

// Auth is the handshake request.
type Auth struct {
	// Token is the opaque bearer token.
	Token string `json:"token"`
	// Role declares whether the client is a browser or the agent.
	Role Role `json:"role"`
}

// AuthSuccess is the handshake confirmation.
type AuthSuccess struct {
	// AgentOnline reports whether the execution agent is currently connected.
	AgentOnline bool `json:"agent_online"`
}

// AuthFailed is the handshake rejection. Receivers must treat it as a hard
// session invalidation: discard the cached token and force re-login.
type AuthFailed struct {
	// Reason is a human-readable rejection cause.
	Reason string `json:"reason"`
}

// RequestState asks for a full snapshot.
type RequestState struct{}

// StateSync is the full authoritative snapshot.
type StateSync struct {
	// Alarms is the complete alarm set at send time.
	Alarms []alarm.Alarm `json:"alarms"`
}

// SetAlarm is a create-or-update delta carrying the whole alarm.
type SetAlarm struct {
	Alarm alarm.Alarm `json:"alarm"`
}

// DeleteAlarm is a removal delta.
type DeleteAlarm struct {
	// ID identifies the removed alarm.
	ID string `json:"id"`
}

// ClientStatusUpdate reports a change of agent connectivity.
type ClientStatusUpdate struct {
	// AgentOnline is true only while exactly one agent connection is active.
	AgentOnline bool `json:"agent_online"`
}

// Heartbeat is the periodic liveness signal.
type Heartbeat struct{}

// HeartbeatAck answers a heartbeat.
type HeartbeatAck struct{}

// MessageType implementations tie each payload to its wire type.
func (Auth) MessageType() Type               { return TypeAuth }
func (AuthSuccess) MessageType() Type        { return TypeAuthSuccess }
func (AuthFailed) MessageType() Type         { return TypeAuthFailed }
func (RequestState) MessageType() Type       { return TypeRequestState }
func (StateSync) MessageType() Type          { return TypeStateSync }
func (SetAlarm) MessageType() Type           { return TypeSetAlarm }
func (DeleteAlarm) MessageType() Type        { return TypeDeleteAlarm }
func (ClientStatusUpdate) MessageType() Type { return TypeClientStatusUpdate }
func (Heartbeat) MessageType() Type          { return TypeHeartbeat }
func (HeartbeatAck) MessageType() Type       { return TypeHeartbeatAck }

// ErrUnknownType is returned for wire types outside the catalog.
// Receivers log and ignore such frames instead of failing the connection.
var ErrUnknownType = errors.New("unknown message type")

// NewEnvelope wraps a message in a wire envelope stamped with now.
func NewEnvelope(msg Message, now time.Time) (*Envelope, error) {
	envelope := &Envelope{
		Type:      msg.MessageType(),
		Timestamp: now.UTC(),
	}

	switch msg.(type) {
	case RequestState, Heartbeat, HeartbeatAck:
		// Bare signals carry no data.
		return envelope, nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msg.MessageType(), err)
	}

	envelope.Data = data

	return envelope, nil
}

// Decode parses the envelope's payload into its typed message.
//
//nolint:cyclop // One case per wire type; the exhaustive switch is the point.
func (e *Envelope) Decode() (Message, error) {
	switch e.Type {
	case TypeAuth:
		return decodePayload[Auth](e)
	case TypeAuthSuccess:
		return decodePayload[AuthSuccess](e)
	case TypeAuthFailed:
		return decodePayload[AuthFailed](e)
	case TypeRequestState:
		return RequestState{}, nil
	case TypeStateSync:
		return decodePayload[StateSync](e)
	case TypeSetAlarm:
		return decodePayload[SetAlarm](e)
	case TypeDeleteAlarm:
		return decodePayload[DeleteAlarm](e)
	case TypeClientStatusUpdate:
		return decodePayload[ClientStatusUpdate](e)
	case TypeHeartbeat:
		return Heartbeat{}, nil
	case TypeHeartbeatAck:
		return HeartbeatAck{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
}

// decodePayload unmarshals the envelope data into the concrete payload type.
func decodePayload[T Message](e *Envelope) (Message, error) {
	var payload T

	if len(e.Data) == 0 {
		return payload, nil
	}

	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}

	return payload, nil
}
