// Package protocol defines the JSON message vocabulary spoken between the
// sync client and the relay. Every frame is a single object with a "type"
// discriminator; unknown or missing types are rejected at parse time.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/roundsync/internal/timer"
)

// AccessLevel is the privilege a resolved access code grants.
type AccessLevel string

const (
	AccessEdit AccessLevel = "edit"
	AccessView AccessLevel = "view"
)

// Client -> relay message types.
const (
	TypeCreateRoom  = "createRoom"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeRoomCheck   = "roomCheck"
	TypeCreateTimer = "createTimer"
	TypeUpdateTimer = "updateTimer"
	TypeDeleteTimer = "deleteTimer"
)

// Relay -> client message types.
const (
	TypeRoomValidity       = "roomValidity"
	TypeRoomInfo           = "roomInfo"
	TypeRoomUpdate         = "roomUpdate"
	TypeTimerCreated       = "timerCreated"
	TypeTimerUpdate        = "timerUpdate"
	TypeTimerDeleted       = "timerDeleted"
	TypeUnsubscribeSuccess = "unsubscribeSuccess"
	TypeMembershipRevoked  = "membershipRevoked"
	TypeError              = "error"
)

// ClientMessage is an outbound operation. Mutating operations carry the
// sender's active access code in AccessID; the relay rejects codes without
// edit rights.
type ClientMessage struct {
	Type     string       `json:"type"`
	AccessID string       `json:"accessId,omitempty"`
	Timer    *timer.Timer `json:"timer,omitempty"`
	TimerID  *uuid.UUID   `json:"id,omitempty"`
}

// ServerMessage is an inbound event pushed by the relay.
type ServerMessage struct {
	Type        string        `json:"type"`
	Valid       bool          `json:"valid,omitempty"`
	AccessLevel AccessLevel   `json:"accessLevel,omitempty"`
	ViewAccess  string        `json:"viewAccessId,omitempty"`
	EditAccess  string        `json:"editAccessId,omitempty"`
	Timers      []timer.Timer `json:"timers,omitempty"`
	Timer       *timer.Timer  `json:"timer,omitempty"`
	TimerID     *uuid.UUID    `json:"id,omitempty"`
	Message     string        `json:"message,omitempty"`
}

// ParseClientMessage decodes and validates an inbound frame on the relay
// side.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("decode client message: %w", err)
	}
	switch msg.Type {
	case TypeCreateRoom, TypeSubscribe, TypeUnsubscribe, TypeRoomCheck,
		TypeCreateTimer, TypeUpdateTimer, TypeDeleteTimer:
		return msg, nil
	case "":
		return ClientMessage{}, fmt.Errorf("client message missing type")
	default:
		return ClientMessage{}, fmt.Errorf("unknown client message type %q", msg.Type)
	}
}

// ParseServerMessage decodes and validates an inbound frame on the client
// side.
func ParseServerMessage(data []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ServerMessage{}, fmt.Errorf("decode server message: %w", err)
	}
	switch msg.Type {
	case TypeRoomValidity, TypeRoomInfo, TypeRoomUpdate, TypeTimerCreated,
		TypeTimerUpdate, TypeTimerDeleted, TypeUnsubscribeSuccess,
		TypeMembershipRevoked, TypeError:
		return msg, nil
	case "":
		return ServerMessage{}, fmt.Errorf("server message missing type")
	default:
		return ServerMessage{}, fmt.Errorf("unknown server message type %q", msg.Type)
	}
}

// Error builds the generic failure event.
func Error(message string) ServerMessage {
	return ServerMessage{Type: TypeError, Message: message}
}
