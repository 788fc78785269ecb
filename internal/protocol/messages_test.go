package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/roundsync/internal/timer"
)

func TestParseClientMessage(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"subscribe","accessId":"AB3D"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeSubscribe, msg.Type)
	assert.Equal(t, "AB3D", msg.AccessID)
	assert.Nil(t, msg.Timer)
	assert.Nil(t, msg.TimerID)
}

func TestParseClientMessageWithTimerPayload(t *testing.T) {
	spec := timer.Spec{EventName: "Modern", Rounds: 3, RoundTime: 50 * time.Minute}
	tm, err := timer.New(uuid.New(), spec, time.Now())
	require.NoError(t, err)

	raw, err := json.Marshal(ClientMessage{Type: TypeCreateTimer, AccessID: "AB3D", Timer: &tm})
	require.NoError(t, err)

	msg, err := ParseClientMessage(raw)
	require.NoError(t, err)
	require.NotNil(t, msg.Timer)
	assert.Equal(t, "Modern", msg.Timer.EventName)
	assert.Equal(t, 50*time.Minute, msg.Timer.RoundTime)
}

func TestParseClientMessageRejectsBadFrames(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "missing type", data: `{"accessId":"AB3D"}`},
		{name: "unknown type", data: `{"type":"launchMissiles"}`},
		{name: "server type on client channel", data: `{"type":"roomUpdate"}`},
		{name: "not json", data: `subscribe AB3D`},
		{name: "wrong shape", data: `["subscribe"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseClientMessage([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestParseServerMessage(t *testing.T) {
	msg, err := ParseServerMessage([]byte(`{"type":"roomInfo","accessLevel":"edit","viewAccessId":"VU01","editAccessId":"ED01"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeRoomInfo, msg.Type)
	assert.Equal(t, AccessEdit, msg.AccessLevel)
	assert.Equal(t, "VU01", msg.ViewAccess)
	assert.Equal(t, "ED01", msg.EditAccess)
}

func TestParseServerMessageRejectsBadFrames(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "missing type", data: `{"valid":true}`},
		{name: "unknown type", data: `{"type":"roomExploded"}`},
		{name: "client type on server channel", data: `{"type":"createTimer"}`},
		{name: "not json", data: `hello`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseServerMessage([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestTimerDeletedCarriesID(t *testing.T) {
	id := uuid.New()
	raw, err := json.Marshal(ServerMessage{Type: TypeTimerDeleted, TimerID: &id})
	require.NoError(t, err)

	msg, err := ParseServerMessage(raw)
	require.NoError(t, err)
	require.NotNil(t, msg.TimerID)
	assert.Equal(t, id, *msg.TimerID)
}

func TestOmittedFieldsStayOffTheWire(t *testing.T) {
	raw, err := json.Marshal(ServerMessage{Type: TypeRoomValidity, Valid: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"roomValidity","valid":true}`, string(raw))

	raw, err = json.Marshal(ClientMessage{Type: TypeRoomCheck, AccessID: "AB3D"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"roomCheck","accessId":"AB3D"}`, string(raw))
}

func TestErrorHelper(t *testing.T) {
	msg := Error("room code doesn't exist")
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, "room code doesn't exist", msg.Message)
}
