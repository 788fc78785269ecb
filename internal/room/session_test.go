package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "already canonical", in: "AB3D", want: "AB3D"},
		{name: "lowercased input", in: "ab3d", want: "AB3D"},
		{name: "surrounding whitespace", in: "  ab3d\n", want: "AB3D"},
		{name: "too short", in: "AB3", wantErr: true},
		{name: "too long", in: "AB3DE", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeCode(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSessionEditMembership(t *testing.T) {
	var s Session
	assert.False(t, s.InRoom())
	assert.False(t, s.CanEdit())
	assert.Empty(t, s.ActiveCode())

	s.SetEditRoom("room-1", "EDIT", "VIEW")
	assert.True(t, s.InRoom())
	assert.True(t, s.CanEdit())
	assert.Equal(t, ModeEdit, s.Mode)
	assert.Equal(t, "EDIT", s.ActiveCode(), "edit code wins when held")
}

func TestSessionViewMembershipDropsEditCode(t *testing.T) {
	var s Session
	s.SetEditRoom("room-1", "EDIT", "VIEW")

	s.SetViewRoom("room-2", "VU02")
	assert.Equal(t, ModeView, s.Mode)
	assert.Empty(t, s.EditCode)
	assert.Equal(t, "VU02", s.ActiveCode())
	assert.True(t, s.InRoom())
	assert.False(t, s.CanEdit())
}

func TestSessionReset(t *testing.T) {
	var s Session
	s.SetEditRoom("room-1", "EDIT", "VIEW")

	s.Reset()
	assert.Equal(t, Session{}, s)
	assert.False(t, s.InRoom())
	assert.False(t, s.CanEdit())
}
