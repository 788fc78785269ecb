// Package room tracks which room the client belongs to and at what
// privilege level. The session is the single source of the access code
// attached to every authenticated operation.
package room

import (
	"errors"
	"strings"
)

// Mode is the client's current privilege level in its room.
type Mode string

const (
	ModeNone Mode = ""
	ModeView Mode = "view"
	ModeEdit Mode = "edit"
)

const CodeLength = 4

var ErrBadCode = errors.New("room code must be 4 characters")

// NormalizeCode validates and canonicalizes a user-entered access code.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != CodeLength {
		return "", ErrBadCode
	}
	return code, nil
}

// Session holds the room identity. EditCode is only ever set for sessions
// that joined or created the room with edit rights; a view-only session
// never observes it.
type Session struct {
	RoomID   string
	EditCode string
	ViewCode string
	Mode     Mode
}

// SetEditRoom records an edit-level membership.
func (s *Session) SetEditRoom(roomID, editCode, viewCode string) {
	s.RoomID = roomID
	s.EditCode = editCode
	s.ViewCode = viewCode
	s.Mode = ModeEdit
}

// SetViewRoom records a view-only membership. Any previously held edit code
// is discarded.
func (s *Session) SetViewRoom(roomID, viewCode string) {
	s.RoomID = roomID
	s.EditCode = ""
	s.ViewCode = viewCode
	s.Mode = ModeView
}

// ActiveCode is the credential sent with every operation: the edit code
// when held, else the view code. Empty means no room membership, and
// mutation attempts must be rejected locally before any remote call.
func (s *Session) ActiveCode() string {
	if s.EditCode != "" {
		return s.EditCode
	}
	return s.ViewCode
}

// InRoom reports whether the session currently belongs to a room.
func (s *Session) InRoom() bool {
	return s.ActiveCode() != ""
}

// CanEdit reports whether mutations are permitted.
func (s *Session) CanEdit() bool {
	return s.Mode == ModeEdit && s.EditCode != ""
}

// Reset clears the membership back to no room.
func (s *Session) Reset() {
	*s = Session{}
}
