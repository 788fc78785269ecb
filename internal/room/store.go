package room

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// persisted is the subset of the session that survives restarts. Mode is
// deliberately absent: privilege is re-derived from whichever codes the
// relay confirms on the next connect, never trusted from disk.
type persisted struct {
	RoomID   string `json:"roomId"`
	EditCode string `json:"editCode"`
	ViewCode string `json:"viewCode"`
}

// Store persists room identity as a JSON file under the user's home
// directory so a restarted client can re-check and re-subscribe.
type Store struct {
	path string
}

// NewStore builds a store at the given path; an empty path defaults to
// ~/.roundsync/session.json.
func NewStore(path string) (*Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, ".roundsync", "session.json")
	}
	return &Store{path: path}, nil
}

// Load reads the persisted identity into a fresh session. A missing file
// yields an empty session; the caller still must confirm validity with the
// relay before treating the membership as live.
func (st *Store) Load() (Session, error) {
	data, err := os.ReadFile(st.path)
	if os.IsNotExist(err) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("read session file: %w", err)
	}

	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("path", st.path).Msg("corrupt session file, starting fresh")
		return Session{}, nil
	}

	return Session{RoomID: p.RoomID, EditCode: p.EditCode, ViewCode: p.ViewCode}, nil
}

// Save writes the session's identity fields to disk.
func (st *Store) Save(s Session) error {
	if err := os.MkdirAll(filepath.Dir(st.path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	data, err := json.Marshal(persisted{RoomID: s.RoomID, EditCode: s.EditCode, ViewCode: s.ViewCode})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err := os.WriteFile(st.path, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// Clear removes the persisted identity, if any.
func (st *Store) Clear() error {
	if err := os.Remove(st.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
