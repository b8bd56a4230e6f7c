// Package session holds the durable record of one cast session and the state
// machine around it: Uninitialized -> Initialized -> SFULinked, with the
// published track set as a sub-state of SFULinked.
package session

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pion/randutil"
	"github.com/rs/zerolog"

	"github.com/benfoxall/cast/internal/store"
)

const (
	storageKeyPrefix = "session:"

	tokenLength = 32
	tokenRunes  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// ErrNotInitialized is returned when an operation requires a caster token
// that has not been generated yet.
var ErrNotInitialized = errors.New("session: not initialized")

// Record is the single persisted document of a session. TrackNames keeps
// insertion order, which is the order exposed to clients.
type Record struct {
	SessionID      string    `json:"sessionId"`
	CreatedAt      time.Time `json:"createdAt"`
	CasterToken    string    `json:"casterToken,omitempty"`
	CallsSessionID string    `json:"callsSessionId,omitempty"`
	TrackNames     []string  `json:"trackNames"`
}

// Machine owns the record of one session and persists every mutation before
// reporting it complete. It is not safe for concurrent use; the owning
// coordinator serializes all access.
type Machine struct {
	store  store.Store
	logger zerolog.Logger
	record Record
	loaded bool
}

func NewMachine(sessionID string, s store.Store, logger *zerolog.Logger) *Machine {
	l := logger.With().Str("component", "Session").Str("session_id", sessionID).Logger()
	return &Machine{
		store:  s,
		logger: l,
		record: Record{SessionID: sessionID},
	}
}

// Load restores the record from the store. It must run, exactly once, before
// the machine serves its first operation; a missing record leaves the machine
// uninitialized.
func (m *Machine) Load(ctx context.Context) error {
	if m.loaded {
		return nil
	}
	data, err := m.store.Get(ctx, m.key())
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load session record: %w", err)
	default:
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decode session record: %w", err)
		}
		rec.SessionID = m.record.SessionID
		m.record = rec
		m.logger.Debug().Bool("linked", rec.CallsSessionID != "").Int("tracks", len(rec.TrackNames)).Msg("restored session record")
	}
	m.loaded = true
	return nil
}

// Init generates the session's identity and caster token on first call and
// persists the record. Repeated calls return the existing record unchanged.
func (m *Machine) Init(ctx context.Context) (Record, error) {
	if m.Initialized() {
		return m.Snapshot(), nil
	}
	token, err := randutil.GenerateCryptoRandomString(tokenLength, tokenRunes)
	if err != nil {
		return Record{}, fmt.Errorf("generate caster token: %w", err)
	}
	m.record.CasterToken = token
	m.record.CreatedAt = time.Now().UTC()
	if err := m.persist(ctx); err != nil {
		return Record{}, err
	}
	m.logger.Info().Msg("initialized session")
	return m.Snapshot(), nil
}

// LinkSFU records the negotiated SFU session id. Re-linking overwrites the
// previous id; viewers still pulling the old one must re-pull.
func (m *Machine) LinkSFU(ctx context.Context, sfuSessionID string) error {
	if !m.Initialized() {
		return ErrNotInitialized
	}
	if prev := m.record.CallsSessionID; prev != "" && prev != sfuSessionID {
		m.logger.Warn().Str("old", prev).Str("new", sfuSessionID).Msg("overwriting linked SFU session")
	}
	m.record.CallsSessionID = sfuSessionID
	return m.persist(ctx)
}

// AddTrack adds name to the published set. It reports false, without
// persisting, when the name is already present.
func (m *Machine) AddTrack(ctx context.Context, name string) (bool, error) {
	for _, existing := range m.record.TrackNames {
		if existing == name {
			return false, nil
		}
	}
	m.record.TrackNames = append(m.record.TrackNames, name)
	if err := m.persist(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveTrack removes name from the published set. Removing an absent name is
// a no-op and reports false.
func (m *Machine) RemoveTrack(ctx context.Context, name string) (bool, error) {
	for i, existing := range m.record.TrackNames {
		if existing == name {
			m.record.TrackNames = append(m.record.TrackNames[:i], m.record.TrackNames[i+1:]...)
			if err := m.persist(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// Authorize reports whether token matches the caster token. It always fails
// on an uninitialized session.
func (m *Machine) Authorize(token string) bool {
	if !m.Initialized() || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(m.record.CasterToken)) == 1
}

func (m *Machine) Initialized() bool {
	return m.record.CasterToken != ""
}

func (m *Machine) Linked() bool {
	return m.record.CallsSessionID != ""
}

func (m *Machine) CallsSessionID() string {
	return m.record.CallsSessionID
}

// Snapshot returns a copy of the record with its own track slice.
func (m *Machine) Snapshot() Record {
	rec := m.record
	rec.TrackNames = append([]string(nil), m.record.TrackNames...)
	return rec
}

// TrackNames returns the published names in insertion order, never nil.
func (m *Machine) TrackNames() []string {
	names := make([]string, 0, len(m.record.TrackNames))
	return append(names, m.record.TrackNames...)
}

func (m *Machine) persist(ctx context.Context) error {
	data, err := json.Marshal(&m.record)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	if err := m.store.Put(ctx, m.key(), data); err != nil {
		return fmt.Errorf("persist session record: %w", err)
	}
	return nil
}

func (m *Machine) key() string {
	return storageKeyPrefix + m.record.SessionID
}
