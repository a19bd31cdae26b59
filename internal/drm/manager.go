// Package drm implements the DRM session manager (spec §4.9): at-most-one
// in-flight license request per PSSH, join semantics, and lifecycle
// cleanup on destruction. CDM callbacks themselves are host-provided;
// this package only sequences calls to them.
package drm

import (
	"encoding/hex"
	"sync"

	"github.com/ericcug/dashcore/internal/dasherr"
	"github.com/ericcug/dashcore/internal/logger"
)

// CDMCallbacks are the host callbacks a session request drives, mirroring
// spec §6's open_cdm_session/close_cdm_session/fetch_license.
type CDMCallbacks struct {
	OpenSession  func(pssh []byte) (sessionID string, err error)
	FetchLicense func(sessionID string, pssh []byte) error
	CloseSession func(sessionID string)
}

type sessionState struct {
	sessionID string
	err       error
	done      chan struct{} // closed once the request completes
	opened    bool
}

// Manager is the DRM session manager. One Manager instance is expected to
// live for the lifetime of a Player.
type Manager struct {
	cb  CDMCallbacks
	log logger.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState // keyed by hex(pssh)
}

// New constructs a Manager driving the given host callbacks.
func New(cb CDMCallbacks, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NoOp()
	}
	return &Manager{cb: cb, log: log, sessions: make(map[string]*sessionState)}
}

func keyOf(pssh []byte) string { return hex.EncodeToString(pssh) }

// Request starts a license acquisition for pssh unless one is already
// established or in flight, per spec §4.9. It never blocks the caller.
func (m *Manager) Request(pssh []byte) {
	key := keyOf(pssh)

	m.mu.Lock()
	if _, exists := m.sessions[key]; exists {
		m.mu.Unlock()
		return
	}
	st := &sessionState{done: make(chan struct{})}
	m.sessions[key] = st
	m.mu.Unlock()

	go m.run(pssh, key, st)
}

func (m *Manager) run(pssh []byte, key string, st *sessionState) {
	defer close(st.done)

	sessionID, err := m.cb.OpenSession(pssh)
	if err != nil {
		st.err = &dasherr.DRMError{PSSH: pssh, Err: err}
		m.log.Errorf("drm: open_cdm_session failed: %v", err)
		return
	}
	st.sessionID = sessionID
	st.opened = true

	if err := m.cb.FetchLicense(sessionID, pssh); err != nil {
		st.err = &dasherr.DRMError{PSSH: pssh, Err: err}
		m.log.Errorf("drm: fetch_license failed: %v", err)
		if m.cb.CloseSession != nil {
			m.cb.CloseSession(sessionID)
		}
		st.opened = false
		return
	}
}

// Join reports whether a usable session exists for pssh, blocking on any
// in-flight request first (fast path if a session already exists).
func (m *Manager) Join(pssh []byte) bool {
	key := keyOf(pssh)

	m.mu.Lock()
	st, exists := m.sessions[key]
	m.mu.Unlock()
	if !exists {
		return false
	}

	select {
	case <-st.done:
	}
	return st.err == nil && st.sessionID != ""
}

// Close closes every opened session, per spec §4.9's "all opened sessions
// are closed on destruction".
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*sessionState, 0, len(m.sessions))
	for _, st := range m.sessions {
		sessions = append(sessions, st)
	}
	m.sessions = make(map[string]*sessionState)
	m.mu.Unlock()

	for _, st := range sessions {
		<-st.done
		if st.opened && m.cb.CloseSession != nil {
			m.cb.CloseSession(st.sessionID)
		}
	}
}
