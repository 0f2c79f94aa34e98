package target

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cuemby/fleetagent/pkg/log"
	"github.com/cuemby/fleetagent/pkg/storage"
)

// sessionsKey is the storage key the listener's session table lives
// under (spec §6 "__LISTENER__/Sessions.dump").
const sessionsKey = "Sessions"

// sessionFlushDebounce bounds how often a touched table is written
// back (spec §4.D "debounced back to disk every 10s when touched").
const sessionFlushDebounce = 10 * time.Second

// Session is one remote agent's negotiated listener session.
type Session struct {
	RemoteID string    `json:"remoteid"`
	Nonce    string    `json:"nonce,omitempty"`
	Expires  time.Time `json:"expires"`
}

// Expired reports whether the session is past its expiry.
func (s Session) Expired(now time.Time) bool {
	return !s.Expires.IsZero() && s.Expires.Before(now)
}

// Sessions is the listener target's in-memory session table, lazily
// restored from storage and debounced back to disk.
type Sessions struct {
	store *storage.Store

	mu        sync.Mutex
	loaded    bool
	dirty     bool
	lastFlush time.Time
	table     map[string]Session
}

func newSessions(store *storage.Store) *Sessions {
	return &Sessions{store: store, table: make(map[string]Session)}
}

// loadLocked restores the table on first use, dropping entries that
// expired while the agent was down (spec §4.D "Expired sessions are
// discarded on load").
func (s *Sessions) loadLocked() {
	if s.loaded {
		return
	}
	s.loaded = true

	blob := s.store.Restore(sessionsKey)
	if blob == nil {
		return
	}
	var table map[string]Session
	if err := json.Unmarshal(blob, &table); err != nil {
		log.WithComponent("sessions").Debug().Err(err).Msg("corrupt session table ignored")
		return
	}
	now := time.Now()
	for id, sess := range table {
		if !sess.Expired(now) {
			s.table[id] = sess
		}
	}
}

// Get returns the live session for remoteID, if any.
func (s *Sessions) Get(remoteID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	sess, ok := s.table[remoteID]
	if ok && sess.Expired(time.Now()) {
		delete(s.table, remoteID)
		return Session{}, false
	}
	return sess, ok
}

// Touch upserts a session and schedules a debounced flush. The flush
// happens under the map lock (spec §5 "store-to-disk is debounced 10s
// and always performed while holding the map lock").
func (s *Sessions) Touch(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	s.table[sess.RemoteID] = sess
	s.dirty = true
	if time.Since(s.lastFlush) >= sessionFlushDebounce {
		s.flushLocked()
	}
}

// Delete drops a session.
func (s *Sessions) Delete(remoteID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	if _, ok := s.table[remoteID]; ok {
		delete(s.table, remoteID)
		s.dirty = true
	}
}

// Scrub discards expired sessions (spec §4.D "scheduled scrub").
func (s *Sessions) Scrub() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	now := time.Now()
	for id, sess := range s.table {
		if sess.Expired(now) {
			delete(s.table, id)
			s.dirty = true
		}
	}
	if s.dirty && time.Since(s.lastFlush) >= sessionFlushDebounce {
		s.flushLocked()
	}
}

// Flush writes the table out immediately if touched since the last
// write; called at shutdown.
func (s *Sessions) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return
	}
	s.flushLocked()
}

func (s *Sessions) flushLocked() {
	blob, err := json.Marshal(s.table)
	if err != nil {
		return
	}
	if err := s.store.Save(sessionsKey, blob); err != nil {
		log.WithComponent("sessions").Warn().Err(err).Msg("persist session table failed")
		return
	}
	s.dirty = false
	s.lastFlush = time.Now()
}

// Len reports the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	return len(s.table)
}
