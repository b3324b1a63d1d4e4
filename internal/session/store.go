// In file: internal/session/store.go
// Package session keeps per-user conversation history for the pipeline.
// Histories are created lazily on a user's first message, capped at a fixed
// number of turns with FIFO truncation, and evicted after a period of
// inactivity by an explicit janitor rather than living as ambient global
// state.
package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// MaxHistory caps the number of turns kept per user. The oldest turn is
// dropped once a session grows past it.
const MaxHistory = 20

// Turn is a single message in a conversation, role "user" or "assistant".
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type userSession struct {
	mu       sync.Mutex
	turns    []Turn
	lastSeen time.Time
}

// Store holds all live sessions keyed by user id.
type Store struct {
	mu         sync.Mutex
	sessions   map[string]*userSession
	maxHistory int
	idleTTL    time.Duration
}

// NewStore creates a session store. maxHistory <= 0 falls back to MaxHistory;
// idleTTL <= 0 disables janitor eviction.
func NewStore(maxHistory int, idleTTL time.Duration) *Store {
	if maxHistory <= 0 {
		maxHistory = MaxHistory
	}
	return &Store{
		sessions:   make(map[string]*userSession),
		maxHistory: maxHistory,
		idleTTL:    idleTTL,
	}
}

// session returns the live session for a user, creating it on first use.
func (s *Store) session(userID string) *userSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	us, ok := s.sessions[userID]
	if !ok {
		us = &userSession{}
		s.sessions[userID] = us
	}
	us.lastSeen = time.Now()
	return us
}

// Acquire locks the user's session for the duration of one resolution, so
// two concurrent resolutions for the same user cannot interleave their
// history snapshots and appends. The returned release function must be
// called when the resolution finishes. History, Serialized and Append do
// not lock the session themselves (the lock is not reentrant); any caller
// that may race on a user's history must hold this lock around them.
func (s *Store) Acquire(userID string) (release func()) {
	us := s.session(userID)
	us.mu.Lock()
	return us.mu.Unlock
}

// History returns a copy of the user's most recent turns, oldest first.
// Concurrent callers for the same user must hold the Acquire lock.
func (s *Store) History(userID string) []Turn {
	us := s.session(userID)
	turns := make([]Turn, len(us.turns))
	copy(turns, us.turns)
	return turns
}

// Serialized renders the user's history as "role: content" lines, the form
// embedded in prompts and hashed into cache fingerprints.
func (s *Store) Serialized(userID string) string {
	return SerializeTurns(s.History(userID))
}

// Append records one turn for the user, dropping the oldest turn if the
// session is already at its cap. Concurrent callers for the same user must
// hold the Acquire lock.
func (s *Store) Append(userID, role, content string) {
	us := s.session(userID)
	us.turns = append(us.turns, Turn{Role: role, Content: content})
	if len(us.turns) > s.maxHistory {
		us.turns = us.turns[1:]
	}
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// EvictIdle removes sessions that have not been touched within the idle TTL
// and returns how many were dropped. A session evicted while a resolution
// still holds its lock is recreated empty on the user's next access and the
// in-flight appends are lost; the TTL is hours against second-scale
// resolutions, so the window is never hit in practice.
func (s *Store) EvictIdle() int {
	if s.idleTTL <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-s.idleTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, us := range s.sessions {
		if us.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}

// RunJanitor periodically evicts idle sessions until the context is
// cancelled. Meant to be started as a background goroutine from the
// composition root.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(); n > 0 {
				log.Printf("🧹 Evicted %d idle session(s).", n)
			}
		}
	}
}

// SerializeTurns joins turns as newline-separated "role: content" lines.
func SerializeTurns(turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", t.Role, t.Content)
	}
	return b.String()
}
