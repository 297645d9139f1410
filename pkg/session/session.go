// Package session provides the in-memory conversation session store.
// Sessions accumulate deployment slots across chat turns and expire after a
// period of inactivity.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"infraagent/pkg/extract"
	"infraagent/pkg/logx"
	"infraagent/pkg/persistence"
)

// Errors surfaced by the store.
var (
	// ErrUnknownConversation indicates the conversation id resolves to no
	// live session, either because it never existed or because it expired.
	ErrUnknownConversation = errors.New("unknown conversation")
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a conversation transcript.
type Turn struct {
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
}

// Session is one conversation's accumulated state. Callers must hold the
// session lock while reading or mutating it; the store only protects its own
// map.
type Session struct {
	sync.Mutex

	CreatedAt  time.Time
	LastActive time.Time
	ID         string
	Slots      extract.Fields
	Turns      []Turn

	// Dispatched marks the session as closed: its slots fed a deployment
	// and must not change afterwards. DeploymentID links to the record.
	Dispatched   bool
	DeploymentID string
}

// AppendTurn records one transcript entry. Caller holds the session lock.
func (s *Session) AppendTurn(role, content string) {
	s.Turns = append(s.Turns, Turn{
		Timestamp: time.Now().UTC(),
		Role:      role,
		Content:   content,
	})
}

// MarkDispatched freezes the session after a successful hand-off.
// Caller holds the session lock.
func (s *Session) MarkDispatched(deploymentID string) {
	s.Dispatched = true
	s.DeploymentID = deploymentID
}

// Store holds live sessions and expires them after a TTL of inactivity.
type Store struct {
	logger   *logx.Logger
	sessions map[string]*Session
	ttl      time.Duration
	mu       sync.RWMutex
}

// NewStore creates a session store with the given inactivity TTL.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		logger:   logx.NewLogger("session"),
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

// Create registers a new session with a fresh conversation id.
func (st *Store) Create() *Session {
	now := time.Now().UTC()
	sess := &Session{
		ID:         persistence.GenerateConversationID(),
		CreatedAt:  now,
		LastActive: now,
	}

	st.mu.Lock()
	st.sessions[sess.ID] = sess
	st.mu.Unlock()

	st.logger.Debug("Created conversation %s", sess.ID)
	return sess
}

// Get returns the live session for id and refreshes its activity clock.
// Expired sessions are dropped and reported as unknown.
func (st *Store) Get(id string) (*Session, error) {
	now := time.Now().UTC()

	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[id]
	if !ok {
		return nil, ErrUnknownConversation
	}
	if st.expired(sess, now) {
		delete(st.sessions, id)
		st.logger.Debug("Conversation %s expired", id)
		return nil, ErrUnknownConversation
	}

	sess.LastActive = now
	return sess, nil
}

// GetOrCreate returns the live session for id, or a fresh one when id is
// empty, unknown, or expired. The returned bool is true when a new session
// was created.
func (st *Store) GetOrCreate(id string) (*Session, bool) {
	if id != "" {
		if sess, err := st.Get(id); err == nil {
			return sess, false
		}
	}
	return st.Create(), true
}

// Len returns the number of live sessions, expired ones included until the
// next sweep.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep drops all expired sessions and returns how many were removed.
func (st *Store) Sweep() int {
	now := time.Now().UTC()

	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for id, sess := range st.sessions {
		if st.expired(sess, now) {
			delete(st.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		st.logger.Info("Swept %d expired conversations", removed)
	}
	return removed
}

// StartSweeper runs Sweep on the given interval until ctx is cancelled.
func (st *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st.Sweep()
			}
		}
	}()
}

// expired reports whether the session's inactivity window has passed.
// Dispatched sessions are kept until the TTL too so clients can still read
// the deployment id from a follow-up call.
func (st *Store) expired(sess *Session, now time.Time) bool {
	return st.ttl > 0 && now.Sub(sess.LastActive) > st.ttl
}
