package dialog

import (
	"sync"

	"github.com/klio-ai/klio/pkg/models"
)

// State is the conversational position of one user.
type State int

const (
	StateIdle State = iota
	StateAwaitingTopicChoice
	StateAwaitingCustomTopic
	StateInTest
	StateInConversation
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingTopicChoice:
		return "awaiting_topic_choice"
	case StateAwaitingCustomTopic:
		return "awaiting_custom_topic"
	case StateInTest:
		return "in_test"
	case StateInConversation:
		return "in_conversation"
	}
	return "unknown"
}

// ActiveQuiz is a test in progress: the quiz plus cursor and score.
type ActiveQuiz struct {
	Quiz  models.Quiz
	Index int
	Score int
}

// Session is the per-user conversational state. The controller locks
// the session for the duration of a turn, so one user's turns are
// processed strictly in arrival order.
// Invariant: Quiz != nil iff State == StateInTest.
type Session struct {
	mu sync.Mutex

	State        State
	CurrentTopic string
	Quiz         *ActiveQuiz

	// offeredTopics holds the last topic list shown, so numbered
	// callback choices can be resolved back to topic names.
	offeredTopics []string
}

func (s *Session) reset() {
	s.State = StateIdle
	s.Quiz = nil
	s.offeredTopics = nil
}

// SessionStore keeps sessions keyed by user ID.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[int64]*Session)}
}

// Get returns the session for a user, creating it on first contact.
func (s *SessionStore) Get(userID int64) *Session {
	s.mu.RLock()
	sess, ok := s.sessions[userID]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[userID]; ok {
		return sess
	}
	sess = &Session{State: StateIdle}
	s.sessions[userID] = sess
	return sess
}

// Len returns the number of known sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
