package session

import (
	"strings"
	"sync"
	"time"

	"github.com/voxlog/journal-gateway/internal/transcript"
)

// State tracks a session through its lifecycle. Transitions are one-way:
// AwaitingUpstream -> Streaming -> Ending -> Closed.
type State int

const (
	StateAwaitingUpstream State = iota
	StateStreaming
	StateEnding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingUpstream:
		return "awaiting_upstream"
	case StateStreaming:
		return "streaming"
	case StateEnding:
		return "ending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session holds the per-recording state accumulated while audio streams:
// the cleaned final transcript, the set of final texts already forwarded
// (for dedup), word timings from the latest merge, and endpoint pauses.
type Session struct {
	ID        string
	UserID    string
	StartTime time.Time

	mu         sync.Mutex
	state      State
	transcript strings.Builder
	sentFinal  map[string]struct{}
	words      []transcript.Word
	pauseTimes []float64
}

func newSession(id, userID string) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		StartTime: time.Now(),
		state:     StateAwaitingUpstream,
		sentFinal: make(map[string]struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BeginStreaming marks the upstream connection as established.
func (s *Session) BeginStreaming() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAwaitingUpstream {
		s.state = StateStreaming
	}
}

// BeginEnding transitions into the Ending state. It returns false if the
// session is already ending or closed, which makes duplicate end signals
// harmless.
func (s *Session) BeginEnding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnding || s.state == StateClosed {
		return false
	}
	s.state = StateEnding
	return true
}

// Close marks the session terminal.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
}

// AppendFinal records a cleaned final delta. It returns false when the
// exact text has been forwarded before, in which case the transcript is
// left untouched.
func (s *Session) AppendFinal(clean string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.sentFinal[clean]; dup {
		return false
	}
	s.sentFinal[clean] = struct{}{}
	s.transcript.WriteString(clean)
	return true
}

// Transcript returns the accumulated cleaned final transcript.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.String()
}

// SetWords replaces the word timings with the latest full merge.
func (s *Session) SetWords(words []transcript.Word) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.words = words
}

// Words returns the word timings from the most recent final delta.
func (s *Session) Words() []transcript.Word {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.words
}

// AddPause records an endpoint pause duration in seconds.
func (s *Session) AddPause(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauseTimes = append(s.pauseTimes, seconds)
}

// PauseTimes returns a copy of the recorded pauses.
func (s *Session) PauseTimes() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.pauseTimes))
	copy(out, s.pauseTimes)
	return out
}
