package relay

import (
	"sync"
	"time"

	"github.com/harunnryd/callrelay/pkg/codec"
)

// State is the assistant playback state of a call.
type State int

const (
	// StateIdle means no assistant utterance is being played.
	StateIdle State = iota
	// StateSpeaking means assistant audio for one item is being forwarded.
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSpeaking:
		return "SPEAKING"
	default:
		return "UNKNOWN"
	}
}

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	ItemID    string
	Timestamp time.Time
	Reason    string
}

// StateListener observes playback state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// Interruption is what a barge-in needs to act on.
type Interruption struct {
	ItemID       string
	StreamSID    string
	StartMS      int64
	LatestMS     int64
	ElapsedMS    int64
	SentMS       int64
	PendingMarks int
}

// Session is the relay state of one call. Every method takes the lock for
// a single update only; nothing here touches the network.
type Session struct {
	mu sync.Mutex

	streamSID string
	callSID   string
	latestMS  int64

	state       State
	itemID      string
	startMS     int64
	sentSamples int64
	truncated   string

	marks     []string
	listeners []StateListener
}

func NewSession() *Session {
	return &Session{}
}

// AddListener registers a listener for state change events.
func (s *Session) AddListener(l StateListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Start binds the session to a stream and resets the call clock.
func (s *Session) Start(streamSID, callSID string) {
	s.mu.Lock()
	s.streamSID = streamSID
	s.callSID = callSID
	s.latestMS = 0
	s.marks = nil
	s.truncated = ""
	ev, changed := s.transitionLocked(StateIdle, "", "stream started")
	s.mu.Unlock()
	if changed {
		s.notify(ev)
	}
}

// ObserveMedia records the timestamp of the latest caller frame.
func (s *Session) ObserveMedia(tsMS int64) {
	s.mu.Lock()
	s.latestMS = tsMS
	s.mu.Unlock()
}

func (s *Session) LatestMediaMS() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestMS
}

func (s *Session) StreamSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSID
}

func (s *Session) CallSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callSID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ItemID is the tracked assistant item, "" while idle.
func (s *Session) ItemID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.itemID
}

// IsTruncated reports whether itemID is the item most recently cut off.
// Late frames of that item must not restart playback.
func (s *Session) IsTruncated(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return itemID != "" && itemID == s.truncated
}

// BeginAudio is called before an assistant frame is forwarded. It returns
// true when the frame opens a new utterance: the session moves to Speaking
// and playback start is pinned to the latest caller timestamp. An empty
// item id never changes state.
func (s *Session) BeginAudio(itemID string) bool {
	s.mu.Lock()
	if itemID == "" || itemID == s.itemID {
		s.mu.Unlock()
		return false
	}
	s.startMS = s.latestMS
	s.sentSamples = 0
	s.truncated = ""
	ev, _ := s.transitionLocked(StateSpeaking, itemID, "assistant item started")
	s.mu.Unlock()
	s.notify(ev)
	return true
}

// AddSentAudio accounts samples forwarded for itemID.
func (s *Session) AddSentAudio(itemID string, samples int) {
	s.mu.Lock()
	if itemID != "" && itemID == s.itemID {
		s.sentSamples += int64(samples)
	}
	s.mu.Unlock()
}

// EnqueueMark queues a playback marker. Without a stream sid nothing can
// be addressed, so nothing is queued.
func (s *Session) EnqueueMark(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamSID == "" {
		return "", false
	}
	s.marks = append(s.marks, name)
	return s.streamSID, true
}

// AckMark pops the oldest pending marker.
func (s *Session) AckMark() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.marks) == 0 {
		return "", false
	}
	name := s.marks[0]
	s.marks = s.marks[1:]
	return name, true
}

func (s *Session) PendingMarks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.marks)
}

// Interrupt handles caller speech. While Speaking it computes how far
// playback got, clears the marker queue and returns to Idle. Elapsed is
// clamped to [0, audio sent for the item]. While Idle it reports false.
func (s *Session) Interrupt() (Interruption, bool) {
	s.mu.Lock()
	if s.state != StateSpeaking || s.itemID == "" {
		s.mu.Unlock()
		return Interruption{}, false
	}
	sent := codec.DurationMS(int(s.sentSamples))
	elapsed := s.latestMS - s.startMS
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > sent {
		elapsed = sent
	}
	in := Interruption{
		ItemID:       s.itemID,
		StreamSID:    s.streamSID,
		StartMS:      s.startMS,
		LatestMS:     s.latestMS,
		ElapsedMS:    elapsed,
		SentMS:       sent,
		PendingMarks: len(s.marks),
	}
	s.marks = nil
	s.truncated = s.itemID
	s.startMS = 0
	s.sentSamples = 0
	ev, _ := s.transitionLocked(StateIdle, "", "caller speech started")
	s.mu.Unlock()
	s.notify(ev)
	return in, true
}

// transitionLocked must be called with s.mu held.
func (s *Session) transitionLocked(to State, itemID, reason string) (StateChange, bool) {
	ev := StateChange{
		FromState: s.state,
		ToState:   to,
		ItemID:    itemID,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	changed := s.state != to || s.itemID != itemID
	s.state = to
	s.itemID = itemID
	return ev, changed
}

func (s *Session) notify(ev StateChange) {
	s.mu.Lock()
	listeners := make([]StateListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, l := range listeners {
		l.OnStateChange(ev)
	}
}
