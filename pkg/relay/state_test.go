package relay

import (
	"testing"
)

type captureListener struct {
	events []StateChange
}

func (c *captureListener) OnStateChange(ev StateChange) {
	c.events = append(c.events, ev)
}

func TestSessionUtteranceLifecycle(t *testing.T) {
	s := NewSession()
	listener := &captureListener{}
	s.AddListener(listener)
	s.Start("MZ1", "CA1")
	s.ObserveMedia(100)

	if !s.BeginAudio("item_a") {
		t.Fatalf("expected first frame to open an utterance")
	}
	if s.State() != StateSpeaking || s.ItemID() != "item_a" {
		t.Fatalf("expected SPEAKING item_a, got %s %q", s.State(), s.ItemID())
	}
	if s.BeginAudio("item_a") {
		t.Fatalf("same item must not open a new utterance")
	}
	s.AddSentAudio("item_a", 2560)
	s.ObserveMedia(350)

	in, ok := s.Interrupt()
	if !ok {
		t.Fatalf("expected interruption while speaking")
	}
	if in.ItemID != "item_a" || in.ElapsedMS != 250 || in.SentMS != 320 {
		t.Fatalf("unexpected interruption: %+v", in)
	}
	if s.State() != StateIdle || s.ItemID() != "" {
		t.Fatalf("expected IDLE after interruption, got %s", s.State())
	}
	if len(listener.events) != 2 {
		t.Fatalf("expected 2 state changes, got %d", len(listener.events))
	}
	if listener.events[1].FromState != StateSpeaking || listener.events[1].ToState != StateIdle {
		t.Fatalf("unexpected transition: %+v", listener.events[1])
	}
}

func TestSessionInterruptWhileIdleIsNoop(t *testing.T) {
	s := NewSession()
	s.Start("MZ1", "CA1")
	if _, ok := s.Interrupt(); ok {
		t.Fatalf("expected no interruption while idle")
	}
	s.BeginAudio("")
	if s.State() != StateIdle {
		t.Fatalf("empty item id must not change state")
	}
}

func TestSessionElapsedIsClamped(t *testing.T) {
	s := NewSession()
	s.Start("MZ1", "CA1")
	s.ObserveMedia(100)
	s.BeginAudio("item_a")
	s.AddSentAudio("item_a", 320) // 40ms
	s.AddSentAudio("item_other", 8000)
	s.ObserveMedia(1000)
	in, _ := s.Interrupt()
	if in.ElapsedMS != 40 {
		t.Fatalf("expected elapsed clamped to sent audio, got %d", in.ElapsedMS)
	}

	s.ObserveMedia(500)
	s.BeginAudio("item_b")
	s.AddSentAudio("item_b", 800)
	s.ObserveMedia(200)
	in, _ = s.Interrupt()
	if in.ElapsedMS != 0 {
		t.Fatalf("expected negative elapsed clamped to 0, got %d", in.ElapsedMS)
	}
}

func TestSessionNewItemWhileSpeaking(t *testing.T) {
	s := NewSession()
	s.Start("MZ1", "CA1")
	s.ObserveMedia(100)
	s.BeginAudio("item_a")
	s.ObserveMedia(400)
	if !s.BeginAudio("item_b") {
		t.Fatalf("different item must open a new utterance")
	}
	s.AddSentAudio("item_b", 8000)
	s.ObserveMedia(600)
	in, _ := s.Interrupt()
	if in.ItemID != "item_b" || in.StartMS != 400 || in.ElapsedMS != 200 {
		t.Fatalf("unexpected interruption: %+v", in)
	}
	if !s.IsTruncated("item_b") || s.IsTruncated("item_a") {
		t.Fatalf("expected item_b to be remembered as truncated")
	}
}

func TestSessionMarks(t *testing.T) {
	s := NewSession()
	if _, ok := s.EnqueueMark("responsePart"); ok {
		t.Fatalf("marks must not be queued before the stream sid is known")
	}
	s.Start("MZ1", "CA1")
	for i := 0; i < 3; i++ {
		if sid, ok := s.EnqueueMark("responsePart"); !ok || sid != "MZ1" {
			t.Fatalf("expected mark for MZ1, got %q %v", sid, ok)
		}
	}
	if _, ok := s.AckMark(); !ok || s.PendingMarks() != 2 {
		t.Fatalf("expected ack to pop one mark, %d pending", s.PendingMarks())
	}
	s.ObserveMedia(10)
	s.BeginAudio("item_a")
	in, _ := s.Interrupt()
	if in.PendingMarks != 2 || s.PendingMarks() != 0 {
		t.Fatalf("expected interruption to clear 2 marks, got %+v (%d left)", in, s.PendingMarks())
	}
	if _, ok := s.AckMark(); ok {
		t.Fatalf("ack on empty queue must report false")
	}
}

func TestSessionStartResetsClock(t *testing.T) {
	s := NewSession()
	s.Start("MZ1", "CA1")
	s.ObserveMedia(900)
	s.BeginAudio("item_a")
	s.EnqueueMark("responsePart")
	s.Start("MZ2", "CA2")
	if s.LatestMediaMS() != 0 || s.State() != StateIdle || s.PendingMarks() != 0 {
		t.Fatalf("expected reset session, got latest=%d state=%s marks=%d",
			s.LatestMediaMS(), s.State(), s.PendingMarks())
	}
	if s.StreamSID() != "MZ2" || s.CallSID() != "CA2" {
		t.Fatalf("expected new stream binding")
	}
	if StateSpeaking.String() != "SPEAKING" || State(9).String() != "UNKNOWN" {
		t.Fatalf("unexpected state names")
	}
}
