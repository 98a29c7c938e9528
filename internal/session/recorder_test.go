package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/speakexam/internal/model"
)

// fakeStream serves a fixed payload, then blocks until closed.
type fakeStream struct {
	mu      sync.Mutex
	payload []byte
	closed  chan struct{}
	once    sync.Once
	closes  int
}

func newFakeStream(payload []byte) *fakeStream {
	return &fakeStream{payload: payload, closed: make(chan struct{})}
}

func (s *fakeStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	if len(s.payload) > 0 {
		n := copy(p, s.payload)
		s.payload = s.payload[n:]
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()
	<-s.closed
	return 0, io.EOF
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// fakeMic hands out prepared streams, or denies permission.
type fakeMic struct {
	mu      sync.Mutex
	streams []*fakeStream
	deny    bool
	handed  []*fakeStream
}

func (m *fakeMic) Acquire(ctx context.Context) (AudioStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deny {
		return nil, ErrPermissionDenied
	}
	var s *fakeStream
	if len(m.streams) > 0 {
		s = m.streams[0]
		m.streams = m.streams[1:]
	} else {
		s = newFakeStream(nil)
	}
	m.handed = append(m.handed, s)
	return s, nil
}

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

// Advance moves the clock forward and fires due timers outside the lock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.when.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func planItem(questionID int64, speakingSeconds int) model.PlanItem {
	return model.PlanItem{
		Question:        model.Question{ID: questionID, MaxPoints: 100},
		SpeakingSeconds: speakingSeconds,
	}
}

func TestRecorderPermissionDenied(t *testing.T) {
	mic := &fakeMic{deny: true}
	r := NewRecorder(mic)

	err := r.Arm(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if r.State() != StateError {
		t.Errorf("expected error state, got %s", r.State())
	}

	// Denial is recoverable: a retry after the learner grants access works.
	mic.mu.Lock()
	mic.deny = false
	mic.mu.Unlock()
	if err := r.Arm(context.Background()); err != nil {
		t.Fatalf("retry after grant: %v", err)
	}
	if r.State() != StateArmed {
		t.Errorf("expected armed state, got %s", r.State())
	}
}

func TestRecorderCaptureAndStop(t *testing.T) {
	clock := newFakeClock()
	mic := &fakeMic{streams: []*fakeStream{newFakeStream([]byte("audio-bytes"))}}
	r := NewRecorder(mic, WithClock(clock))

	if err := r.Arm(context.Background()); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if err := r.Start(planItem(5, 0)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if r.State() != StateRecording {
		t.Fatalf("expected recording state, got %s", r.State())
	}

	clock.Advance(7 * time.Second)
	take, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if take == nil {
		t.Fatal("expected a take")
	}
	if take.QuestionID != 5 {
		t.Errorf("expected question 5, got %d", take.QuestionID)
	}
	if string(take.Audio) != "audio-bytes" {
		t.Errorf("expected captured audio, got %q", take.Audio)
	}
	if take.Duration != 7*time.Second {
		t.Errorf("expected 7s duration, got %v", take.Duration)
	}
	if r.State() != StateIdle {
		t.Errorf("expected idle state after stop, got %s", r.State())
	}
	if mic.handed[0].closeCount() == 0 {
		t.Error("stream was not released on stop")
	}
}

func TestRecorderStopIsIdempotent(t *testing.T) {
	mic := &fakeMic{}
	r := NewRecorder(mic, WithClock(newFakeClock()))

	// Stop with nothing recording is a no-op, not an error.
	take, err := r.Stop()
	if err != nil || take != nil {
		t.Fatalf("expected no-op stop, got take=%v err=%v", take, err)
	}

	if err := r.Arm(context.Background()); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if err := r.Start(planItem(1, 0)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	first, err := r.Stop()
	if err != nil || first == nil {
		t.Fatalf("first stop: take=%v err=%v", first, err)
	}
	second, err := r.Stop()
	if err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if second != nil {
		t.Error("second stop must not produce another artifact")
	}
	if len(r.Takes()) != 1 {
		t.Errorf("expected exactly one take, got %d", len(r.Takes()))
	}
}

func TestRecorderCountdownAutoStop(t *testing.T) {
	clock := newFakeClock()
	mic := &fakeMic{streams: []*fakeStream{newFakeStream([]byte("x"))}}
	r := NewRecorder(mic, WithClock(clock))

	if err := r.Arm(context.Background()); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if err := r.Start(planItem(3, 45)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	clock.Advance(45 * time.Second)
	if r.State() != StateIdle {
		t.Fatalf("expected auto-stop at countdown expiry, state=%s", r.State())
	}
	take, ok := r.Take(3)
	if !ok {
		t.Fatal("expected a take after auto-stop")
	}
	if take.Duration != 45*time.Second {
		t.Errorf("expected 45s take, got %v", take.Duration)
	}

	// Further ticks after stop change nothing.
	clock.Advance(time.Minute)
	if len(r.Takes()) != 1 {
		t.Errorf("expected exactly one take, got %d", len(r.Takes()))
	}
}

func TestRecorderManualStopCancelsCountdown(t *testing.T) {
	clock := newFakeClock()
	mic := &fakeMic{streams: []*fakeStream{newFakeStream(nil)}}
	r := NewRecorder(mic, WithClock(clock))

	if err := r.Arm(context.Background()); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if err := r.Start(planItem(9, 60)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	clock.Advance(10 * time.Second)
	if _, err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// The countdown must not fire after the manual stop.
	clock.Advance(time.Hour)
	take, _ := r.Take(9)
	if take.Duration != 10*time.Second {
		t.Errorf("expected 10s take, got %v", take.Duration)
	}
	if len(r.Takes()) != 1 {
		t.Errorf("expected one take, got %d", len(r.Takes()))
	}
}

func TestRecorderNeverStacksStreams(t *testing.T) {
	mic := &fakeMic{}
	r := NewRecorder(mic, WithClock(newFakeClock()))

	if err := r.Arm(context.Background()); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if err := r.Arm(context.Background()); !errors.Is(err, ErrAlreadyArmed) {
		t.Fatalf("expected ErrAlreadyArmed, got %v", err)
	}
	if len(mic.handed) != 1 {
		t.Errorf("expected a single acquired stream, got %d", len(mic.handed))
	}
}

func TestRecorderStartWhileRecording(t *testing.T) {
	mic := &fakeMic{streams: []*fakeStream{newFakeStream([]byte("speech"))}}
	r := NewRecorder(mic, WithClock(newFakeClock()))

	if err := r.Arm(context.Background()); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if err := r.Start(planItem(1, 0)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(planItem(2, 0)); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}
}

func TestRecorderStartRequiresArm(t *testing.T) {
	r := NewRecorder(&fakeMic{}, WithClock(newFakeClock()))
	if err := r.Start(planItem(1, 0)); !errors.Is(err, ErrNotArmed) {
		t.Fatalf("expected ErrNotArmed, got %v", err)
	}
}

func TestRecorderRerecordOverwrites(t *testing.T) {
	clock := newFakeClock()
	mic := &fakeMic{streams: []*fakeStream{
		newFakeStream([]byte("first")),
		newFakeStream([]byte("second")),
	}}
	r := NewRecorder(mic, WithClock(clock))

	for range 2 {
		if err := r.Arm(context.Background()); err != nil {
			t.Fatalf("Arm: %v", err)
		}
		if err := r.Start(planItem(4, 0)); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if _, err := r.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}

	take, ok := r.Take(4)
	if !ok {
		t.Fatal("expected a take")
	}
	if string(take.Audio) != "second" {
		t.Errorf("re-recording must overwrite, got %q", take.Audio)
	}
	if len(r.Takes()) != 1 {
		t.Errorf("expected one take, got %d", len(r.Takes()))
	}
}

func TestRecorderCloseReleasesArmedStream(t *testing.T) {
	mic := &fakeMic{}
	r := NewRecorder(mic, WithClock(newFakeClock()))

	if err := r.Arm(context.Background()); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if mic.handed[0].closeCount() == 0 {
		t.Error("armed stream was not released on teardown")
	}
	if r.State() != StateIdle {
		t.Errorf("expected idle after close, got %s", r.State())
	}
}

func TestRecorderCloseFinalizesInFlightRecording(t *testing.T) {
	clock := newFakeClock()
	mic := &fakeMic{streams: []*fakeStream{newFakeStream([]byte("tail"))}}
	r := NewRecorder(mic, WithClock(clock))

	if err := r.Arm(context.Background()); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if err := r.Start(planItem(2, 30)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	clock.Advance(3 * time.Second)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	take, ok := r.Take(2)
	if !ok {
		t.Fatal("teardown must finalize the in-flight recording")
	}
	if string(take.Audio) != "tail" {
		t.Errorf("expected captured audio preserved, got %q", take.Audio)
	}
	if mic.handed[0].closeCount() == 0 {
		t.Error("stream was not released on teardown")
	}
}
