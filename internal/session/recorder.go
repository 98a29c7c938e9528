// Package session implements the learner-side half of the speaking
// assessment: timed audio capture, navigation over the question plan, and
// assembly of the recorded answers into a submission bundle. It is driven
// by a front end and holds no server state.
package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/pavelanni/speakexam/internal/model"
)

var (
	// ErrPermissionDenied means the learner refused microphone access.
	// Recoverable: Arm may be called again after the learner retries.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrAlreadyArmed means a capture stream is already held. Streams are
	// never stacked; the caller must stop or close first.
	ErrAlreadyArmed = errors.New("microphone already acquired")
	// ErrAlreadyRecording means Start was called while a recording is in
	// flight; the current one must be stopped first.
	ErrAlreadyRecording = errors.New("recording already in progress")
	// ErrNotArmed means Start was called without a microphone.
	ErrNotArmed = errors.New("microphone not acquired")
)

// Microphone acquires an audio capture stream. Acquire returns
// ErrPermissionDenied (possibly wrapped) when the learner refuses access.
type Microphone interface {
	Acquire(ctx context.Context) (AudioStream, error)
}

// AudioStream is a live capture stream. Read yields raw audio until the
// stream is closed; Close stops all underlying tracks and releases the
// device.
type AudioStream interface {
	io.Reader
	Close() error
}

// Clock abstracts time for the countdown so tests can drive it.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a stoppable pending countdown.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RecState is the recorder's lifecycle state.
type RecState string

const (
	StateIdle       RecState = "idle"
	StateArmed      RecState = "armed"
	StateRecording  RecState = "recording"
	StateFinalizing RecState = "finalizing"
	StateError      RecState = "error"
)

// Take is one finalized recording for one question.
type Take struct {
	QuestionID int64
	Audio      []byte
	Duration   time.Duration
}

// Recorder owns the microphone stream and produces one Take per question.
// The stream is released on every exit path: Stop, countdown expiry, and
// Close. Re-recording a question overwrites its previous take.
type Recorder struct {
	mic   Microphone
	clock Clock

	mu         sync.Mutex
	state      RecState
	stream     AudioStream
	buf        *bytes.Buffer
	captured   chan struct{}
	questionID int64
	startedAt  time.Time
	countdown  Timer
	takes      map[int64]Take
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) RecorderOption {
	return func(r *Recorder) { r.clock = c }
}

// NewRecorder creates a Recorder over the given microphone.
func NewRecorder(mic Microphone, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		mic:   mic,
		clock: realClock{},
		state: StateIdle,
		takes: make(map[int64]Take),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current recorder state.
func (r *Recorder) State() RecState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Arm acquires the microphone. Permission denial moves the recorder to
// StateError and returns ErrPermissionDenied; the learner may retry.
func (r *Recorder) Arm(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream != nil {
		return ErrAlreadyArmed
	}

	stream, err := r.mic.Acquire(ctx)
	if err != nil {
		r.state = StateError
		if errors.Is(err, ErrPermissionDenied) {
			return err
		}
		return errors.Join(ErrPermissionDenied, err)
	}
	r.stream = stream
	r.state = StateArmed
	return nil
}

// Start begins capture for the given plan item. When the item carries a
// speaking-time limit the countdown stops the recording at zero, exactly
// once.
func (r *Recorder) Start(item model.PlanItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateRecording {
		return ErrAlreadyRecording
	}
	if r.stream == nil || r.state != StateArmed {
		return ErrNotArmed
	}

	r.state = StateRecording
	r.questionID = item.Question.ID
	r.startedAt = r.clock.Now()
	r.buf = &bytes.Buffer{}
	r.captured = make(chan struct{})

	go func(dst *bytes.Buffer, src AudioStream, done chan struct{}) {
		defer close(done)
		_, _ = io.Copy(dst, src)
	}(r.buf, r.stream, r.captured)

	if item.SpeakingSeconds > 0 {
		d := time.Duration(item.SpeakingSeconds) * time.Second
		r.countdown = r.clock.AfterFunc(d, func() {
			_, _ = r.Stop()
		})
	}
	return nil
}

// Stop finalizes the in-flight recording and returns its Take, storing it
// under the question id. Stop is idempotent: calling it while nothing is
// recording is a no-op returning nil.
func (r *Recorder) Stop() (*Take, error) {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return nil, nil
	}
	r.state = StateFinalizing

	if r.countdown != nil {
		r.countdown.Stop()
		r.countdown = nil
	}

	stream := r.stream
	captured := r.captured
	r.stream = nil
	r.mu.Unlock()

	// Closing the stream ends the capture copy; wait for the tail.
	err := stream.Close()
	<-captured

	r.mu.Lock()
	defer r.mu.Unlock()

	take := Take{
		QuestionID: r.questionID,
		Audio:      r.buf.Bytes(),
		Duration:   r.clock.Now().Sub(r.startedAt),
	}
	r.takes[take.QuestionID] = take
	r.buf = nil
	r.captured = nil
	if r.state == StateFinalizing {
		r.state = StateIdle
	}
	return &take, err
}

// Take returns the stored take for a question, if any.
func (r *Recorder) Take(questionID int64) (Take, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.takes[questionID]
	return t, ok
}

// Takes returns a copy of all stored takes keyed by question id.
func (r *Recorder) Takes() map[int64]Take {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]Take, len(r.takes))
	for k, v := range r.takes {
		out[k] = v
	}
	return out
}

// Close releases the microphone from any state. Recorded takes survive so
// a submission retry never forces re-recording.
func (r *Recorder) Close() error {
	if take, err := r.Stop(); take != nil || err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream != nil {
		err := r.stream.Close()
		r.stream = nil
		r.state = StateIdle
		return err
	}
	r.state = StateIdle
	return nil
}
