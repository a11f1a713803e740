// Package firmware receives uploaded firmware images.
//
// An upload is a Session driven chunk by chunk:
//
//	Start -> Writing -> End
//	  \________\______> Aborted
//
// Only one session exists at a time. A session that fails or is aborted
// never touches the image that will boot next unless End verified it.
package firmware

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrWrite is returned when the target accepts fewer bytes than supplied.
	ErrWrite = errors.New("firmware write failed")
	// ErrCommit is returned when the image fails to finalize or verify.
	ErrCommit = errors.New("firmware commit failed")
	// ErrAborted reports an upload cut short by the client.
	ErrAborted = errors.New("firmware upload aborted")
	// ErrBusy is returned by Start while another session is open.
	ErrBusy = errors.New("firmware update already in progress")
	// ErrPhase is returned for an operation the session's phase does not allow.
	ErrPhase = errors.New("invalid operation for upload phase")
)

// Phase is the state of an upload session.
type Phase int

// Session phases.
const (
	PhaseStart Phase = iota
	PhaseWriting
	PhaseEnd
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseWriting:
		return "writing"
	case PhaseEnd:
		return "end"
	case PhaseAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Sink hands out upload sessions over a single Updater.
type Sink struct {
	mu      sync.Mutex
	updater Updater
	active  *Session
}

// NewSink creates a Sink.
func NewSink(updater Updater) *Sink {
	return &Sink{updater: updater}
}

// Session is one upload.
type Session struct {
	ID string

	sink    *Sink
	mu      sync.Mutex
	phase   Phase
	written int64
}

// Start opens the single allowed session.
func (s *Sink) Start(ctx context.Context, expectedSHA256 string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, ErrBusy
	}

	sess := &Session{ID: uuid.NewString(), sink: s, phase: PhaseStart}
	if err := s.updater.Begin(sess.ID, expectedSHA256); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	s.active = sess

	log.Info().Str("session", sess.ID).Msg("Firmware upload started")
	return sess, nil
}

// Active reports whether a session is open.
func (s *Sink) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

func (s *Sink) release(sess *Session) {
	s.mu.Lock()
	if s.active == sess {
		s.active = nil
	}
	s.mu.Unlock()
}

// Phase returns the session phase.
func (sess *Session) Phase() Phase {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.phase
}

// BytesWritten returns the number of bytes accepted so far.
func (sess *Session) BytesWritten() int64 {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.written
}

// Write appends chunk. A short write aborts the session with ErrWrite.
func (sess *Session) Write(chunk []byte) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.phase != PhaseStart && sess.phase != PhaseWriting {
		return fmt.Errorf("%w: write in phase %s", ErrPhase, sess.phase)
	}
	sess.phase = PhaseWriting

	n, err := sess.sink.updater.Write(chunk)
	sess.written += int64(n)
	if err != nil || n < len(chunk) {
		sess.abortLocked()
		if err == nil {
			err = fmt.Errorf("accepted %d of %d bytes", n, len(chunk))
		}
		log.Warn().Err(err).Str("session", sess.ID).Int64("bytes", sess.written).Msg("Firmware write failed")
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// End finalizes the upload and commits the image for the next boot.
func (sess *Session) End() (Image, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.phase != PhaseStart && sess.phase != PhaseWriting {
		return Image{}, fmt.Errorf("%w: end in phase %s", ErrPhase, sess.phase)
	}
	sess.phase = PhaseEnd
	defer sess.sink.release(sess)

	img, err := sess.sink.updater.End()
	if err != nil {
		log.Warn().Err(err).Str("session", sess.ID).Int64("bytes", sess.written).Msg("Firmware commit failed")
		return Image{}, fmt.Errorf("%w: %v", ErrCommit, err)
	}

	log.Info().Str("session", sess.ID).Int64("bytes", img.Size).Str("sha256", img.SHA256).Msg("Firmware image committed")
	return img, nil
}

// Abort discards the upload. It is a no-op once the session has ended.
func (sess *Session) Abort() {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.phase == PhaseEnd || sess.phase == PhaseAborted {
		return
	}
	sess.abortLocked()
	log.Warn().Str("session", sess.ID).Int64("bytes", sess.written).Msg("Firmware upload aborted")
}

func (sess *Session) abortLocked() {
	if err := sess.sink.updater.Abort(); err != nil {
		log.Warn().Err(err).Str("session", sess.ID).Msg("Discarding staged firmware failed")
	}
	sess.phase = PhaseAborted
	sess.sink.release(sess)
}
