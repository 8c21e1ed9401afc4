// Package scanner runs the verifier-side scan session: acquiring a frame
// source, feeding decoded frames to a processor one at a time, and tearing
// everything down on stop, fatal error, or civil-date rollover.
package scanner

import "context"

// State is the scan-session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateScanning
	StateProcessing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateScanning:
		return "scanning"
	case StateProcessing:
		return "processing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// FacingMode selects which camera a Source should acquire.
type FacingMode string

const (
	FacingEnvironment FacingMode = "environment"
	FacingUser        FacingMode = "user"
	FacingAny         FacingMode = "any"
)

// facingFallback is the acquisition order: rear camera first, then front,
// then whatever is available.
var facingFallback = []FacingMode{FacingEnvironment, FacingUser, FacingAny}

// Stream delivers decoded QR frames from an acquired camera. Release must be
// called on every exit path; a leaked handle blocks subsequent acquisitions.
type Stream interface {
	// Frames yields decoded payload text. The channel closes when the
	// underlying source fails or is released.
	Frames() <-chan []byte
	Release()
}

// Source acquires a frame stream. Acquire must respect ctx cancellation and
// return promptly when the deadline passes.
type Source interface {
	Acquire(ctx context.Context, facing FacingMode) (Stream, error)
}

// ProcessFunc handles one decoded frame. The session serialises calls; frames
// arriving while a call is in flight are dropped.
type ProcessFunc func(ctx context.Context, frame []byte)
