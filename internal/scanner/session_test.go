package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sungwoon-dev/mealpass/internal/civil"
)

type fakeStream struct {
	frames chan []byte

	mu       sync.Mutex
	released bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan []byte, 16)}
}

func (f *fakeStream) Frames() <-chan []byte { return f.frames }

func (f *fakeStream) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.released {
		f.released = true
		close(f.frames)
	}
}

func (f *fakeStream) Released() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

type fakeSource struct {
	mu       sync.Mutex
	failures int
	facings  []FacingMode
	stream   *fakeStream
	block    bool
}

func (f *fakeSource) Acquire(ctx context.Context, facing FacingMode) (Stream, error) {
	f.mu.Lock()
	f.facings = append(f.facings, facing)
	blocked := f.block
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errors.New("camera busy")
	}
	f.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if f.stream == nil {
		f.stream = newFakeStream()
	}
	return f.stream, nil
}

func (f *fakeSource) attempts() []FacingMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FacingMode(nil), f.facings...)
}

func collectFrames() (ProcessFunc, func() [][]byte) {
	var mu sync.Mutex
	var got [][]byte
	process := func(ctx context.Context, frame []byte) {
		mu.Lock()
		got = append(got, frame)
		mu.Unlock()
	}
	return process, func() [][]byte {
		mu.Lock()
		defer mu.Unlock()
		return append([][]byte(nil), got...)
	}
}

func TestSessionConstructorValidation(t *testing.T) {
	_, err := NewSession(nil, func(context.Context, []byte) {})
	require.Error(t, err)

	_, err = NewSession(&fakeSource{}, nil)
	require.Error(t, err)
}

func TestSessionProcessesFrames(t *testing.T) {
	source := &fakeSource{}
	process, got := collectFrames()

	session, err := NewSession(source, process, WithCooldown(0))
	require.NoError(t, err)
	require.Equal(t, StateIdle, session.State())

	require.NoError(t, session.Start(context.Background()))
	require.Equal(t, StateScanning, session.State())

	source.stream.frames <- []byte("frame-1")
	require.Eventually(t, func() bool {
		return len(got()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	session.Stop()
	<-session.Done()
	require.Equal(t, StateStopped, session.State())
	require.NoError(t, session.Err())
	require.True(t, source.stream.Released())
}

func TestSessionFacingFallback(t *testing.T) {
	source := &fakeSource{failures: 2}
	process, _ := collectFrames()

	session, err := NewSession(source, process, WithCooldown(0))
	require.NoError(t, err)
	require.NoError(t, session.Start(context.Background()))
	defer session.Stop()

	require.Equal(t, []FacingMode{FacingEnvironment, FacingUser, FacingAny}, source.attempts())
}

func TestSessionAcquisitionExhausted(t *testing.T) {
	source := &fakeSource{failures: 5}
	process, _ := collectFrames()

	session, err := NewSession(source, process, WithMaxAttempts(3))
	require.NoError(t, err)

	err = session.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, StateStopped, session.State())
	require.Len(t, source.attempts(), 3)
}

func TestSessionInitTimeout(t *testing.T) {
	source := &fakeSource{block: true}
	process, _ := collectFrames()

	session, err := NewSession(source, process,
		WithMaxAttempts(1),
		WithInitTimeout(20*time.Millisecond),
	)
	require.NoError(t, err)

	err = session.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, StateStopped, session.State())
}

func TestSessionRolloverAborts(t *testing.T) {
	source := &fakeSource{}
	process, _ := collectFrames()
	rollover := make(chan string, 1)

	session, err := NewSession(source, process,
		WithCooldown(0),
		WithRolloverSignal(rollover),
	)
	require.NoError(t, err)
	require.NoError(t, session.Start(context.Background()))

	rollover <- "2026-09-02"

	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop on rollover")
	}
	require.ErrorIs(t, session.Err(), ErrDateRollover)
	require.True(t, source.stream.Released())
}

func TestSessionDateDriftAbortsOnFrame(t *testing.T) {
	source := &fakeSource{}
	process, got := collectFrames()

	var mu sync.Mutex
	now := time.Date(2026, 9, 1, 23, 59, 0, 0, civil.KST)

	session, err := NewSession(source, process,
		WithCooldown(0),
		WithSessionClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}),
	)
	require.NoError(t, err)
	require.NoError(t, session.Start(context.Background()))

	mu.Lock()
	now = time.Date(2026, 9, 2, 0, 0, 30, 0, civil.KST)
	mu.Unlock()

	source.stream.frames <- []byte("after-midnight")

	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop on date drift")
	}
	require.ErrorIs(t, session.Err(), ErrDateRollover)
	require.Empty(t, got())
	require.True(t, source.stream.Released())
}

func TestSessionStartTwice(t *testing.T) {
	source := &fakeSource{}
	process, _ := collectFrames()

	session, err := NewSession(source, process, WithCooldown(0))
	require.NoError(t, err)
	require.NoError(t, session.Start(context.Background()))
	defer session.Stop()

	require.Error(t, session.Start(context.Background()))
}

func TestSessionStopBeforeStart(t *testing.T) {
	source := &fakeSource{}
	process, _ := collectFrames()

	session, err := NewSession(source, process)
	require.NoError(t, err)

	session.Stop()
	require.Equal(t, StateStopped, session.State())
	require.ErrorIs(t, session.Start(context.Background()), ErrSessionStopped)
}

func TestSessionSourceClosure(t *testing.T) {
	source := &fakeSource{}
	process, _ := collectFrames()

	session, err := NewSession(source, process, WithCooldown(0))
	require.NoError(t, err)
	require.NoError(t, session.Start(context.Background()))

	source.stream.Release()

	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop on source closure")
	}
	require.Error(t, session.Err())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "stopped", StateStopped.String())
	require.Equal(t, "unknown", State(99).String())
}
