package scanner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// ReaderSource adapts a line-delimited io.Reader into a frame Source: a USB
// QR reader in keyboard-wedge mode, or stdin for manual entry. Each non-empty
// line is one decoded frame. Wedge readers have no camera facing, so the
// requested mode is ignored.
type ReaderSource struct {
	r io.Reader
}

// NewReaderSource wraps r. The reader is consumed by the first acquired
// stream; a ReaderSource supports one acquisition.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r}
}

func (s *ReaderSource) Acquire(ctx context.Context, _ FacingMode) (Stream, error) {
	if s.r == nil {
		return nil, errors.New("scanner: reader source has no reader")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream := &readerStream{
		frames: make(chan []byte),
		stop:   make(chan struct{}),
	}
	go stream.pump(bufio.NewScanner(s.r))
	return stream, nil
}

type readerStream struct {
	frames  chan []byte
	stop    chan struct{}
	release sync.Once
}

func (st *readerStream) pump(lines *bufio.Scanner) {
	defer close(st.frames)

	for lines.Scan() {
		line := bytes.TrimSpace(lines.Bytes())
		if len(line) == 0 {
			continue
		}
		// Scanner reuses its buffer between lines.
		frame := make([]byte, len(line))
		copy(frame, line)

		select {
		case st.frames <- frame:
		case <-st.stop:
			return
		}
	}
}

func (st *readerStream) Frames() <-chan []byte {
	return st.frames
}

func (st *readerStream) Release() {
	st.release.Do(func() { close(st.stop) })
}
