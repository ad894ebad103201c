package ai

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

var ErrStreamClosed = errors.New("completion stream closed")

// Producer generates fragments by calling emit. It returns nil on a clean end.
type Producer func(ctx context.Context, emit func(fragment string) error) error

// Stream is a pull-based sequence of completion fragments. Next must be called from
// a single goroutine; Close may be called from any.
type Stream struct {
	events chan streamEvent
	cancel context.CancelFunc

	pending *streamEvent
	full    strings.Builder
	err     error

	onComplete   func(full string)
	completeOnce sync.Once
	closeOnce    sync.Once
	closed       chan struct{}
}

type streamEvent struct {
	fragment string
	err      error
	end      bool
}

// NewStream starts produce in its own goroutine and waits for its first event. A
// failure before the first fragment is returned here instead of from Next.
func NewStream(ctx context.Context, produce Producer) (*Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		events: make(chan streamEvent),
		cancel: cancel,
		closed: make(chan struct{}),
	}

	go s.run(streamCtx, produce)

	select {
	case ev, ok := <-s.events:
		if !ok {
			cancel()
			return nil, ErrStreamClosed
		}
		if ev.err != nil {
			cancel()
			return nil, ev.err
		}
		s.pending = &ev
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
	return s, nil
}

func (s *Stream) run(ctx context.Context, produce Producer) {
	defer close(s.events)

	err := produce(ctx, func(fragment string) error {
		if fragment == "" {
			return nil
		}
		select {
		case s.events <- streamEvent{fragment: fragment}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	final := streamEvent{end: true}
	if err != nil {
		final = streamEvent{err: err}
	}
	select {
	case s.events <- final:
	case <-ctx.Done():
	}
}

// OnComplete registers fn to receive the concatenated output once, after a clean end.
func (s *Stream) OnComplete(fn func(full string)) {
	s.onComplete = fn
}

// Next returns the next fragment, io.EOF after a clean end, or the error that
// truncated the stream.
func (s *Stream) Next(ctx context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	select {
	case <-s.closed:
		s.err = ErrStreamClosed
		return "", s.err
	default:
	}

	var ev streamEvent
	if s.pending != nil {
		ev = *s.pending
		s.pending = nil
	} else {
		select {
		case e, ok := <-s.events:
			if !ok {
				s.err = ErrStreamClosed
				return "", s.err
			}
			ev = e
		case <-s.closed:
			s.err = ErrStreamClosed
			return "", s.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	switch {
	case ev.err != nil:
		s.err = ev.err
		s.cancel()
		return "", ev.err
	case ev.end:
		s.err = io.EOF
		s.cancel()
		s.completeOnce.Do(func() {
			if s.onComplete != nil {
				s.onComplete(s.full.String())
			}
		})
		return "", io.EOF
	default:
		s.full.WriteString(ev.fragment)
		return ev.fragment, nil
	}
}

// Close stops the producer. Fragments not yet read are discarded.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
	})
}

// Collect drains a stream into a single string.
func Collect(ctx context.Context, s *Stream) (string, error) {
	var out strings.Builder
	for {
		fragment, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out.String(), nil
		}
		if err != nil {
			return out.String(), err
		}
		out.WriteString(fragment)
	}
}
