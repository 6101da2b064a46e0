package uci

import (
	"context"
	"strings"
	"time"
)

type EventKind int

const (
	EventLine EventKind = iota
	EventTimeout
	EventCancelled
	EventEnded
	EventFault
)

func (k EventKind) String() string {
	switch k {
	case EventLine:
		return "line"
	case EventTimeout:
		return "timeout"
	case EventCancelled:
		return "cancelled"
	case EventEnded:
		return "ended"
	case EventFault:
		return "fault"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind EventKind
	Line Line
	Err  error
}

// Stream is an open "go infinite" search. It is not safe for concurrent use.
type Stream struct {
	s      *Session
	ended  bool
	closed bool
}

// Next blocks until the engine reports a scored line with a principal
// variation, the deadline passes, cancel fires, the search ends, or the
// engine dies.
func (st *Stream) Next(deadline time.Time, cancel <-chan struct{}) Event {
	if st.closed {
		return Event{Kind: EventFault, Err: ErrSessionClosed}
	}
	if st.ended {
		return Event{Kind: EventEnded}
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		select {
		case <-cancel:
			return Event{Kind: EventCancelled}
		default:
		}

		select {
		case <-cancel:
			return Event{Kind: EventCancelled}
		case <-timer.C:
			return Event{Kind: EventTimeout}
		case raw, ok := <-st.s.lines:
			if !ok {
				return Event{Kind: EventFault, Err: st.s.fault()}
			}
			switch {
			case strings.HasPrefix(raw, "info "):
				if line, ok := parseInfo(raw); ok && len(line.Moves) > 0 {
					return Event{Kind: EventLine, Line: line}
				}
			case strings.HasPrefix(raw, "bestmove"):
				st.ended = true
				return Event{Kind: EventEnded}
			}
		}
	}
}

// Close stops the search and waits for the engine to acknowledge it. A
// non-nil error means the session can no longer be trusted.
func (st *Stream) Close() error {
	if st.closed {
		return nil
	}
	st.closed = true
	if st.ended {
		return nil
	}
	if err := st.s.send("stop\n"); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), st.s.stopTimeout)
	defer cancel()
	if err := st.s.awaitToken(ctx, "bestmove"); err != nil {
		return asFault(err)
	}
	return nil
}
