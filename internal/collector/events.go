package collector

import (
	"fmt"
	"time"
)

// EventKind classifies loop events shown to the user.
type EventKind int

const (
	// EventSourceError reports a failed drain
	EventSourceError EventKind = iota

	// EventRejected reports a malformed or conflicting packet
	EventRejected

	// EventPrediction reports a prediction attached to a track
	EventPrediction

	// EventPredictionFailed reports a failed prediction request
	EventPredictionFailed

	// EventOutputError reports a failed snapshot write
	EventOutputError
)

func (k EventKind) String() string {
	switch k {
	case EventSourceError:
		return "source"
	case EventRejected:
		return "rejected"
	case EventPrediction:
		return "prediction"
	case EventPredictionFailed:
		return "prediction failed"
	case EventOutputError:
		return "output"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a discrete occurrence of the loop for status and log views.
type Event struct {
	Time     time.Time
	Kind     EventKind
	Source   string
	Callsign string
	Err      error
}

func (e Event) String() string {
	subject := e.Source
	if e.Callsign != "" {
		subject = e.Callsign
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Time.Format("15:04:05"), e.Kind, subject, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Time.Format("15:04:05"), e.Kind, subject)
}

// EventSink receives events. It is called from the loop goroutine and
// from the output worker, so it must not block.
type EventSink func(Event)
