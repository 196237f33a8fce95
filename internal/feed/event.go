package feed

import (
	"fmt"
	"time"

	kerrors "github.com/liftlog/liftsocial/internal/errors"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind tags the event variant on the wire.
type Kind string

const (
	KindSession      Kind = "session"
	KindAnnouncement Kind = "announcement"
)

// Event is either a Session or an Announcement.
type Event interface {
	Kind() Kind
	isEvent()
}

// Set is one set of an exercise.
type Set struct {
	Reps     int     `msgpack:"reps"`
	WeightKg float64 `msgpack:"weight_kg"`
}

// Exercise groups the sets performed for one movement.
type Exercise struct {
	Name string `msgpack:"name"`
	Sets []Set  `msgpack:"sets"`
}

// Session is a completed workout.
type Session struct {
	Title     string        `msgpack:"title"`
	StartedAt time.Time     `msgpack:"started_at"`
	Duration  time.Duration `msgpack:"duration"`
	Exercises []Exercise    `msgpack:"exercises"`
	Notes     string        `msgpack:"notes,omitempty"`
}

// Announcement is a free-text post, typically from club admins.
type Announcement struct {
	Text string `msgpack:"text"`
}

func (Session) Kind() Kind      { return KindSession }
func (Announcement) Kind() Kind { return KindAnnouncement }

func (Session) isEvent()      {}
func (Announcement) isEvent() {}

// Volume is the total weight moved across every set.
func (s Session) Volume() float64 {
	var total float64
	for _, ex := range s.Exercises {
		for _, set := range ex.Sets {
			total += float64(set.Reps) * set.WeightKg
		}
	}
	return total
}

type wireEvent struct {
	Kind Kind               `msgpack:"kind"`
	Body msgpack.RawMessage `msgpack:"body"`
}

// EncodeEvent serializes ev with its variant tag.
func EncodeEvent(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event", kerrors.ErrMalformedEvent)
	}
	body, err := msgpack.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", ev.Kind(), err)
	}
	return msgpack.Marshal(wireEvent{Kind: ev.Kind(), Body: body})
}

// DecodeEvent parses a payload produced by EncodeEvent. Unknown tags and
// undecodable bodies are ErrMalformedEvent.
func DecodeEvent(data []byte) (Event, error) {
	var wire wireEvent
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrMalformedEvent, err)
	}

	var (
		ev  Event
		err error
	)
	switch wire.Kind {
	case KindSession:
		var s Session
		err = msgpack.Unmarshal(wire.Body, &s)
		ev = s
	case KindAnnouncement:
		var a Announcement
		err = msgpack.Unmarshal(wire.Body, &a)
		ev = a
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", kerrors.ErrMalformedEvent, wire.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s body: %v", kerrors.ErrMalformedEvent, wire.Kind, err)
	}
	return ev, nil
}
