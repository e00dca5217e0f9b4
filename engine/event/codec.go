package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType is returned when decoding an envelope whose type is not registered.
var ErrUnknownType = errors.New("unknown event type")

// envelope is the persisted form of an event: a type tag plus the variant body.
type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Marshal encodes ev as a JSON envelope {"type": ..., "data": {...}}.
//
// The envelope is what event records store as their payload and what
// Unmarshal reads back during recovery.
func Marshal(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("cannot marshal nil event")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", ev.Type(), err)
	}

	return json.Marshal(envelope{Type: ev.Type(), Data: data})
}

// Unmarshal decodes an envelope produced by Marshal back into its concrete variant.
// The returned Event holds a value type (Init, JobStatus, ...), never a pointer.
func Unmarshal(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}

	switch env.Type {
	case TypeInit:
		return decode[Init](env)
	case TypeInputUpdate:
		return decode[InputUpdate](env)
	case TypeOutputUpdate:
		return decode[OutputUpdate](env)
	case TypeJobStatus:
		return decode[JobStatus](env)
	case TypeContextStatus:
		return decode[ContextStatus](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decode[E Event](env envelope) (Event, error) {
	var ev E
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s event: %w", env.Type, err)
	}
	return ev, nil
}
