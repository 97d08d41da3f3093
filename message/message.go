// Package message defines the envelope shared by every command, query, event,
// queue message, and scheduled message that flows through HeroMessaging.
package message

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Kind identifies which of the five message variants an Envelope carries.
// The dispatcher sets it from the entry point used (Send, Query, Publish);
// routing itself goes by entry point and payload name or type, not by Kind.
type Kind string

const (
	KindCommand   Kind = "command"
	KindQuery     Kind = "query"
	KindEvent     Kind = "event"
	KindQueue     Kind = "queue"
	KindScheduled Kind = "scheduled"
)

// Metadata is the free-form, string-keyed bag attached to every envelope.
// Keep the hot path small: well-known fields live on Envelope itself, and
// Metadata is reserved for caller-supplied, opaque values.
type Metadata map[string]any

// Clone returns a shallow copy so handlers can't mutate a caller's map.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Envelope carries the identity, causation, and correlation data required by
// every message kind. MessageID is immutable once assigned; Timestamp is
// always UTC and round-trips through a Serializer without loss.
type Envelope struct {
	MessageID     string    `json:"message_id"`
	Kind          Kind      `json:"kind"`
	Name          string    `json:"name"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CausationID   string    `json:"causation_id,omitempty"`
	Metadata      Metadata  `json:"metadata,omitempty"`
}

// New builds an Envelope for payload, deriving Name from the payload's
// concrete type the way core/command.NewCommand and core/event.NewEvent do.
func New(kind Kind, payload any) Envelope {
	return Envelope{
		MessageID: uuid.New().String(),
		Kind:      kind,
		Name:      NameOf(payload),
		Timestamp: time.Now().UTC(),
	}
}

// NameOf derives a stable message name from a payload's concrete type,
// dereferencing pointers and falling back to the type's string form for
// unnamed types (slices, maps, generic instantiations).
func NameOf(payload any) string {
	t := reflect.TypeOf(payload)
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

// AsEnvelope returns e itself, letting Message[T] embed Envelope while also
// implementing an Enveloped interface for code that only needs the header.
func (e Envelope) AsEnvelope() Envelope { return e }

// Enveloped is satisfied by any typed message wrapper that carries an
// Envelope, letting decorators and storage ports operate without knowing T.
type Enveloped interface {
	AsEnvelope() Envelope
}

// Message pairs an Envelope with a strongly typed Payload. Handlers built
// with dispatcher.NewCommandHandler[T]/NewQueryHandler[Q,R]/NewEventHandler[T]
// receive the Payload directly; the Envelope is reachable from context (see WithCurrent).
type Message[T any] struct {
	Envelope
	Payload T
}

// NewMessage builds a typed Message, deriving the envelope from payload.
func NewMessage[T any](kind Kind, payload T) Message[T] {
	return Message[T]{
		Envelope: New(kind, payload),
		Payload:  payload,
	}
}

func (m Message[T]) AsEnvelope() Envelope { return m.Envelope }
