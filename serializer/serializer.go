// Package serializer defines the wire-encoding port used by every storage
// adapter and transport to turn a message/message.Envelope+payload pair into
// bytes and back, the way core/command and core/event rely on encoding/json
// at their boundaries without hard-coding it into the handler path.
package serializer

// Serializer converts a value to and from its wire representation.
type Serializer interface {
	// Serialize encodes v, returning the encoded bytes.
	Serialize(v any) ([]byte, error)

	// Deserialize decodes data into v, which must be a non-nil pointer.
	Deserialize(data []byte, v any) error

	// ContentType identifies the encoding for storage metadata and
	// cross-process interoperability (e.g. "application/json").
	ContentType() string
}
