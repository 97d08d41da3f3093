package serializer

import "encoding/json"

// JSON is the reference Serializer, grounded on encoding/json's use
// throughout core/command and core/event for envelope payloads.
type JSON struct{}

// NewJSON returns the JSON serializer.
func NewJSON() Serializer { return JSON{} }

func (JSON) Serialize(v any) ([]byte, error) { return json.Marshal(v) }

func (JSON) Deserialize(data []byte, v any) error { return json.Unmarshal(data, v) }

func (JSON) ContentType() string { return "application/json" }
