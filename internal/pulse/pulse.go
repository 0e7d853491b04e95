// Package pulse defines the wire-level message record exchanged between
// agents: id, timestamp, type, channel, a dynamic JSON data payload and
// optional metadata. Grounded on hydra-mail/src/schema.rs.
package pulse

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Pulse is one logical message. Data is kept as json.RawMessage so the
// broker and clients never force a static schema on agent payloads; the
// value round-trips through encoding unchanged.
type Pulse struct {
	ID        uuid.UUID       `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
	Channel   string          `json:"channel"`
	Data      json.RawMessage `json:"data"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// New builds a Pulse with a fresh id and current timestamp.
func New(pulseType, channel string, data json.RawMessage) Pulse {
	return Pulse{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Type:      pulseType,
		Channel:   channel,
		Data:      data,
	}
}

// WithMetadata returns a copy of p carrying the given metadata.
func (p Pulse) WithMetadata(metadata json.RawMessage) Pulse {
	p.Metadata = metadata
	return p
}

// Marshal renders the pulse as its canonical JSON encoding, the textual
// representation that internal/toon treats as an opaque blob.
func (p Pulse) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// Unmarshal parses a canonical JSON encoding back into a Pulse.
func Unmarshal(b []byte) (Pulse, error) {
	var p Pulse
	err := json.Unmarshal(b, &p)
	return p, err
}
