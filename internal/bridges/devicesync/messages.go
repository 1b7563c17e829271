package devicesync

import (
	"encoding/json"

	"github.com/raspy-assistant/statehub/internal/state"
)

// EventMessage is published to {prefix}/event/changed for every change.
type EventMessage struct {
	Seq       uint64          `json:"seq"`
	Action    state.Action    `json:"action"`
	Fields    []string        `json:"fields"`
	By        string          `json:"by,omitempty"`
	UpdatedAt state.Timestamp `json:"updated_at"`
}

// NewEventMessage builds the event for c.
func NewEventMessage(c state.Change) EventMessage {
	fields := c.Fields
	if fields == nil {
		fields = []string{}
	}
	return EventMessage{
		Seq:       c.Seq,
		Action:    c.Action,
		Fields:    fields,
		By:        c.By,
		UpdatedAt: c.Record.UpdatedAt,
	}
}

// CommandMessage is the payload of an inbound command. Patch is ignored on
// the reset topic.
type CommandMessage struct {
	APIKey string          `json:"api_key"`
	Client string          `json:"client"`
	Patch  json.RawMessage `json:"patch,omitempty"`
}

// outbound is one queued change waiting to be published.
type outbound struct {
	seq   uint64
	event []byte
	state []byte
}
