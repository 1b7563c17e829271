package mqtt

import (
	"encoding/json"
	"time"
)

// Values of Status.Status and Status.Reason.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	ReasonUnexpected = "unexpected_disconnect"
	ReasonShutdown   = "graceful_shutdown"
)

// Status is the retained message on {prefix}/system/status. Devices use it
// to tell a statehub restart from a broker outage.
type Status struct {
	Status     string `json:"status"`
	ClientID   string `json:"client_id"`
	Reason     string `json:"reason,omitempty"`
	StateTopic string `json:"state_topic"`
	Timestamp  string `json:"timestamp"`
}

func statusPayload(topics Topics, clientID, status, reason string) []byte {
	data, _ := json.Marshal(Status{ //nolint:errcheck // only string fields
		Status:     status,
		ClientID:   clientID,
		Reason:     reason,
		StateTopic: topics.State(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
	return data
}
