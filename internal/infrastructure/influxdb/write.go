package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/raspy-assistant/statehub/internal/state"
)

// Measurement names.
const (
	MeasurementState   = "assistant_state"
	MeasurementChange  = "assistant_change"
	MeasurementRuntime = "statehub_runtime"
)

// StatePoint builds the assistant_state point for a record: the numeric
// settings as fields, tagged with the client that made the last change.
// Mute is written as 0 or 1 so it can be graphed next to the others.
func StatePoint(rec state.Record) *write.Point {
	mute := 0
	if rec.Mute {
		mute = 1
	}

	tags := map[string]string{}
	if rec.LastBy != "" {
		tags["last_by"] = rec.LastBy
	}

	return write.NewPoint(
		MeasurementState,
		tags,
		map[string]interface{}{
			"volumen":        rec.Volume,
			"led_brightness": rec.LEDBrightness,
			"tts_rate":       rec.TTSRate,
			"mute":           mute,
		},
		pointTime(rec.UpdatedAt.Time),
	)
}

// ChangePoint builds the assistant_change point for a committed change.
func ChangePoint(c state.Change) *write.Point {
	tags := map[string]string{
		"action": string(c.Action),
	}
	if c.By != "" {
		tags["by"] = c.By
	}

	return write.NewPoint(
		MeasurementChange,
		tags,
		map[string]interface{}{
			"seq":    int64(c.Seq), //nolint:gosec // sequence stays far below MaxInt64
			"fields": len(c.Fields),
		},
		pointTime(c.Record.UpdatedAt.Time),
	)
}

func pointTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// Observe queues a change point and the resulting snapshot. Use it as a
// state.Observer; it never blocks.
func (c *Client) Observe(ch state.Change) {
	c.enqueue(ChangePoint(ch), StatePoint(ch.Record))
}

// SampleRuntime queues a statehub_runtime point with the number of live
// WebSocket connections and linked clients.
func (c *Client) SampleRuntime(wsClients, registeredClients int) {
	c.WritePoint(MeasurementRuntime, nil, map[string]interface{}{
		"ws_clients":         wsClients,
		"registered_clients": registeredClients,
	})
}

// WritePoint queues a point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.enqueue(write.NewPoint(measurement, tags, fields, time.Now()))
}
