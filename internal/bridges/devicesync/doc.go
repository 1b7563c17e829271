// Package devicesync mirrors the shared assistant record onto MQTT for
// devices that cannot poll HTTP, and accepts patch and reset commands from
// them.
//
// Outbound, every committed change produces:
//   - {prefix}/event/changed: seq, action, fields and requester
//   - {prefix}/state: the full record, retained so a device that connects
//     later sees the current value immediately
//
// Inbound, {prefix}/command/patch carries {"api_key", "client", "patch"}
// and {prefix}/command/reset carries {"api_key", "client"}. Both pass
// through the same access gate as the HTTP API.
//
// Publishing happens on a single worker goroutine fed by a buffered queue,
// so store observers never wait on the broker.
package devicesync
