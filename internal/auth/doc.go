// Package auth provides the write gate for statehub.
//
// Writes are protected by a single shared secret sent in the X-API-Key
// header (or the api_key field of an MQTT command). There are no users,
// roles or tokens.
//
// When RequireAuth is false every request passes. This is an explicit
// configuration choice for trusted local deployments, not a fallback for a
// missing key.
package auth
