package state

import (
	"regexp"
	"strings"
)

// voiceIDPattern is the accepted shape of a voice identifier: ASCII letters
// and digits only, at least six of them.
var voiceIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{6,}$`)

// defaultVoiceAlias is the placeholder clients send to ask for the default voice.
const defaultVoiceAlias = "default"

// ValidVoiceID reports whether id already has the accepted voice ID shape.
func ValidVoiceID(id string) bool {
	return voiceIDPattern.MatchString(id)
}

// VoiceSanitizer normalises user-supplied voice identifiers.
type VoiceSanitizer struct {
	defaultID string
}

// NewVoiceSanitizer returns a sanitizer that falls back to defaultID.
// defaultID should itself satisfy ValidVoiceID; config validation enforces it.
func NewVoiceSanitizer(defaultID string) VoiceSanitizer {
	return VoiceSanitizer{defaultID: defaultID}
}

// DefaultID returns the fallback voice ID.
func (vs VoiceSanitizer) DefaultID() string {
	return vs.defaultID
}

// Sanitize returns the trimmed raw ID when it is well-formed, and the
// default otherwise. It never fails.
func (vs VoiceSanitizer) Sanitize(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" || strings.EqualFold(id, defaultVoiceAlias) || !ValidVoiceID(id) {
		return vs.defaultID
	}
	return id
}

// SanitizeValue is Sanitize for a raw patch value. Values that cannot be
// read as a string count as absent.
func (vs VoiceSanitizer) SanitizeValue(v Value) string {
	s, ok := v.AsString()
	if !ok {
		return vs.defaultID
	}
	return vs.Sanitize(s)
}
