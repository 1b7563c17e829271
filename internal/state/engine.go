package state

import (
	"strings"
)

// Field names as they appear on the wire.
const (
	FieldColor          = "color"
	FieldVolume         = "volumen"
	FieldVoiceID        = "voz_id"
	FieldVoiceName      = "voz_name"
	FieldWakeWord       = "wake_word"
	FieldUserName       = "user_name"
	FieldLocale         = "locale"
	FieldTTSRate        = "tts_rate"
	FieldLEDBrightness  = "led_brightness"
	FieldThinkingEffect = "thinking_effect"
	FieldMute           = "mute"
	FieldUpdatedAt      = "updated_at"
	FieldLastBy         = "last_by"
)

// fieldRule validates one patch value and writes it into a record.
type fieldRule struct {
	name        string
	description string
	apply       func(e *Engine, r *Record, v Value) error
}

// fieldRules is the ordered table of writable fields. Order fixes which
// error is reported when several fields in one patch are invalid.
var fieldRules = []fieldRule{
	{FieldColor, "str", func(_ *Engine, r *Record, v Value) error {
		return setString(FieldColor, v, &r.Color)
	}},
	{FieldVolume, "int 0..100", func(_ *Engine, r *Record, v Value) error {
		return setClampedInt(FieldVolume, v, MinVolume, MaxVolume, &r.Volume)
	}},
	{FieldVoiceID, "str (alphanumeric, min 6; falls back to the default voice)", func(e *Engine, r *Record, v Value) error {
		r.VoiceID = e.voice.SanitizeValue(v)
		return nil
	}},
	{FieldVoiceName, "str (informational)", func(_ *Engine, r *Record, v Value) error {
		return setString(FieldVoiceName, v, &r.VoiceName)
	}},
	{FieldWakeWord, "str (wake word, non-empty)", func(_ *Engine, r *Record, v Value) error {
		s, err := asString(FieldWakeWord, v)
		if err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return fieldErr(FieldWakeWord, ErrEmptyField, "must not be empty")
		}
		r.WakeWord = s
		return nil
	}},
	{FieldUserName, "str (user name)", func(_ *Engine, r *Record, v Value) error {
		if err := setString(FieldUserName, v, &r.UserName); err != nil {
			return err
		}
		r.UserName = strings.TrimSpace(r.UserName)
		return nil
	}},
	{FieldLocale, "str (e.g. es-MX)", func(_ *Engine, r *Record, v Value) error {
		return setString(FieldLocale, v, &r.Locale)
	}},
	{FieldTTSRate, "float 0.5..1.5", func(_ *Engine, r *Record, v Value) error {
		f, ok := v.AsFloat()
		if !ok {
			return fieldErr(FieldTTSRate, ErrInvalidValue, "expected a number, got %s", v.Kind())
		}
		r.TTSRate = clamp(f, MinTTSRate, MaxTTSRate)
		return nil
	}},
	{FieldLEDBrightness, "int 0..100", func(_ *Engine, r *Record, v Value) error {
		return setClampedInt(FieldLEDBrightness, v, MinLEDBrightness, MaxLEDBrightness, &r.LEDBrightness)
	}},
	{FieldThinkingEffect, "str: spin|off", func(_ *Engine, r *Record, v Value) error {
		s, _ := v.AsString()
		switch te := ThinkingEffect(s); te {
		case ThinkingSpin, ThinkingOff:
			r.ThinkingEffect = te
			return nil
		default:
			return fieldErr(FieldThinkingEffect, ErrInvalidEnum, "must be 'spin' or 'off'")
		}
	}},
	{FieldMute, "bool", func(_ *Engine, r *Record, v Value) error {
		b, ok := v.AsBool()
		if !ok {
			return fieldErr(FieldMute, ErrInvalidValue, "must be a boolean")
		}
		r.Mute = b
		return nil
	}},
}

// Engine validates patches and merges them into records. It holds no
// record itself; the Store owns the record and the locking.
type Engine struct {
	voice VoiceSanitizer
}

// NewEngine creates a patch engine using the given voice sanitizer.
func NewEngine(voice VoiceSanitizer) *Engine {
	return &Engine{voice: voice}
}

// Merge applies every recognised field of p to dst and returns the names of
// the fields it wrote, in table order. Unknown keys are ignored.
//
// On error dst may be partially written; callers merge into a copy and
// discard it on failure.
func (e *Engine) Merge(dst *Record, p Patch) ([]string, error) {
	var fields []string
	for i := range fieldRules {
		rule := &fieldRules[i]
		v, ok := p[rule.name]
		if !ok {
			continue
		}
		if err := rule.apply(e, dst, v); err != nil {
			return nil, err
		}
		fields = append(fields, rule.name)
	}
	return fields, nil
}

// Validate reports whether p would be accepted, without touching any record.
func (e *Engine) Validate(p Patch) error {
	var scratch Record
	_, err := e.Merge(&scratch, p)
	return err
}

// Known reports whether name is a writable field.
func Known(name string) bool {
	for i := range fieldRules {
		if fieldRules[i].name == name {
			return true
		}
	}
	return false
}

// Schema describes every field of the record for clients.
func Schema() map[string]string {
	fields := make(map[string]string, len(fieldRules)+3)
	for i := range fieldRules {
		fields[fieldRules[i].name] = fieldRules[i].description
	}
	fields[FieldUpdatedAt] = "epoch seconds"
	fields[FieldLastBy] = "str (who made the last change)"
	fields["_pid"] = "debug"
	return fields
}

func asString(field string, v Value) (string, error) {
	s, ok := v.AsString()
	if !ok {
		return "", fieldErr(field, ErrInvalidValue, "expected a string, got %s", v.Kind())
	}
	return s, nil
}

func setString(field string, v Value, dst *string) error {
	s, err := asString(field, v)
	if err != nil {
		return err
	}
	*dst = s
	return nil
}

func setClampedInt(field string, v Value, lo, hi int, dst *int) error {
	n, ok := v.AsInt()
	if !ok {
		return fieldErr(field, ErrInvalidValue, "expected an integer, got %s", v.Kind())
	}
	*dst = int(clamp(n, int64(lo), int64(hi)))
	return nil
}

// clamp saturates v into [lo, hi].
func clamp[T int64 | float64](v, lo, hi T) T {
	return max(lo, min(hi, v))
}
