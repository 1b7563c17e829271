package state

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ThinkingEffect is the LED animation shown while the assistant is thinking.
type ThinkingEffect string

// Thinking effects.
const (
	ThinkingSpin ThinkingEffect = "spin"
	ThinkingOff  ThinkingEffect = "off"
)

// AllThinkingEffects returns every valid thinking effect.
func AllThinkingEffects() []ThinkingEffect {
	return []ThinkingEffect{ThinkingSpin, ThinkingOff}
}

// Field bounds.
const (
	MinVolume        = 0
	MaxVolume        = 100
	MinLEDBrightness = 0
	MaxLEDBrightness = 100
	MinTTSRate       = 0.5
	MaxTTSRate       = 1.5
)

// Default values for the fields that are not sourced from configuration.
const (
	DefaultColor          = "white"
	DefaultVolume         = 50
	DefaultWakeWord       = "raspy"
	DefaultLocale         = "es-MX"
	DefaultTTSRate        = 1.0
	DefaultLEDBrightness  = 100
	DefaultThinkingEffect = ThinkingSpin
)

// Record is the shared assistant configuration. JSON names match the wire
// format the phone app and the voice device already speak.
type Record struct {
	Color          string         `json:"color"`
	Volume         int            `json:"volumen"`
	VoiceID        string         `json:"voz_id"`
	VoiceName      string         `json:"voz_name"`
	WakeWord       string         `json:"wake_word"`
	UserName       string         `json:"user_name"`
	Locale         string         `json:"locale"`
	TTSRate        float64        `json:"tts_rate"`
	LEDBrightness  int            `json:"led_brightness"`
	ThinkingEffect ThinkingEffect `json:"thinking_effect"`
	Mute           bool           `json:"mute"`
	UpdatedAt      Timestamp      `json:"updated_at"`
	LastBy         string         `json:"last_by"`
}

// Voice identifies the voice defaults a reset restores.
type Voice struct {
	ID   string
	Name string
}

// DefaultRecord returns the record every process starts from and every
// reset returns to. Metadata is left zero; the store stamps it.
func DefaultRecord(voice Voice) Record {
	return Record{
		Color:          DefaultColor,
		Volume:         DefaultVolume,
		VoiceID:        voice.ID,
		VoiceName:      voice.Name,
		WakeWord:       DefaultWakeWord,
		UserName:       "",
		Locale:         DefaultLocale,
		TTSRate:        DefaultTTSRate,
		LEDBrightness:  DefaultLEDBrightness,
		ThinkingEffect: DefaultThinkingEffect,
		Mute:           false,
	}
}

// Timestamp is a point in time serialised as fractional seconds since the
// Unix epoch, the format the devices read.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// Seconds returns the timestamp as fractional epoch seconds.
func (t Timestamp) Seconds() float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

// MarshalJSON encodes t as epoch seconds with microsecond precision.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(t.Seconds(), 'f', 6, 64)), nil
}

// UnmarshalJSON decodes epoch seconds.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("decoding timestamp: %w", err)
	}
	whole, frac := math.Modf(secs)
	t.Time = time.Unix(int64(whole), int64(math.Round(frac*1e6))*int64(time.Microsecond))
	return nil
}
