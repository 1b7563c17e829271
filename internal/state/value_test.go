package state

import (
	"errors"
	"math"
	"testing"
)

func TestDecodePatch(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantKeys []string
		wantKind map[string]Kind
		wantErr  bool
	}{
		{
			name:     "empty body",
			body:     "",
			wantKeys: []string{},
		},
		{
			name:     "whitespace body",
			body:     "  \n",
			wantKeys: []string{},
		},
		{
			name:     "json null",
			body:     "null",
			wantKeys: []string{},
		},
		{
			name:     "mixed scalars",
			body:     `{"color":"red","volumen":30,"tts_rate":1.2,"mute":true,"voz_id":null}`,
			wantKeys: []string{"color", "mute", "tts_rate", "volumen", "voz_id"},
			wantKind: map[string]Kind{
				"color":    KindString,
				"volumen":  KindInt,
				"tts_rate": KindFloat,
				"mute":     KindBool,
				"voz_id":   KindNull,
			},
		},
		{
			name:     "composite values decode as other",
			body:     `{"volumen":[1,2],"extra":{"a":1}}`,
			wantKeys: []string{"extra", "volumen"},
			wantKind: map[string]Kind{
				"volumen": KindOther,
				"extra":   KindOther,
			},
		},
		{
			name:     "integral exponent stays float",
			body:     `{"volumen":1e2}`,
			wantKeys: []string{"volumen"},
			wantKind: map[string]Kind{"volumen": KindFloat},
		},
		{
			name:    "array body",
			body:    `[1,2,3]`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			body:    `{"color":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodePatch([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidValue) {
					t.Fatalf("DecodePatch() error = %v, want ErrInvalidValue", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodePatch() error = %v", err)
			}

			keys := p.Keys()
			if len(keys) != len(tt.wantKeys) {
				t.Fatalf("keys = %v, want %v", keys, tt.wantKeys)
			}
			for i := range keys {
				if keys[i] != tt.wantKeys[i] {
					t.Errorf("keys[%d] = %q, want %q", i, keys[i], tt.wantKeys[i])
				}
			}
			for k, want := range tt.wantKind {
				if got := p[k].Kind(); got != want {
					t.Errorf("kind of %q = %v, want %v", k, got, want)
				}
			}
		})
	}
}

func TestValue_AsInt(t *testing.T) {
	tests := []struct {
		name   string
		value  Value
		want   int64
		wantOK bool
	}{
		{"int", Int(42), 42, true},
		{"float truncates", Float(3.9), 3, true},
		{"negative float truncates toward zero", Float(-3.9), -3, true},
		{"numeric string", String("42"), 42, true},
		{"padded string", String("  7 "), 7, true},
		{"signed string", String("+5"), 5, true},
		{"decimal string", String("4.2"), 0, false},
		{"word", String("loud"), 0, false},
		{"huge string saturates", String("99999999999999999999"), math.MaxInt64, true},
		{"huge float saturates", Float(1e30), math.MaxInt64, true},
		{"infinite float", Float(math.Inf(1)), 0, false},
		{"bool true", Bool(true), 1, true},
		{"bool false", Bool(false), 0, true},
		{"null", Null(), 0, false},
		{"composite", ValueOf([]any{1}), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.value.AsInt()
			if ok != tt.wantOK {
				t.Fatalf("AsInt() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("AsInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestValue_AsFloat(t *testing.T) {
	tests := []struct {
		name   string
		value  Value
		want   float64
		wantOK bool
	}{
		{"float", Float(1.25), 1.25, true},
		{"int", Int(2), 2, true},
		{"numeric string", String(" 0.75 "), 0.75, true},
		{"nan string", String("NaN"), 0, false},
		{"inf string", String("Inf"), 0, false},
		{"word", String("fast"), 0, false},
		{"null", Null(), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.value.AsFloat()
			if ok != tt.wantOK {
				t.Fatalf("AsFloat() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("AsFloat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValue_AsBool(t *testing.T) {
	tests := []struct {
		value  Value
		want   bool
		wantOK bool
	}{
		{Bool(true), true, true},
		{Bool(false), false, true},
		{String("true"), true, true},
		{String("YES"), true, true},
		{String("On"), true, true},
		{String("1"), true, true},
		{Int(1), true, true},
		{String("false"), false, true},
		{String("no"), false, true},
		{String("OFF"), false, true},
		{Int(0), false, true},
		{String("maybe"), false, false},
		{String(" on "), false, false},
		{Int(2), false, false},
		{Float(1), false, false},
		{Float(0), false, false},
		{Float(1.5), false, false},
		{Null(), false, false},
	}

	for _, tt := range tests {
		got, ok := tt.value.AsBool()
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("%+v.AsBool() = (%v, %v), want (%v, %v)", tt.value, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestValue_AsString(t *testing.T) {
	tests := []struct {
		value  Value
		want   string
		wantOK bool
	}{
		{String("azul"), "azul", true},
		{Int(7), "7", true},
		{Float(1.5), "1.5", true},
		{Float(1), "1.0", true},
		{Float(-20), "-20.0", true},
		{Bool(true), "true", true},
		{Null(), "", false},
		{ValueOf(map[string]any{"a": 1}), "", false},
	}

	for _, tt := range tests {
		got, ok := tt.value.AsString()
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("%+v.AsString() = (%q, %v), want (%q, %v)", tt.value, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestValue_JSONRoundTrip(t *testing.T) {
	p, err := DecodePatch([]byte(`{"a":"x","b":3,"c":0.5,"d":false,"e":null}`))
	if err != nil {
		t.Fatalf("DecodePatch() error = %v", err)
	}

	want := map[string]string{"a": `"x"`, "b": "3", "c": "0.5", "d": "false", "e": "null"}
	for k, w := range want {
		got, err := p[k].MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON(%q) error = %v", k, err)
		}
		if string(got) != w {
			t.Errorf("MarshalJSON(%q) = %s, want %s", k, got, w)
		}
	}
}
