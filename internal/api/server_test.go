package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/gorilla/websocket"

	"github.com/raspy-assistant/statehub/internal/audit"
	"github.com/raspy-assistant/statehub/internal/auth"
	"github.com/raspy-assistant/statehub/internal/bridges/devicesync"
	"github.com/raspy-assistant/statehub/internal/infrastructure/config"
	"github.com/raspy-assistant/statehub/internal/infrastructure/database"
	"github.com/raspy-assistant/statehub/internal/infrastructure/influxdb"
	"github.com/raspy-assistant/statehub/internal/infrastructure/logging"
	"github.com/raspy-assistant/statehub/internal/state"
	"github.com/raspy-assistant/statehub/migrations"
)

const testAPIKey = "s3cret"

var testVoice = state.Voice{ID: "21m00Tcm4TlvDq8ikWAM", Name: "Rachel"}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// tickingClock advances one second per call so timestamps differ and
// survive the microsecond wire format exactly.
func tickingClock() func() time.Time {
	base := time.Unix(1_700_000_000, 0)
	var n atomic.Int64
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

func testDeps(gate auth.Gate) Deps {
	return Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Gate:    gate,
		Store:   state.NewStore(state.Options{Voice: testVoice, Clock: tickingClock()}),
		Logger:  testLogger(),
		Version: "test",
	}
}

// testServer creates a server whose router is exercised through httptest.
// Metrics observe the store as they would after Start.
func testServer(t *testing.T, deps Deps) (*Server, http.Handler) {
	t.Helper()

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(srv.store.Subscribe(srv.metrics.Observe))
	return srv, srv.buildRouter()
}

func openServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	return testServer(t, testDeps(auth.Gate{}))
}

func gatedServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	return testServer(t, testDeps(auth.NewGate(true, testAPIKey)))
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return v
}

// ─── Plumbing ──────────────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	deps := testDeps(auth.Gate{})
	deps.Logger = nil
	if _, err := New(deps); err == nil {
		t.Error("New() without logger should fail")
	}

	deps = testDeps(auth.Gate{})
	deps.Store = nil
	if _, err := New(deps); err == nil {
		t.Error("New() without store should fail")
	}
}

func TestIndexAndHealthz(t *testing.T) {
	_, router := openServer(t)

	w := do(t, router, http.MethodGet, "/", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET / status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Servidor OK") {
		t.Errorf("index body = %q, want it to contain %q", w.Body.String(), "Servidor OK")
	}

	w = do(t, router, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("GET /healthz = %d %q, want 200 \"ok\"", w.Code, w.Body.String())
	}
}

func TestNoStoreOnEveryResponse(t *testing.T) {
	_, router := gatedServer(t)

	tests := []struct {
		method, path string
	}{
		{http.MethodGet, "/"},
		{http.MethodGet, "/estado"},
		{http.MethodPost, "/estado"},
		{http.MethodGet, "/schema"},
		{http.MethodGet, "/missing"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := do(t, router, tt.method, tt.path, "", nil)
			if got := w.Header().Get("Cache-Control"); got != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", got)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	_, router := openServer(t)

	w := do(t, router, http.MethodGet, "/healthz", "", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID should be generated")
	}

	w = do(t, router, http.MethodGet, "/healthz", "", map[string]string{"X-Request-ID": "abc-123"})
	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestCORS(t *testing.T) {
	deps := testDeps(auth.Gate{})
	deps.Config.CORS.AllowedOrigins = []string{"https://app.example"}
	_, router := testServer(t, deps)

	w := do(t, router, http.MethodOptions, "/estado", "", map[string]string{"Origin": "https://app.example"})
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("Allow-Origin = %q, want https://app.example", got)
	}
	for _, h := range []string{auth.HeaderAPIKey, HeaderClient} {
		if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), h) {
			t.Errorf("Allow-Headers = %q, missing %s", w.Header().Get("Access-Control-Allow-Headers"), h)
		}
	}

	w = do(t, router, http.MethodGet, "/estado", "", map[string]string{"Origin": "https://evil.example"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got Allow-Origin %q", got)
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	_, router := openServer(t)

	w := do(t, router, http.MethodGet, "/nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if e := decodeBody[Error](t, w); e.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeNotFound)
	}

	w = do(t, router, http.MethodPut, "/estado", "{}", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
	if e := decodeBody[Error](t, w); e.Code != ErrCodeMethodNotAllow {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeMethodNotAllow)
	}
}

// ─── State ─────────────────────────────────────────────────────────

func TestGetState(t *testing.T) {
	srv, router := openServer(t)

	w := do(t, router, http.MethodGet, "/estado", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	got := decodeBody[stateResponse](t, w)
	if got.PID != os.Getpid() {
		t.Errorf("_pid = %d, want %d", got.PID, os.Getpid())
	}
	if diff := cmp.Diff(srv.store.Get(), got.Record); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	// Flat: record fields sit beside _pid at the top level.
	flat := decodeBody[map[string]any](t, w)
	for _, key := range []string{"color", "volumen", "voz_id", "wake_word", "updated_at", "last_by", "_pid"} {
		if _, ok := flat[key]; !ok {
			t.Errorf("response missing %q", key)
		}
	}
}

func TestPatchState(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantError string // error code for 400s
		wantField string
		check     func(t *testing.T, rec state.Record)
	}{
		{
			name:     "volume clamps to 100",
			body:     `{"volumen": 150}`,
			wantCode: http.StatusOK,
			check: func(t *testing.T, rec state.Record) {
				if rec.Volume != 100 {
					t.Errorf("volumen = %d, want 100", rec.Volume)
				}
			},
		},
		{
			name:      "blank wake word",
			body:      `{"wake_word": "   "}`,
			wantCode:  http.StatusBadRequest,
			wantError: ErrCodeEmptyField,
			wantField: state.FieldWakeWord,
		},
		{
			name:      "unknown thinking effect",
			body:      `{"thinking_effect": "pulse"}`,
			wantCode:  http.StatusBadRequest,
			wantError: ErrCodeInvalidEnum,
			wantField: state.FieldThinkingEffect,
		},
		{
			name:     "short voice id falls back to default",
			body:     `{"voz_id": "ab"}`,
			wantCode: http.StatusOK,
			check: func(t *testing.T, rec state.Record) {
				if rec.VoiceID != testVoice.ID {
					t.Errorf("voz_id = %q, want %q", rec.VoiceID, testVoice.ID)
				}
			},
		},
		{
			name:     "mute from string",
			body:     `{"mute": "on"}`,
			wantCode: http.StatusOK,
			check: func(t *testing.T, rec state.Record) {
				if !rec.Mute {
					t.Error("mute = false, want true")
				}
			},
		},
		{
			name:     "unknown keys ignored",
			body:     `{"brillo": 3, "color": "blue"}`,
			wantCode: http.StatusOK,
			check: func(t *testing.T, rec state.Record) {
				if rec.Color != "blue" {
					t.Errorf("color = %q, want blue", rec.Color)
				}
			},
		},
		{
			name:      "non-numeric volume",
			body:      `{"volumen": "loud"}`,
			wantCode:  http.StatusBadRequest,
			wantError: ErrCodeInvalidValue,
			wantField: state.FieldVolume,
		},
		{
			name:      "float mute",
			body:      `{"mute": 1.0}`,
			wantCode:  http.StatusBadRequest,
			wantError: ErrCodeInvalidValue,
			wantField: state.FieldMute,
		},
		{
			name:      "valid field does not land when another fails",
			body:      `{"color": "red", "thinking_effect": "pulse"}`,
			wantCode:  http.StatusBadRequest,
			wantError: ErrCodeInvalidEnum,
			wantField: state.FieldThinkingEffect,
		},
		{
			name:      "body is not an object",
			body:      `[1, 2]`,
			wantCode:  http.StatusBadRequest,
			wantError: ErrCodeInvalidValue,
			wantField: "body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, router := openServer(t)
			before := srv.store.Get()

			w := do(t, router, http.MethodPost, "/estado", tt.body, nil)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}

			if tt.wantCode != http.StatusOK {
				e := decodeBody[Error](t, w)
				if e.Code != tt.wantError || e.Field != tt.wantField || e.Status != tt.wantCode {
					t.Errorf("error = %+v, want code %q field %q", e, tt.wantError, tt.wantField)
				}
				if e.Message == "" {
					t.Error("error message should not be empty")
				}
				if diff := cmp.Diff(before, srv.store.Get()); diff != "" {
					t.Errorf("rejected patch changed the record (-before +after):\n%s", diff)
				}
				return
			}

			got := decodeBody[stateResponse](t, w)
			if diff := cmp.Diff(srv.store.Get(), got.Record); diff != "" {
				t.Errorf("response does not match store (-store +response):\n%s", diff)
			}
			if !got.UpdatedAt.After(before.UpdatedAt.Time) {
				t.Errorf("updated_at = %v, want after %v", got.UpdatedAt, before.UpdatedAt)
			}
			tt.check(t, got.Record)
		})
	}
}

func TestPatchState_RecordsRequester(t *testing.T) {
	srv, router := openServer(t)

	w := do(t, router, http.MethodPost, "/estado", `{"color":"green"}`, map[string]string{HeaderClient: " phone "})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := srv.store.Get().LastBy; got != "phone" {
		t.Errorf("last_by = %q, want phone", got)
	}
}

func TestPatchState_BodyTooLarge(t *testing.T) {
	srv, router := openServer(t)
	before := srv.store.Get()

	body := `{"color":"` + strings.Repeat("a", maxRequestBodySize) + `"}`
	w := do(t, router, http.MethodPost, "/estado", body, nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
	if diff := cmp.Diff(before, srv.store.Get()); diff != "" {
		t.Errorf("record changed (-before +after):\n%s", diff)
	}
}

func TestWritesRequireAPIKey(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		key      string
		wantCode int
	}{
		{"patch without key", "/estado", "", http.StatusForbidden},
		{"patch with wrong key", "/estado", "nope", http.StatusForbidden},
		{"patch with key", "/estado", testAPIKey, http.StatusOK},
		{"reset without key", "/reset", "", http.StatusForbidden},
		{"reset with key", "/reset", testAPIKey, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, router := gatedServer(t)
			before := srv.store.Get()

			headers := map[string]string{}
			if tt.key != "" {
				headers[auth.HeaderAPIKey] = tt.key
			}
			w := do(t, router, http.MethodPost, tt.path, `{"volumen": 10}`, headers)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusForbidden {
				return
			}

			if e := decodeBody[Error](t, w); e.Message != "forbidden" || e.Code != ErrCodeForbidden {
				t.Errorf("error = %+v, want forbidden", e)
			}
			if diff := cmp.Diff(before, srv.store.Get()); diff != "" {
				t.Errorf("unauthorized write changed the record (-before +after):\n%s", diff)
			}
		})
	}
}

func TestReadsAreOpenWhenGated(t *testing.T) {
	_, router := gatedServer(t)

	for _, path := range []string{"/estado", "/schema", "/healthz", "/stats"} {
		if w := do(t, router, http.MethodGet, path, "", nil); w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, w.Code)
		}
	}
	if w := do(t, router, http.MethodPost, "/vincular", `{"cliente":"tv"}`, nil); w.Code != http.StatusOK {
		t.Errorf("POST /vincular status = %d, want 200", w.Code)
	}
}

func TestReset(t *testing.T) {
	srv, router := openServer(t)

	do(t, router, http.MethodPost, "/estado", `{"volumen": 5, "color": "red", "mute": true}`, map[string]string{HeaderClient: "phone"})

	w := do(t, router, http.MethodPost, "/reset", "", map[string]string{HeaderClient: "phone"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	got := decodeBody[stateResponse](t, w)
	want := state.DefaultRecord(testVoice)
	if diff := cmp.Diff(want, got.Record, cmpopts.IgnoreFields(state.Record{}, "UpdatedAt")); diff != "" {
		t.Errorf("reset record mismatch (-want +got):\n%s", diff)
	}
	if got.LastBy != "" {
		t.Errorf("last_by = %q, want empty", got.LastBy)
	}
	if diff := cmp.Diff(srv.store.Get(), got.Record); diff != "" {
		t.Errorf("response does not match store (-store +response):\n%s", diff)
	}
}

func TestSchema(t *testing.T) {
	_, router := openServer(t)

	w := do(t, router, http.MethodGet, "/schema", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	got := decodeBody[schemaResponse](t, w)
	if diff := cmp.Diff(state.Schema(), got.Fields); diff != "" {
		t.Errorf("schema mismatch (-want +got):\n%s", diff)
	}
	if got.Fields[state.FieldVolume] == "" {
		t.Error("schema should describe volumen")
	}
}

// ─── Link ──────────────────────────────────────────────────────────

func TestLink(t *testing.T) {
	srv, router := openServer(t)

	w := do(t, router, http.MethodPost, "/vincular", `{"cliente":"iphone","user_name":"  Ana "}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	got := decodeBody[linkResponse](t, w)
	if !got.OK {
		t.Error("ok = false, want true")
	}
	if diff := cmp.Diff([]string{"iphone"}, got.Registered); diff != "" {
		t.Errorf("registrados mismatch (-want +got):\n%s", diff)
	}
	if got.State.UserName != "Ana" || got.State.LastBy != "iphone" {
		t.Errorf("estado user_name=%q last_by=%q, want Ana/iphone", got.State.UserName, got.State.LastBy)
	}
	if got.State.PID != os.Getpid() {
		t.Errorf("estado._pid = %d, want %d", got.State.PID, os.Getpid())
	}

	w = do(t, router, http.MethodPost, "/vincular", `{"cliente":"android"}`, nil)
	got = decodeBody[linkResponse](t, w)
	if diff := cmp.Diff([]string{"android", "iphone"}, got.Registered); diff != "" {
		t.Errorf("registrados mismatch (-want +got):\n%s", diff)
	}
	if got.State.UserName != "Ana" {
		t.Errorf("user_name = %q, want it kept as Ana", got.State.UserName)
	}
	if srv.store.Clients().Len() != 2 {
		t.Errorf("registry size = %d, want 2", srv.store.Clients().Len())
	}
}

func TestLink_MalformedBodyIsEmpty(t *testing.T) {
	srv, router := openServer(t)
	before := srv.store.Get()

	w := do(t, router, http.MethodPost, "/vincular", `not json`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	got := decodeBody[linkResponse](t, w)
	if !got.OK || len(got.Registered) != 0 {
		t.Errorf("got ok=%v registrados=%v, want ok and none", got.OK, got.Registered)
	}
	if diff := cmp.Diff(before, got.State.Record, cmpopts.IgnoreFields(state.Record{}, "UpdatedAt")); diff != "" {
		t.Errorf("record changed (-before +after):\n%s", diff)
	}
}

// ─── Metrics, stats and audit ──────────────────────────────────────

func TestPrometheusMetrics(t *testing.T) {
	_, router := gatedServer(t)
	key := map[string]string{auth.HeaderAPIKey: testAPIKey}

	do(t, router, http.MethodPost, "/estado", `{"volumen": 80}`, key)
	do(t, router, http.MethodPost, "/estado", `{"mute": "maybe"}`, key)
	do(t, router, http.MethodPost, "/estado", `{"volumen": 1}`, nil)
	do(t, router, http.MethodPost, "/reset", "", key)
	do(t, router, http.MethodPost, "/estado", `{"led_brightness": 40}`, key)
	do(t, router, http.MethodPost, "/vincular", `{"cliente":"tv"}`, nil)

	w := do(t, router, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`statehub_patches_total{result="applied"} 2`,
		`statehub_patches_total{result="invalid"} 1`,
		`statehub_patches_total{result="forbidden"} 1`,
		`statehub_resets_total 1`,
		`statehub_links_total 1`,
		`statehub_registered_clients 1`,
		`statehub_websocket_clients 0`,
		`statehub_volume 50`,
		`statehub_led_brightness 40`,
		`go_goroutines`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

type fakeSync struct{ m devicesync.Metrics }

func (f fakeSync) GetMetrics() devicesync.Metrics { return f.m }

type fakeTelemetry struct{ m influxdb.Metrics }

func (f fakeTelemetry) GetMetrics() influxdb.Metrics { return f.m }

func TestStats(t *testing.T) {
	t.Run("without optional components", func(t *testing.T) {
		_, router := openServer(t)
		do(t, router, http.MethodPost, "/vincular", `{"cliente":"tv"}`, nil)

		w := do(t, router, http.MethodGet, "/stats", "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		got := decodeBody[SystemMetrics](t, w)
		if got.Version != "test" || got.PID != os.Getpid() {
			t.Errorf("version=%q pid=%d", got.Version, got.PID)
		}
		if got.State.Seq != 1 || got.State.RegisteredClients != 1 || got.State.LastBy != "tv" {
			t.Errorf("state = %+v, want seq 1, 1 client, last_by tv", got.State)
		}
		if got.MQTT != nil || got.Database != nil {
			t.Errorf("optional sections should be omitted, got mqtt=%v db=%v", got.MQTT, got.Database)
		}
	})

	t.Run("with device sync", func(t *testing.T) {
		deps := testDeps(auth.Gate{})
		deps.Sync = fakeSync{m: devicesync.Metrics{Connected: true, Published: 7}}
		_, router := testServer(t, deps)

		got := decodeBody[SystemMetrics](t, do(t, router, http.MethodGet, "/stats", "", nil))
		if got.MQTT == nil || !got.MQTT.Connected || got.MQTT.Published != 7 {
			t.Errorf("mqtt = %+v, want connected with 7 published", got.MQTT)
		}
	})

	t.Run("with telemetry", func(t *testing.T) {
		deps := testDeps(auth.Gate{})
		deps.Telemetry = fakeTelemetry{m: influxdb.Metrics{Connected: true, Written: 4, Dropped: 1}}
		_, router := testServer(t, deps)

		got := decodeBody[SystemMetrics](t, do(t, router, http.MethodGet, "/stats", "", nil))
		want := &influxdb.Metrics{Connected: true, Written: 4, Dropped: 1}
		if diff := cmp.Diff(want, got.InfluxDB); diff != "" {
			t.Errorf("influxdb mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("with database", func(t *testing.T) {
		ctx := context.Background()
		db, err := database.Open(ctx, config.DatabaseConfig{
			Path:        filepath.Join(t.TempDir(), "statehub.db"),
			BusyTimeout: 1,
		})
		if err != nil {
			t.Fatalf("database.Open() error = %v", err)
		}
		t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}

		deps := testDeps(auth.Gate{})
		deps.DB = db
		deps.Migrations = migrations.FS
		_, router := testServer(t, deps)

		got := decodeBody[SystemMetrics](t, do(t, router, http.MethodGet, "/stats", "", nil))
		if got.Database == nil || got.Database.Schema == nil {
			t.Fatalf("database = %+v, want schema section", got.Database)
		}
		want := &SchemaMetrics{Version: "20261001_090000", Applied: 1, Pending: []string{}}
		if diff := cmp.Diff(want, got.Database.Schema); diff != "" {
			t.Errorf("schema mismatch (-want +got):\n%s", diff)
		}
	})
}

type fakeAuditRepo struct {
	mu     sync.Mutex
	filter audit.Filter
	err    error
}

func (f *fakeAuditRepo) Create(context.Context, *audit.Entry) error { return nil }

func (f *fakeAuditRepo) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return &audit.ListResult{
		Entries: []audit.Entry{{ID: "1", Seq: 3, Action: state.ActionPatch, Fields: []string{"color"}, Actor: "tv"}},
		Total:   1,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func TestListAudit(t *testing.T) {
	repo := &fakeAuditRepo{}
	deps := testDeps(auth.NewGate(true, testAPIKey))
	deps.Audit = repo
	_, router := testServer(t, deps)
	key := map[string]string{auth.HeaderAPIKey: testAPIKey}

	if w := do(t, router, http.MethodGet, "/audit", "", nil); w.Code != http.StatusForbidden {
		t.Errorf("without key status = %d, want 403", w.Code)
	}

	w := do(t, router, http.MethodGet, "/audit?action=patch&actor=tv&since=2026-01-02T03:04:05Z&limit=10&offset=5", "", key)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	want := audit.Filter{
		Action: "patch",
		Actor:  "tv",
		Since:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Limit:  10,
		Offset: 5,
	}
	repo.mu.Lock()
	got := repo.filter
	repo.mu.Unlock()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("filter mismatch (-want +got):\n%s", diff)
	}
	if res := decodeBody[audit.ListResult](t, w); res.Total != 1 || len(res.Entries) != 1 {
		t.Errorf("result = %+v, want one entry", res)
	}

	if w := do(t, router, http.MethodGet, "/audit?since=yesterday", "", key); w.Code != http.StatusBadRequest {
		t.Errorf("bad since status = %d, want 400", w.Code)
	}

	repo.err = io.ErrUnexpectedEOF
	if w := do(t, router, http.MethodGet, "/audit", "", key); w.Code != http.StatusInternalServerError {
		t.Errorf("repo failure status = %d, want 500", w.Code)
	}
}

func TestListAudit_NotConfigured(t *testing.T) {
	_, router := openServer(t)

	w := do(t, router, http.MethodGet, "/audit", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// ─── WebSocket Hub ─────────────────────────────────────────────────

func testHub() *Hub {
	return NewHub(config.WebSocketConfig{}, testLogger())
}

func TestHub_ObserveReachesSubscribed(t *testing.T) {
	hub := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	subscribed := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelStateChanged: {}},
	}
	other := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{},
	}
	hub.Register(subscribed)
	hub.Register(other)

	hub.Observe(state.Change{Seq: 4, Action: state.ActionPatch, Fields: []string{"color"}, By: "tv"})

	select {
	case msg := <-subscribed.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != ChannelStateChanged {
			t.Errorf("got %s/%s, want event/%s", wsMsg.Type, wsMsg.EventType, ChannelStateChanged)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}

	select {
	case <-other.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := testHub()

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client) // second call must not double-close
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

func TestNewHub_Defaults(t *testing.T) {
	hub := testHub()
	if hub.cfg.PingInterval <= 0 || hub.cfg.PongTimeout <= 0 || hub.cfg.MaxMessageSize <= 0 {
		t.Errorf("zero settings not defaulted: %+v", hub.cfg)
	}
}

// ─── Live server ───────────────────────────────────────────────────

// startServer runs a server on an ephemeral port.
func startServer(t *testing.T, deps Deps) (*Server, string) {
	t.Helper()

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	return srv, srv.Addr()
}

type wsEvent struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

func dialWebSocket(t *testing.T, addr string) *websocket.Conn {
	t.Helper()

	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", http.Header{HeaderClient: {"tv"}})
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) wsEvent {
	t.Helper()

	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev wsEvent
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("read websocket message: %v", err)
	}
	return ev
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	srv, err := New(testDeps(auth.Gate{}))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck before Start should fail")
	}
	if srv.Addr() != "" {
		t.Errorf("Addr before Start = %q, want empty", srv.Addr())
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck after Start: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestWebSocket_SnapshotThenChanges(t *testing.T) {
	srv, addr := startServer(t, testDeps(auth.Gate{}))
	ws := dialWebSocket(t, addr)

	snap := readEvent(t, ws)
	if snap.Type != WSTypeEvent || snap.EventType != ChannelStateSnapshot {
		t.Fatalf("first message = %s/%s, want event/%s", snap.Type, snap.EventType, ChannelStateSnapshot)
	}
	var rec stateResponse
	if err := json.Unmarshal(snap.Payload, &rec); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if diff := cmp.Diff(srv.store.Get(), rec.Record); diff != "" {
		t.Errorf("snapshot mismatch (-store +snapshot):\n%s", diff)
	}

	waitFor(t, "hub registration", func() bool { return srv.hub.ClientCount() == 1 })

	resp, err := http.Post("http://"+addr+"/estado", "application/json", strings.NewReader(`{"volumen": 30}`))
	if err != nil {
		t.Fatalf("POST /estado: %v", err)
	}
	resp.Body.Close()

	ev := readEvent(t, ws)
	if ev.EventType != ChannelStateChanged {
		t.Fatalf("event_type = %q, want %q", ev.EventType, ChannelStateChanged)
	}
	var change state.Change
	if err := json.Unmarshal(ev.Payload, &change); err != nil {
		t.Fatalf("decode change: %v", err)
	}
	if change.Action != state.ActionPatch || change.Record.Volume != 30 {
		t.Errorf("change = %+v, want patch with volumen 30", change)
	}
	if diff := cmp.Diff([]string{state.FieldVolume}, change.Fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestWebSocket_PingAndUnsubscribe(t *testing.T) {
	srv, addr := startServer(t, testDeps(auth.Gate{}))
	ws := dialWebSocket(t, addr)
	readEvent(t, ws) // snapshot

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if ev := readEvent(t, ws); ev.Type != WSTypePong || ev.ID != "p1" {
		t.Errorf("got %s/%s, want pong/p1", ev.Type, ev.ID)
	}

	if err := ws.WriteJSON(WSMessage{Type: "shout", ID: "x"}); err != nil {
		t.Fatalf("write unknown: %v", err)
	}
	if ev := readEvent(t, ws); ev.Type != WSTypeError {
		t.Errorf("type = %s, want error", ev.Type)
	}

	unsub := WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "u1",
		Payload: WSSubscribePayload{Channels: []string{ChannelStateChanged}},
	}
	if err := ws.WriteJSON(unsub); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	if ev := readEvent(t, ws); ev.Type != WSTypeResponse || ev.ID != "u1" {
		t.Fatalf("got %s/%s, want response/u1", ev.Type, ev.ID)
	}

	srv.store.Apply(state.Patch{state.FieldColor: state.String("red")}, "test") //nolint:errcheck // valid patch

	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, msg, err := ws.ReadMessage(); err == nil {
		t.Errorf("unsubscribed client received %s", msg)
	}
}
