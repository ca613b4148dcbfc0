package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/profileswitch/internal/backend"
	"github.com/ent0n29/profileswitch/internal/combat"
	"github.com/ent0n29/profileswitch/internal/config"
	"github.com/ent0n29/profileswitch/internal/host"
	"github.com/ent0n29/profileswitch/internal/notify"
	"github.com/ent0n29/profileswitch/internal/policy"
	"github.com/ent0n29/profileswitch/internal/profiles"
	"github.com/ent0n29/profileswitch/internal/registry"
	"github.com/ent0n29/profileswitch/internal/store"
	"github.com/ent0n29/profileswitch/internal/switching"
)

type testEnv struct {
	ts     *httptest.Server
	host   *host.MemoryHost
	combat *combat.Tracker
}

func newTestEnv(t *testing.T, switchCfg switching.Config) *testEnv {
	t.Helper()
	ctx := context.Background()
	st, err := store.New(ctx, backend.NewInMemoryData().Opener(), store.Config{RetryBaseDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	bus := notify.NewWatermillBus(zerolog.Nop())
	reg := registry.New()
	tracker := combat.NewTracker(10*time.Second, nil)
	mh := host.NewMemoryHost()

	coord, err := switching.New(switchCfg, switching.Deps{
		Store:    st,
		Registry: reg,
		Combat:   tracker,
		Bus:      bus,
		Host:     mh,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("switching.New() error = %v", err)
	}
	svc, err := profiles.New(profiles.Config{}, profiles.Deps{
		Store:       st,
		Registry:    reg,
		Combat:      tracker,
		Coordinator: coord,
		Gate:        policy.NewStaticGate(3),
		Bus:         bus,
		Host:        mh,
		Logger:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("profiles.New() error = %v", err)
	}

	srv := New(config.Config{StorageBackend: "memory"}, svc, mh, bus, nil, zerolog.Nop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		_ = bus.Close()
		_ = st.Close(ctx)
	})
	return &testEnv{ts: ts, host: mh, combat: tracker}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest(%s %s) error = %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer res.Body.Close()
	var payload map[string]any
	_ = json.NewDecoder(res.Body).Decode(&payload)
	return res.StatusCode, payload
}

func TestProfileLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, switching.Config{})

	status, body := env.do(t, http.MethodPost, "/v1/owners/o1/load", nil)
	if status != http.StatusOK {
		t.Fatalf("load status = %d, want %d (%v)", status, http.StatusOK, body)
	}
	if body["active"] != "default" {
		t.Fatalf("active = %v, want default", body["active"])
	}

	status, _ = env.do(t, http.MethodPost, "/v1/owners/o1/profiles", map[string]string{"name": "pvp"})
	if status != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", status, http.StatusCreated)
	}
	status, body = env.do(t, http.MethodPost, "/v1/owners/o1/profiles", map[string]string{"name": "pvp"})
	if status != http.StatusConflict || body["code"] != "duplicate_profile" {
		t.Fatalf("duplicate create = %d %v, want 409 duplicate_profile", status, body)
	}
	status, body = env.do(t, http.MethodPost, "/v1/owners/o1/profiles", map[string]string{"name": "bad name"})
	if status != http.StatusBadRequest {
		t.Fatalf("invalid name status = %d, want 400 (%v)", status, body)
	}

	status, body = env.do(t, http.MethodPost, "/v1/owners/o1/switch", map[string]any{"profile": "pvp", "wait": true})
	if status != http.StatusOK || body["state"] != "committed" {
		t.Fatalf("switch = %d %v, want 200 committed", status, body)
	}

	status, body = env.do(t, http.MethodGet, "/v1/owners/o1/active", nil)
	if status != http.StatusOK || body["active"] != "pvp" {
		t.Fatalf("active = %d %v, want pvp", status, body)
	}

	status, body = env.do(t, http.MethodDelete, "/v1/owners/o1/profiles/pvp", nil)
	if status != http.StatusConflict || body["code"] != "profile_protected" {
		t.Fatalf("delete active = %d %v, want 409 profile_protected", status, body)
	}

	status, body = env.do(t, http.MethodPost, "/v1/owners/o1/switch", map[string]any{"profile": "missing"})
	if status != http.StatusNotFound {
		t.Fatalf("switch to missing = %d %v, want 404", status, body)
	}

	status, _ = env.do(t, http.MethodPost, "/v1/owners/o1/unload", nil)
	if status != http.StatusOK {
		t.Fatalf("unload status = %d, want 200", status)
	}
	status, body = env.do(t, http.MethodGet, "/v1/owners/o1/profiles", nil)
	if status != http.StatusNotFound || body["code"] != "owner_not_loaded" {
		t.Fatalf("list after unload = %d %v, want 404 owner_not_loaded", status, body)
	}
}

func TestSwitchInCombatIsLocked(t *testing.T) {
	env := newTestEnv(t, switching.Config{CancelInCombat: true})
	env.do(t, http.MethodPost, "/v1/owners/o1/load", nil)
	env.do(t, http.MethodPost, "/v1/owners/o1/profiles", map[string]string{"name": "pvp"})

	status, _ := env.do(t, http.MethodPost, "/v1/owners/o1/signals", map[string]any{
		"type": "signal_combat_hit", "attacker_id": "o2", "victim_id": "o1",
	})
	if status != http.StatusOK {
		t.Fatalf("combat signal status = %d, want 200", status)
	}

	status, body := env.do(t, http.MethodPost, "/v1/owners/o1/switch", map[string]any{"profile": "pvp"})
	if status != http.StatusLocked || body["code"] != "in_combat" {
		t.Fatalf("switch in combat = %d %v, want 423 in_combat", status, body)
	}

	_, body = env.do(t, http.MethodGet, "/v1/owners/o1/status", nil)
	if body["in_combat"] != true {
		t.Fatalf("status in_combat = %v, want true", body["in_combat"])
	}
	if secs, _ := body["combat_remaining_seconds"].(float64); secs < 1 {
		t.Fatalf("combat_remaining_seconds = %v, want >= 1", body["combat_remaining_seconds"])
	}
}

func TestMoveSignalCancelsWarmup(t *testing.T) {
	env := newTestEnv(t, switching.Config{WarmupTicks: 5, TickInterval: time.Minute, CancelOnMove: true})
	env.do(t, http.MethodPost, "/v1/owners/o1/load", nil)
	env.do(t, http.MethodPost, "/v1/owners/o1/profiles", map[string]string{"name": "pvp"})
	env.host.MoveTo("o1", host.Position{X: 0.5, Y: 64, Z: 0.5})

	status, body := env.do(t, http.MethodPost, "/v1/owners/o1/switch", map[string]any{"profile": "pvp"})
	if status != http.StatusAccepted || body["state"] != "warmup" {
		t.Fatalf("switch = %d %v, want 202 warmup", status, body)
	}

	status, body = env.do(t, http.MethodPost, "/v1/owners/o1/signals", map[string]any{
		"type": "signal_move", "to": map[string]float64{"x": 0.9, "y": 64, "z": 0.1},
	})
	if status != http.StatusOK || body["cancelled"] == true {
		t.Fatalf("same-block move = %d %v, want no cancel", status, body)
	}

	status, body = env.do(t, http.MethodPost, "/v1/owners/o1/signals", map[string]any{
		"type": "signal_move", "to": map[string]float64{"x": 3, "y": 64, "z": 0.1},
	})
	if status != http.StatusOK || body["cancelled"] != true {
		t.Fatalf("move = %d %v, want cancelled", status, body)
	}

	_, body = env.do(t, http.MethodGet, "/v1/owners/o1/status", nil)
	if body["switching"] != false || body["active"] != "default" {
		t.Fatalf("status after cancel = %v", body)
	}
}

func TestEventsWebsocketDrivesSwitch(t *testing.T) {
	env := newTestEnv(t, switching.Config{})
	env.do(t, http.MethodPost, "/v1/owners/o1/load", nil)
	env.do(t, http.MethodPost, "/v1/owners/o1/profiles", map[string]string{"name": "pvp"})

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/events/ws?owner_id=o1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "nope"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"type": "switch_request", "owner_id": "o1", "profile": "pvp"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var sawError, sawAck, sawCommit bool
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for !(sawError && sawAck && sawCommit) {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() error = %v (error=%v ack=%v commit=%v)", err, sawError, sawAck, sawCommit)
		}
		switch msg["type"] {
		case "error_event":
			sawError = true
		case "ack":
			id, _ := msg["request_id"].(string)
			sawAck = id != ""
		case "profile_event":
			ev, _ := msg["event"].(map[string]any)
			if ev["type"] == string(notify.EventSwitchCommitted) {
				sawCommit = true
			}
		}
	}
}

func TestHealthAndAdminRoutes(t *testing.T) {
	env := newTestEnv(t, switching.Config{})

	status, body := env.do(t, http.MethodGet, "/healthz", nil)
	if status != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", status, body)
	}
	status, body = env.do(t, http.MethodGet, "/v1/admin/store-stats", nil)
	if status != http.StatusOK {
		t.Fatalf("store-stats status = %d", status)
	}
	if _, ok := body["hit_rate_pct"]; !ok {
		t.Fatalf("store-stats missing hit_rate_pct: %v", body)
	}
	status, _ = env.do(t, http.MethodGet, "/v1/perf/latency", nil)
	if status != http.StatusOK {
		t.Fatalf("perf status = %d", status)
	}
}

func TestWithOwnerFillsMissingOwner(t *testing.T) {
	got := withOwner([]byte(`{"type":"signal_damage"}`), "o9")
	var fields map[string]any
	if err := json.Unmarshal(got, &fields); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if fields["owner_id"] != "o9" {
		t.Fatalf("owner_id = %v, want o9", fields["owner_id"])
	}

	kept := withOwner([]byte(`{"type":"signal_damage","owner_id":"o1"}`), "o9")
	if !strings.Contains(string(kept), `"o1"`) {
		t.Fatalf("withOwner overwrote explicit owner: %s", kept)
	}
}
