package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nuclearlighters/airbox/internal/config"
	"github.com/nuclearlighters/airbox/internal/database"
	"github.com/nuclearlighters/airbox/internal/firmware"
	"github.com/nuclearlighters/airbox/internal/gpio"
	"github.com/nuclearlighters/airbox/internal/middleware"
	"github.com/nuclearlighters/airbox/internal/network"
	"github.com/nuclearlighters/airbox/internal/relay"
	"github.com/nuclearlighters/airbox/internal/settings"
	"github.com/nuclearlighters/airbox/internal/system"
	"github.com/nuclearlighters/airbox/internal/web"
)

var testPins = []int{33, 25, 26, 27}

type fakeNetwork struct {
	status network.Status
}

func (f *fakeNetwork) Status() network.Status { return f.status }

type scheduled struct {
	reason string
	delay  time.Duration
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []scheduled
}

func (f *fakeScheduler) Schedule(reason string, delay time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scheduled{reason, delay})
	return len(f.calls) == 1
}

func (f *fakeScheduler) Calls() []scheduled {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scheduled(nil), f.calls...)
}

type testEnv struct {
	cfg       *config.Settings
	server    *Server
	router    http.Handler
	gpio      *gpio.Memory
	store     *settings.Store
	network   *fakeNetwork
	scheduler *fakeScheduler
	fwDir     string
}

func testConfig() *config.Settings {
	return &config.Settings{
		Version:             "test",
		RelayPins:           testPins,
		RestartDelay:        2 * time.Second,
		UpdateSettleDelay:   time.Second,
		FirmwareMaxBytes:    1 << 20,
		FeatureRelayNames:   true,
		FeatureTranslations: true,
		FeatureOTA:          true,
		FeatureCORS:         true,
		JWTExpirationHours:  1,
		StatusInterval:      20 * time.Millisecond,
	}
}

func newTestEnv(t *testing.T, mutate func(cfg *config.Settings)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	db, err := database.Open(filepath.Join(t.TempDir(), "airbox.db"))
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		cfg:       cfg,
		gpio:      gpio.NewMemory(testPins),
		store:     settings.New(db),
		network:   &fakeNetwork{status: network.Status{Mode: network.ModeAccessPoint, SSID: "AirBox", IP: "192.168.4.1", RSSI: network.InitialRSSI}},
		scheduler: &fakeScheduler{},
		fwDir:     filepath.Join(t.TempDir(), "firmware"),
	}
	env.build(t)
	return env
}

func (e *testEnv) build(t *testing.T) {
	t.Helper()
	bank, err := relay.NewBank(e.gpio, testPins)
	if err != nil {
		t.Fatalf("NewBank() error = %v", err)
	}
	updater := firmware.NewFileUpdater(e.fwDir, e.cfg.FirmwareMaxBytes)
	e.server = NewServer(e.cfg, Deps{
		Relays:   bank,
		Names:    relay.LoadNames(context.Background(), e.store),
		Store:    e.store,
		Network:  e.network,
		Restarts: e.scheduler,
		Catalogs: web.LoadCatalogs(web.CatalogFS("")),
		Firmware: firmware.NewSink(updater),
		Images:   updater,
		DataDir:  e.fwDir,
	})
	e.router = e.server.Router()
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestGetState(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	got := decodeMap(t, rec)
	for _, k := range []string{"in1", "in2", "in3", "in4"} {
		if got[k] != float64(0) {
			t.Errorf("%s = %v, want 0", k, got[k])
		}
	}
}

func TestRelayControl(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantKey    string
		wantValue  float64
	}{
		{"switch on", "relay=1&state=1", http.StatusOK, "in2", 1},
		{"non-zero is on", "relay=3&state=7", http.StatusOK, "in4", 1},
		{"switch off", "relay=0&state=0", http.StatusOK, "in1", 0},
		{"missing state", "relay=1", http.StatusBadRequest, "", 0},
		{"missing relay", "state=1", http.StatusBadRequest, "", 0},
		{"index too high", "relay=4&state=1", http.StatusBadRequest, "", 0},
		{"negative index", "relay=-1&state=1", http.StatusBadRequest, "", 0},
		{"non-numeric relay", "relay=abc&state=1", http.StatusBadRequest, "", 0},
		{"non-numeric state", "relay=1&state=on", http.StatusBadRequest, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			rec := env.do(http.MethodGet, "/relay/control?"+tt.query, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			got := decodeMap(t, rec)
			if tt.wantStatus != http.StatusOK {
				if got["error"] != msgInvalidParameters {
					t.Errorf("body = %v, want Invalid parameters", got)
				}
				return
			}
			if got[tt.wantKey] != tt.wantValue {
				t.Errorf("%s = %v, want %v", tt.wantKey, got[tt.wantKey], tt.wantValue)
			}
		})
	}
}

func TestRelayControlDrivesPinLow(t *testing.T) {
	env := newTestEnv(t, nil)

	env.do(http.MethodGet, "/relay/control?relay=2&state=1", "")
	if high, _ := env.gpio.Level(26); high {
		t.Error("pin 26 should be low when relay 2 is on")
	}
	if high, _ := env.gpio.Level(33); !high {
		t.Error("pin 33 should stay high")
	}
}

func TestRelayControlDriverFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.gpio.FailLine(25, errors.New("line busy"))

	rec := env.do(http.MethodGet, "/relay/control?relay=1&state=1", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	state := decodeMap(t, env.do(http.MethodGet, "/state", ""))
	if state["in2"] != float64(0) {
		t.Errorf("in2 = %v after failed write, want 0", state["in2"])
	}
}

func TestRelayMulti(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		want       map[string]float64
	}{
		{"two pairs", "relay=0,2&state=1,1", http.StatusOK, map[string]float64{"in1": 1, "in2": 0, "in3": 1, "in4": 0}},
		{"shorter states", "relay=0,1,2&state=1", http.StatusOK, map[string]float64{"in1": 1, "in2": 0, "in3": 0}},
		{"invalid index skipped", "relay=9,1&state=1,1", http.StatusOK, map[string]float64{"in2": 1}},
		{"bad state skipped", "relay=0,3&state=x,1", http.StatusOK, map[string]float64{"in1": 0, "in4": 1}},
		{"empty lists", "relay=&state=", http.StatusOK, map[string]float64{"in1": 0}},
		{"missing state", "relay=0", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			rec := env.do(http.MethodGet, "/relay/multi?"+tt.query, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			got := decodeMap(t, rec)
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestRelaySet(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantOn     bool
	}{
		{"valid", `{"relay":1,"state":1}`, http.StatusOK, true},
		{"invalid json", `{"relay":`, http.StatusBadRequest, false},
		{"missing state", `{"relay":1}`, http.StatusBadRequest, false},
		{"out of range", `{"relay":4,"state":1}`, http.StatusBadRequest, false},
		{"string state", `{"relay":1,"state":"on"}`, http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			rec := env.do(http.MethodPost, "/relay/set", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			got := decodeMap(t, rec)
			wantSuccess := float64(0)
			if tt.wantStatus == http.StatusOK {
				wantSuccess = 1
			}
			if got["success"] != wantSuccess {
				t.Errorf("success = %v, want %v", got["success"], wantSuccess)
			}
			state := decodeMap(t, env.do(http.MethodGet, "/state", ""))
			if (state["in2"] == float64(1)) != tt.wantOn {
				t.Errorf("in2 = %v, want on=%v", state["in2"], tt.wantOn)
			}
		})
	}
}

func TestRelaySetWrongMethod(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/relay/set", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestRelayNames(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/relay/names", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}
	var resp struct {
		Names []string `json:"names"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if strings.Join(resp.Names, "|") != "Libre|Pompe|Valve NF|Valve NO" {
		t.Errorf("default names = %v", resp.Names)
	}

	rec = env.do(http.MethodPost, "/relay/names", `{"names":["Light",5,null,"Pump B","Extra"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeMap(t, rec); got["success"] != float64(1) {
		t.Errorf("POST body = %v", got)
	}

	rec = env.do(http.MethodGet, "/relay/names", "")
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if strings.Join(resp.Names, "|") != "Light|Pompe|Valve NF|Pump B" {
		t.Errorf("names after update = %v", resp.Names)
	}

	stored, err := env.store.LoadRelayNames(context.Background(), relay.DefaultNames[:])
	if err != nil {
		t.Fatalf("LoadRelayNames() error = %v", err)
	}
	if stored[0] != "Light" || stored[3] != "Pump B" {
		t.Errorf("persisted names = %v", stored)
	}
}

func TestRelayNamesRejects(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
	}{
		{"no names array", http.MethodPost, `{"labels":["a"]}`},
		{"names not an array", http.MethodPost, `{"names":"a"}`},
		{"invalid json", http.MethodPost, `not json`},
		{"put", http.MethodPut, `{"names":["a"]}`},
		{"delete", http.MethodDelete, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			rec := env.do(tt.method, "/relay/names", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if got := decodeMap(t, rec); got["success"] != float64(0) {
				t.Errorf("body = %v, want success 0", got)
			}
		})
	}
}

func TestFeatureToggles(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Settings) {
		cfg.FeatureRelayNames = false
		cfg.FeatureTranslations = false
		cfg.FeatureOTA = false
	})

	for _, target := range []string{"/relay/names", "/api/translations?lang=fr", "/firmware/status"} {
		if rec := env.do(http.MethodGet, target, ""); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", target, rec.Code)
		}
	}
	if rec := env.do(http.MethodPost, "/firmware/upload", ""); rec.Code != http.StatusNotFound {
		t.Errorf("POST /firmware/upload = %d, want 404", rec.Code)
	}
}

func TestWiFiStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	env.network.status = network.Status{Mode: network.ModeStation, Connected: true, SSID: "home", IP: "10.0.0.7", RSSI: -61}

	rec := env.do(http.MethodGet, "/wifi/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeMap(t, rec)
	if got["connected"] != float64(1) || got["ssid"] != "home" || got["ip"] != "10.0.0.7" || got["rssi"] != float64(-61) {
		t.Errorf("body = %v", got)
	}
	if _, ok := got["mode"]; ok {
		t.Error("wifi status should keep the four-field shape")
	}
}

func TestWiFiConfig(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/wifi/config", `{"ssid":"home net","password":"pä ss"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeMap(t, rec); got["success"] != float64(1) {
		t.Errorf("body = %v", got)
	}

	creds, err := env.store.LoadCredentials(context.Background())
	if err != nil {
		t.Fatalf("LoadCredentials() error = %v", err)
	}
	if creds.SSID != "home net" || creds.Password != "pä ss" {
		t.Errorf("stored credentials = %+v", creds)
	}

	calls := env.scheduler.Calls()
	if len(calls) != 1 || calls[0].delay != 2*time.Second {
		t.Errorf("restart calls = %+v, want one after 2s", calls)
	}
}

func TestWiFiConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing password", `{"ssid":"home"}`},
		{"missing ssid", `{"password":"x"}`},
		{"null ssid", `{"ssid":null,"password":"x"}`},
		{"non-string", `{"ssid":1,"password":"x"}`},
		{"invalid json", `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			rec := env.do(http.MethodPost, "/wifi/config", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if got := decodeMap(t, rec); got["success"] != float64(0) {
				t.Errorf("body = %v", got)
			}
			if calls := env.scheduler.Calls(); len(calls) != 0 {
				t.Errorf("restart scheduled on rejected config: %+v", calls)
			}
		})
	}
}

func TestWiFiConfigStoresEmptyFieldsVerbatim(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		ssid     string
		password string
	}{
		{"empty password", `{"ssid":"cafe","password":""}`, "cafe", ""},
		{"empty ssid", `{"ssid":"","password":"x"}`, "", "x"},
		{"both empty", `{"ssid":"","password":""}`, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			ctx := context.Background()
			if err := env.store.SaveCredentials(ctx, settings.Credentials{SSID: "old", Password: "old"}); err != nil {
				t.Fatalf("SaveCredentials() error = %v", err)
			}

			rec := env.do(http.MethodPost, "/wifi/config", tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			creds, err := env.store.LoadCredentials(ctx)
			if err != nil {
				t.Fatalf("LoadCredentials() error = %v", err)
			}
			if creds.SSID != tt.ssid || creds.Password != tt.password {
				t.Errorf("stored credentials = %+v", creds)
			}
			if creds.Present() {
				t.Error("empty credentials reported present")
			}
			if calls := env.scheduler.Calls(); len(calls) != 1 {
				t.Errorf("restart calls = %+v, want one", calls)
			}
		})
	}
}

func TestWiFiConfigStorageUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store = settings.New(nil)
	env.build(t)

	rec := env.do(http.MethodPost, "/wifi/config", `{"ssid":"home","password":"secret"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if calls := env.scheduler.Calls(); len(calls) != 0 {
		t.Errorf("restart scheduled without saved credentials: %+v", calls)
	}
}

func TestWiFiReset(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	if err := env.store.SaveCredentials(ctx, settings.Credentials{SSID: "home", Password: "secret"}); err != nil {
		t.Fatalf("SaveCredentials() error = %v", err)
	}

	rec := env.do(http.MethodPost, "/wifi/reset", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	creds, err := env.store.LoadCredentials(ctx)
	if err != nil {
		t.Fatalf("LoadCredentials() error = %v", err)
	}
	if creds.Present() {
		t.Errorf("credentials still present: %+v", creds)
	}
	if calls := env.scheduler.Calls(); len(calls) != 1 || calls[0].reason != reasonWiFiReset {
		t.Errorf("restart calls = %+v", calls)
	}
}

func TestTranslations(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		query      string
		wantStatus int
	}{
		{"lang=fr", http.StatusOK},
		{"lang=en", http.StatusOK},
		{"lang=de", http.StatusNotFound},
		{"", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := env.do(http.MethodGet, "/api/translations?"+tt.query, "")
		if rec.Code != tt.wantStatus {
			t.Errorf("%q: status = %d, want %d", tt.query, rec.Code, tt.wantStatus)
			continue
		}
		if tt.wantStatus == http.StatusNotFound && strings.TrimSpace(rec.Body.String()) != "{}" {
			t.Errorf("%q: body = %q, want {}", tt.query, rec.Body.String())
		}
		if tt.wantStatus == http.StatusOK && len(decodeMap(t, rec)) == 0 {
			t.Errorf("%q: empty catalog", tt.query)
		}
	}
}

func uploadRequest(t *testing.T, payload []byte, sha string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("note", "ignored")
	fw, err := mw.CreateFormFile("firmware", "airbox.bin")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	fw.Write(payload)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/firmware/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if sha != "" {
		req.Header.Set(HeaderFirmwareSHA256, sha)
	}
	return req
}

func TestUploadFirmware(t *testing.T) {
	env := newTestEnv(t, nil)
	payload := bytes.Repeat([]byte("firmware-"), 2000)
	sum := sha256.Sum256(payload)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, uploadRequest(t, payload, hex.EncodeToString(sum[:])))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeMap(t, rec); got["success"] != float64(1) {
		t.Errorf("body = %v", got)
	}

	data, err := os.ReadFile(filepath.Join(env.fwDir, firmware.NextFile))
	if err != nil {
		t.Fatalf("read committed image: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("committed image has %d bytes, want %d", len(data), len(payload))
	}

	calls := env.scheduler.Calls()
	if len(calls) != 1 || calls[0].reason != reasonFirmware || calls[0].delay != time.Second {
		t.Errorf("restart calls = %+v", calls)
	}

	status := decodeMap(t, env.do(http.MethodGet, "/firmware/status", ""))
	next, ok := status["next"].(map[string]interface{})
	if !ok || next["size"] != float64(len(payload)) {
		t.Errorf("firmware status = %v", status)
	}
}

func TestUploadFirmwareFailures(t *testing.T) {
	payload := []byte("0123456789abcdef")

	tests := []struct {
		name       string
		maxBytes   int64
		sha        string
		wantStatus int
	}{
		{"checksum mismatch", 1 << 20, strings.Repeat("0", 64), http.StatusInternalServerError},
		{"image over capacity", 8, "", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(cfg *config.Settings) { cfg.FirmwareMaxBytes = tt.maxBytes })

			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, uploadRequest(t, payload, tt.sha))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := decodeMap(t, rec); got["success"] != float64(0) {
				t.Errorf("body = %v", got)
			}
			if _, err := os.Stat(filepath.Join(env.fwDir, firmware.NextFile)); !os.IsNotExist(err) {
				t.Errorf("next image exists after failed upload: %v", err)
			}
			if calls := env.scheduler.Calls(); len(calls) != 0 {
				t.Errorf("restart scheduled after failed upload: %+v", calls)
			}
		})
	}
}

func TestUploadFirmwareNotMultipart(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodPost, "/firmware/upload", `{"image":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodOptions, "/relay/set", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing Access-Control-Allow-Origin")
	}

	rec = env.do(http.MethodGet, "/state", "")
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS header missing on regular response")
	}

	off := newTestEnv(t, func(cfg *config.Settings) { cfg.FeatureCORS = false })
	rec = off.do(http.MethodOptions, "/relay/set", "")
	if rec.Code == http.StatusNoContent {
		t.Error("preflight answered with CORS disabled")
	}
}

func TestAuthOnMutatingRoutes(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Settings) { cfg.JWTSecret = "test-secret" })

	if rec := env.do(http.MethodGet, "/state", ""); rec.Code != http.StatusOK {
		t.Errorf("GET /state = %d, want 200 without token", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/relay/control?relay=0&state=1", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("GET /relay/control = %d, want 401", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/relay/set", `{"relay":0,"state":1}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("POST /relay/set = %d, want 401", rec.Code)
	}

	tests := []struct {
		role       string
		wantStatus int
	}{
		{middleware.RoleOperator, http.StatusOK},
		{middleware.RoleAdmin, http.StatusOK},
		{middleware.RoleViewer, http.StatusForbidden},
	}
	auth := middleware.NewTokenAuth(env.cfg.JWTSecret, env.cfg.TokenTTL())
	for _, tt := range tests {
		token, err := auth.Issue("tester", tt.role)
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		req := httptest.NewRequest(http.MethodPost, "/relay/set", strings.NewReader(`{"relay":0,"state":1}`))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		if rec.Code != tt.wantStatus {
			t.Errorf("role %s: status = %d, want %d", tt.role, rec.Code, tt.wantStatus)
		}
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeMap(t, rec)
	if got["status"] != "healthy" || got["mode"] != string(network.ModeAccessPoint) {
		t.Errorf("body = %v", got)
	}

	env.store = settings.New(nil)
	env.build(t)
	rec = env.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status without storage = %d, want 503", rec.Code)
	}
}

type fakeHAL struct{ err error }

func (f fakeHAL) Health(context.Context) error { return f.err }

func TestHealthWithHAL(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantHAL    bool
	}{
		{"reachable", nil, http.StatusOK, true},
		{"down", errors.New("connection refused"), http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.server.deps.HAL = fakeHAL{err: tt.err}
			env.router = env.server.Router()

			rec := env.do(http.MethodGet, "/health", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := decodeMap(t, rec); got["hal"] != tt.wantHAL {
				t.Errorf("hal = %v, want %v", got["hal"], tt.wantHAL)
			}
		})
	}
}

func TestSystemPins(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(http.MethodGet, "/relay/control?relay=0&state=1", "")

	var resp struct {
		ActiveLow bool              `json:"active_low"`
		Pins      []relay.PinLevel `json:"pins"`
	}
	rec := env.do(http.MethodGet, "/system/pins", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.ActiveLow || len(resp.Pins) != relay.Count {
		t.Fatalf("body = %+v", resp)
	}
	if resp.Pins[0].Pin != 33 || resp.Pins[0].High {
		t.Errorf("relay 0 = %+v, want pin 33 low", resp.Pins[0])
	}
}

func TestSystemInfo(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/system/info", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var info system.Info
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Board.Architecture == "" || info.Daemon.GoVersion == "" {
		t.Errorf("info = %+v", info)
	}
}

func TestIndex(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestRequestsAreSerialized(t *testing.T) {
	env := newTestEnv(t, nil)

	if err := env.server.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	done := make(chan int, 1)
	go func() {
		done <- env.do(http.MethodGet, "/state", "").Code
	}()

	select {
	case <-done:
		t.Fatal("request ran while another held the handler loop")
	case <-time.After(50 * time.Millisecond):
	}

	env.server.sem.Release(1)
	select {
	case code := <-done:
		if code != http.StatusOK {
			t.Errorf("status = %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request did not run after release")
	}
}

func TestStatusFeed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.network.status = network.Status{Mode: network.ModeStation, Connected: true, SSID: "home", IP: "10.0.0.7", RSSI: -50}

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	for i := 0; i < 2; i++ {
		var msg struct {
			Type  string         `json:"type"`
			State map[string]int `json:"state"`
			WiFi  network.Status `json:"wifi"`
		}
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() #%d error = %v", i, err)
		}
		if msg.Type != "status" || msg.WiFi.SSID != "home" || len(msg.State) != relay.Count {
			t.Errorf("message #%d = %+v", i, msg)
		}
	}

	if n := env.server.Feed().Count(); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}
