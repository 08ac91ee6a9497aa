package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"yapefwd/internal/eventbus"
	"yapefwd/internal/pipeline"
	"yapefwd/internal/storage"
	"yapefwd/pkg/logx"
)

func newTestService(t *testing.T) (*Service, *storage.Store) {
	t.Helper()
	s, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	bus := eventbus.New()
	p := pipeline.New(s, s, nil, nil, bus, logx.Nop())
	svc := New(Config{}, Deps{Pipeline: p, Store: s, Bus: bus}, logx.Nop())
	return svc, s
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNotificationEndpoint(t *testing.T) {
	t.Parallel()
	svc, s := newTestService(t)
	if err := s.SetServiceEnabled(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	h := svc.routes("")

	body := map[string]any{
		"key":       "k1",
		"package":   storage.DefaultPackageName,
		"post_time": 1000,
		"extras":    map[string]any{"text": "Te han yapeado S/ 25.00 a las 10:30"},
	}
	rec := doJSON(t, h, http.MethodPost, "/v1/notifications", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var res pipeline.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Outcome != pipeline.OutcomeRecorded {
		t.Fatalf("outcome = %s", res.Outcome)
	}

	// Second delivery of the same notification is a duplicate.
	rec = doJSON(t, h, http.MethodPost, "/v1/notifications", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Outcome != pipeline.OutcomeDuplicate {
		t.Fatalf("outcome = %s, want duplicate", res.Outcome)
	}
}

func TestNotificationValidation(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	h := svc.routes("")

	rec := doJSON(t, h, http.MethodPost, "/v1/notifications", map[string]any{"package": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing key: status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/notifications", map[string]any{
		"key": "k", "package": "x", "bogus": true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/notifications", strings.NewReader("{not json"))
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: status = %d", rec2.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	h := svc.routes("sekrit")

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d", rec.Code)
	}
}

func TestEventsQuery(t *testing.T) {
	t.Parallel()
	svc, s := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.AppendEvent(ctx, storage.CapturedEvent{
			Amount: "S/ 1", Text: "t", Timestamp: time.Now().UnixMilli() + int64(i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	h := svc.routes("")

	rec := doJSON(t, h, http.MethodGet, "/v1/events?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var events []storage.CapturedEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/events?filter=custom&start=9&end=1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("inverted custom range: status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/events?filter=nope", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown filter: status = %d", rec.Code)
	}
}

func TestPackageSettingsCRUD(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	h := svc.routes("")

	rec := doJSON(t, h, http.MethodPost, "/v1/settings/packages",
		storage.WatchedPackage{Name: "Plin", PackageName: "com.plin.app"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/settings/packages", nil)
	var pkgs []storage.WatchedPackage
	if err := json.Unmarshal(rec.Body.Bytes(), &pkgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pkgs) != 2 { // seeded default + added
		t.Fatalf("len = %d, want 2", len(pkgs))
	}

	rec = doJSON(t, h, http.MethodPut, "/v1/settings/packages", map[string]any{
		"old":     "com.plin.app",
		"package": storage.WatchedPackage{Name: "Plin v2", PackageName: "com.plin.app2"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodDelete, "/v1/settings/packages?package=com.plin.app2", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/settings/packages", nil)
	pkgs = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &pkgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pkgs) != 1 || pkgs[0].PackageName != storage.DefaultPackageName {
		t.Fatalf("pkgs = %+v", pkgs)
	}
}

func TestDestinationSettingsCRUD(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	h := svc.routes("")

	rec := doJSON(t, h, http.MethodPost, "/v1/settings/destinations",
		storage.Destination{Name: "Ops", Address: "+51999888777"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/settings/destinations",
		storage.Destination{Name: "Bad", Address: "not-a-number"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid address: status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/settings/destinations", nil)
	var dests []storage.Destination
	if err := json.Unmarshal(rec.Body.Bytes(), &dests); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(dests) != 1 || dests[0].Address != "+51999888777" {
		t.Fatalf("dests = %+v", dests)
	}

	rec = doJSON(t, h, http.MethodDelete, "/v1/settings/destinations?address=%2B51999888777", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/settings/destinations", nil)
	if body := rec.Body.String(); !strings.Contains(body, "[]") {
		t.Fatalf("after delete body = %s", body)
	}
}

func TestFlagEndpoints(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	h := svc.routes("")

	rec := doJSON(t, h, http.MethodGet, "/v1/settings/enabled", nil)
	if !strings.Contains(rec.Body.String(), `"enabled":false`) {
		t.Fatalf("default enabled body = %s", rec.Body)
	}

	rec = doJSON(t, h, http.MethodPut, "/v1/settings/enabled", flagBody{Enabled: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("put: status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/settings/enabled", nil)
	if !strings.Contains(rec.Body.String(), `"enabled":true`) {
		t.Fatalf("after put body = %s", rec.Body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	h := svc.routes("")

	rec := doJSON(t, h, http.MethodGet, "/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, k := range []string{"uptime_seconds", "events", "enabled", "capture_all"} {
		if _, ok := body[k]; !ok {
			t.Fatalf("missing %q in %v", k, body)
		}
	}
}

func TestEventStream(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	srv := httptest.NewServer(svc.routes(""))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// The stream opens with one refresh event.
	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(line, "event: refresh") {
		t.Fatalf("first line = %q", line)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:8710", true},
		{"localhost:8710", true},
		{"[::1]:8710", true},
		{"0.0.0.0:8710", false},
		{":8710", false},
		{"192.168.1.5:8710", false},
		{"bad", false},
	}
	for _, tt := range tests {
		if got := isLoopbackAddr(tt.addr); got != tt.want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestServeRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	svc.cfg = Config{Addr: "0.0.0.0:0"}

	err := svc.serveOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "insecure bind") {
		t.Fatalf("err = %v, want insecure bind refusal", err)
	}
}
