package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dbehnke/dvbs2-tablegen/internal/testhelpers"
	"github.com/dbehnke/dvbs2-tablegen/pkg/artifact"
	"github.com/dbehnke/dvbs2-tablegen/pkg/batch"
	"github.com/dbehnke/dvbs2-tablegen/pkg/config"
	"github.com/dbehnke/dvbs2-tablegen/pkg/dvbs2"
	"github.com/dbehnke/dvbs2-tablegen/pkg/ldpc"
	"github.com/dbehnke/dvbs2-tablegen/pkg/logger"
	"github.com/dbehnke/dvbs2-tablegen/pkg/metrics"
)

var testKeys = []dvbs2.Key{
	{Frame: dvbs2.FrameShort, Rate: dvbs2.C1_3},
	{Frame: dvbs2.FrameShort, Rate: dvbs2.C2_5},
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Input.Dir = t.TempDir()
	cfg.Output.Dir = t.TempDir()

	for _, k := range testKeys {
		if _, err := testhelpers.WriteSyntheticTable(cfg.Input.Dir, k); err != nil {
			t.Fatalf("WriteSyntheticTable failed: %v", err)
		}
	}

	log := logger.NewTestLogger(io.Discard)
	m := metrics.New()
	store := artifact.NewStore(cfg.Output.Dir)
	runner := batch.NewRunner(batch.Options{InputDir: cfg.Input.Dir, Workers: 2}, store, log, m)

	srv := NewServer(cfg, log, runner, store, m, "test")
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode %q: %v", rec.Body.String(), err)
	}
}

func waitIdle(t *testing.T, srv *Server) compileStatus {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if st := srv.compileStatus(); !st.Compiling && st.LastRun != nil {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Batch run did not finish")
	return compileStatus{}
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := get(t, srv.Handler(), "/api/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %s", ct)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "healthy" || body["version"] != "test" {
		t.Errorf("Unexpected health response %v", body)
	}
}

func TestHandleConfigs(t *testing.T) {
	srv := newTestServer(t)
	rec := get(t, srv.Handler(), "/api/configs")

	var body struct {
		Codes   []CodeInfo `json:"codes"`
		Configs int        `json:"configs"`
	}
	decode(t, rec, &body)
	if len(body.Codes) != 21 {
		t.Errorf("Expected 21 codes, got %d", len(body.Codes))
	}
	if body.Configs != 21*4*2 {
		t.Errorf("Expected 168 configs, got %d", body.Configs)
	}
	first := body.Codes[0]
	if first.Key != (dvbs2.Key{Frame: dvbs2.FrameNormal, Rate: dvbs2.C1_4}) || first.Q != 135 {
		t.Errorf("Unexpected first code %+v", first)
	}
}

func TestHandleLDPC(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec := get(t, h, "/api/ldpc/normal/1_2")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var info CodeInfo
	decode(t, rec, &info)
	if info.Q != 90 || info.M != 32400 || info.K != 32400 || info.Groups != 90 {
		t.Errorf("Unexpected code info %+v", info)
	}
	if info.PayloadBytes == nil || *info.PayloadBytes != 4016 {
		t.Errorf("Expected payload 4016, got %v", info.PayloadBytes)
	}
	if info.Artifact == nil || info.Artifact.Valid {
		t.Errorf("Expected an invalid artifact before compiling, got %+v", info.Artifact)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/ldpc/FECFRAME_SHORT/C9_10", http.StatusNotFound},
		{"/api/ldpc/normal/7_8", http.StatusBadRequest},
		{"/api/ldpc/long/1_2", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := get(t, h, tt.path); rec.Code != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.want, rec.Code)
		}
	}
}

func TestHandleGeometry(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec := get(t, h, "/api/geometry/normal/1_2/8psk?pilots=true")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var consts artifact.Constants
	decode(t, rec, &consts)
	if consts.Geometry.PLFrameTotalLength != 21704 || consts.PayloadBytes != 4016 {
		t.Errorf("Unexpected constants %+v", consts)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/geometry/short/1_2/qpsk", http.StatusNotFound},
		{"/api/geometry/normal/1_2/qpsk?pilots=maybe", http.StatusBadRequest},
		{"/api/geometry/normal/1_2/64apsk", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := get(t, h, tt.path); rec.Code != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.want, rec.Code)
		}
	}
}

func TestHandleConstellation(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec := get(t, h, "/api/constellation/normal/3_4/16apsk")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var info ConstellationInfo
	decode(t, rec, &info)
	if len(info.Points) != 16 || len(info.Words) != 16 || len(info.Radii) != 2 {
		t.Errorf("Unexpected constellation %+v", info)
	}
	if info.Energy < 0.999 || info.Energy > 1.001 {
		t.Errorf("Expected unit energy, got %f", info.Energy)
	}

	if rec := get(t, h, "/api/constellation/normal/1_2/16apsk"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for 16APSK 1/2, got %d", rec.Code)
	}
}

func TestHandleACM(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec := get(t, h, "/api/acm/short/3_5/8psk?pilots=1")
	var body map[string]interface{}
	decode(t, rec, &body)
	if body["hex"] != "6c" {
		t.Errorf("Expected ACM byte 6c, got %v", body)
	}

	if rec := get(t, h, "/api/acm/normal/1_2/8psk"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for 8PSK 1/2, got %d", rec.Code)
	}
}

func TestCompileFlow(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	body := `{"frames":["short"],"rates":["1/3","2/5"]}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/compile", strings.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	st := waitIdle(t, srv)
	if st.LastRun.Compiled != 2 || st.LastRun.Failed != 0 {
		t.Errorf("Unexpected run summary %+v", st.LastRun)
	}
	if st.LastEvent == nil || st.LastEvent.Type != batch.EventRunFinished {
		t.Errorf("Expected last event run_finished, got %+v", st.LastEvent)
	}

	var info CodeInfo
	decode(t, get(t, h, "/api/ldpc/short/1_3"), &info)
	if info.Artifact == nil || !info.Artifact.Valid || info.Metadata == nil {
		t.Errorf("Expected a valid artifact with metadata, got %+v", info)
	}

	rec = get(t, h, "/tables/short/1_3")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	table, err := ldpc.ReadTable(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("Downloaded table does not decode: %v", err)
	}
	if table.Params.Key() != testKeys[0] {
		t.Errorf("Expected %s, got %s", testKeys[0], table.Params.Key())
	}

	rec = get(t, h, "/tables/short/1_3?format=text")
	if lines := strings.Count(rec.Body.String(), "\n"); lines != len(table.Entries) {
		t.Errorf("Expected %d text lines, got %d", len(table.Entries), lines)
	}

	if rec := get(t, h, "/tables/short/4_5"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an uncompiled table, got %d", rec.Code)
	}

	rec = get(t, h, "/metrics")
	if !strings.Contains(rec.Body.String(), `dvbs2_tablegen_tasks_total{frame="FECFRAME_SHORT",status="compiled"} 2`) {
		t.Error("Expected compiled tasks in metrics output")
	}
}

func TestCompileRejections(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/compile", strings.NewReader(`{"rates":["7/8"]}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unknown rate, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/compile", strings.NewReader(`{`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a malformed body, got %d", rec.Code)
	}

	srv.mu.Lock()
	srv.compiling = true
	srv.mu.Unlock()

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/compile", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 while a run is active, got %d", rec.Code)
	}

	srv.mu.Lock()
	srv.compiling = false
	srv.mu.Unlock()
}

func TestWebSocketProgress(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var msg WebSocketMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if msg.Type != "status" {
		t.Fatalf("Expected initial status message, got %s", msg.Type)
	}

	// Registration is asynchronous; wait until the hub knows the client.
	deadline := time.Now().Add(5 * time.Second)
	for srv.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := srv.StartCompile(context.Background(), CompileRequest{Frames: []string{"short"}, Rates: []string{"1/3"}}); err != nil {
		t.Fatalf("StartCompile failed: %v", err)
	}

	var types []string
	for {
		var ev struct {
			Type string      `json:"type"`
			Data batch.Event `json:"data"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("ReadJSON failed after %v: %v", types, err)
		}
		if ev.Type != "progress" {
			continue
		}
		types = append(types, ev.Data.Type)
		if ev.Data.Type == batch.EventRunFinished {
			break
		}
	}

	want := []string{batch.EventRunStarted, batch.EventTask, batch.EventRunFinished}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("Expected events %v, got %v", want, types)
	}
	waitIdle(t, srv)
}
