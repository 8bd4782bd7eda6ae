package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"zbxrtx/internal/hub"
)

func newTestServer() (*Server, *hub.RingBuffer, *hub.SseHub) {
	ring := hub.NewRingBuffer(100, nil)
	sseHub := hub.NewSseHub(hub.SseHubOptions{})
	s := New(Options{Ring: ring, SseHub: sseHub})
	return s, ring, sseHub
}

func TestHandleEventsNegotiatesJSON(t *testing.T) {
	s, ring, _ := newTestServer()
	ring.Push(hub.Envelope{Source: hub.Source{File: "problems-x.ndjson", Family: hub.FamilyProblems}, Record: `{"a":1}`})

	req := httptest.NewRequest(http.MethodGet, "/v1/events/zabbix/", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body snapshotResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v, body=%s", err, rec.Body.String())
	}
	if body.LatestID != 1 || len(body.Items) != 1 {
		t.Fatalf("body = %+v", body)
	}
}

func TestHandleEventsNegotiatesHTML(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/v1/events/zabbix/", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "EventSource") {
		t.Fatalf("expected demo page, got %s", rec.Body.String())
	}
}

func TestHandleOpenAPI(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/v1/events/zabbix/openapi.json", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
}

func TestHandleRootRedirects(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/v1/events/zabbix/" {
		t.Fatalf("location = %q", loc)
	}
}

func TestHandleUnknownPath404(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSnapshotQueryParams(t *testing.T) {
	s, ring, _ := newTestServer()
	for i := 0; i < 5; i++ {
		ring.Push(hub.Envelope{Source: hub.Source{Family: hub.FamilyProblems}, Record: "p"})
	}
	for i := 0; i < 5; i++ {
		ring.Push(hub.Envelope{Source: hub.Source{Family: hub.FamilyHistory}, Record: "h"})
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/events/zabbix/?family=history&limit=2&sinceId=6", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body snapshotResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(body.Items))
	}
	for _, it := range body.Items {
		if it.Source.Family != hub.FamilyHistory || it.ID <= 6 {
			t.Fatalf("item = %+v violates filter", it)
		}
	}
}

func TestSnapshotInvalidFamilyRejected(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/v1/events/zabbix/?family=bogus", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestLiveStreamDeliversConnectedCommentAndFrame(t *testing.T) {
	s, ring, sseHub := newTestServer()

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events/zabbix/", nil)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content-type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || !strings.Contains(line, "connected") {
		t.Fatalf("first line = %q, err = %v", line, err)
	}

	env := ring.Push(hub.Envelope{Source: hub.Source{Family: hub.FamilyProblems}, Record: `{"a":1}`})
	sseHub.Broadcast(env)

	var got []string
	for i := 0; i < 3; i++ {
		l, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		got = append(got, l)
	}
	joined := strings.Join(got, "")
	if !strings.Contains(joined, "event: zabbix.problems") || !strings.Contains(joined, `data: {"a":1}`) {
		t.Fatalf("frame = %q", joined)
	}
}

func TestCompressMiddlewareSkipsSSE(t *testing.T) {
	s, _, _ := newTestServer()

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events/zabbix/", nil)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if enc := resp.Header.Get("Content-Encoding"); enc == "gzip" {
		t.Fatal("SSE response must not be gzip-compressed")
	}
	<-ctx.Done()
}
