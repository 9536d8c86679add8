package inbound

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goliatone/go-relay/core"
)

func TestHTTPHandler_AcceptsAndRejects(t *testing.T) {
	gateway, sink, clock, _ := newTestGateway(t, core.InboundConfig{ToleranceSeconds: 300})
	handler := HTTPHandler(gateway, 1024)

	payload := fmt.Sprintf(`{"event":"ping","timestamp":%d,"data":{}}`, clock.Now().Unix())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/inbound", strings.NewReader(payload)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", rec.Code, rec.Body.String())
	}
	var ack InboundAck
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil || ack.Status != AckStatusReceived || ack.Event != "ping" {
		t.Fatalf("unexpected ack %s", rec.Body.String())
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected event handed off")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/inbound", strings.NewReader(`{"event":""}`)))
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), core.RelayErrorBadInput) {
		t.Fatalf("expected 400 bad input, got %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/inbound", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/inbound", strings.NewReader(strings.Repeat("x", 2048))))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}
