package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/internal/relaytest"
	"github.com/goliatone/go-relay/queue"
)

type recordingSink struct {
	events []NormalizedEvent
	err    error
}

func (s *recordingSink) Accept(_ context.Context, event NormalizedEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func newTestGateway(t *testing.T, cfg core.InboundConfig) (*Gateway, *recordingSink, *relaytest.Clock, *relaytest.CaptureMetrics) {
	t.Helper()
	clock := relaytest.NewClock(time.Unix(1_772_366_400, 0).UTC())
	sink := &recordingSink{}
	metrics := &relaytest.CaptureMetrics{}
	gateway, err := NewGateway(cfg, sink,
		WithGatewayClock(clock.Now),
		WithGatewayTelemetry(core.NewTelemetry(nil, metrics, "relay")),
	)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gateway, sink, clock, metrics
}

func body(t *testing.T, values map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(values)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestGateway_AcceptsValidEnvelope(t *testing.T) {
	gateway, sink, clock, metrics := newTestGateway(t, core.InboundConfig{ToleranceSeconds: 300})
	raw := body(t, map[string]any{"event": "chat.message", "timestamp": clock.Now().Unix(), "data": map[string]any{"text": "hi", "n": 3}})

	ack, err := gateway.HandleInbound(context.Background(), InboundRequest{Body: raw})
	if err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	if ack.Status != AckStatusReceived || ack.Event != "chat.message" || ack.EventID == "" || !ack.ReceivedAt.Equal(clock.Now()) {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if len(sink.events) != 1 || sink.events[0].Data["n"] != int64(3) {
		t.Fatalf("expected normalized event handed off, got %+v", sink.events)
	}
	if len(metrics.Find("counter", core.MetricInboundTotal, map[string]string{"status": "received", "event": "chat.message"})) != 1 {
		t.Fatalf("expected inbound counter, got %+v", metrics.Snapshot())
	}

	again, _ := gateway.HandleInbound(context.Background(), InboundRequest{Body: raw})
	if again.EventID != ack.EventID {
		t.Fatalf("expected identical redelivery to derive the same event id")
	}
}

func TestGateway_ValidationOrderAndCodes(t *testing.T) {
	gateway, _, clock, _ := newTestGateway(t, core.InboundConfig{ToleranceSeconds: 300})
	now := clock.Now().Unix()
	cases := []struct {
		name string
		raw  string
		code string
	}{
		{"not json", `nope`, core.RelayErrorBadInput},
		{"array", `[1,2]`, core.RelayErrorBadInput},
		{"missing event", `{"timestamp":1,"data":{}}`, core.RelayErrorBadInput},
		{"blank event", `{"event":" ","timestamp":1,"data":{}}`, core.RelayErrorBadInput},
		{"bad timestamp", `{"event":"a","timestamp":"soon","data":{}}`, core.RelayErrorBadInput},
		{"fractional timestamp", `{"event":"a","timestamp":1.5,"data":{}}`, core.RelayErrorBadInput},
		{"data not object", fmt.Sprintf(`{"event":"a","timestamp":%d,"data":[]}`, now), core.RelayErrorBadInput},
		{"stale", fmt.Sprintf(`{"event":"a","timestamp":%d,"data":{}}`, now-301), core.RelayErrorStaleEvent},
		{"future", fmt.Sprintf(`{"event":"a","timestamp":%d,"data":{}}`, now+301), core.RelayErrorStaleEvent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := gateway.HandleInbound(context.Background(), InboundRequest{Body: []byte(tc.raw)})
			if !core.HasTextCode(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}

	if _, err := gateway.HandleInbound(context.Background(), InboundRequest{Body: []byte(fmt.Sprintf(`{"event":"a","timestamp":"%d","data":{}}`, now))}); err != nil {
		t.Fatalf("expected numeric string timestamp to be coerced, got %v", err)
	}
	if core.HTTPStatus(mustErr(gateway.HandleInbound(context.Background(), InboundRequest{Body: []byte(fmt.Sprintf(`{"event":"a","timestamp":%d,"data":{}}`, now-301))}))) != 422 {
		t.Fatalf("expected stale events to map to 422")
	}
}

func mustErr(_ InboundAck, err error) error {
	return err
}

func TestGateway_ZeroToleranceDisablesStalenessCheck(t *testing.T) {
	gateway, _, clock, _ := newTestGateway(t, core.InboundConfig{ToleranceSeconds: 0})
	raw := body(t, map[string]any{"event": "a", "timestamp": clock.Now().Unix() - 301, "data": map[string]any{}})
	if _, err := gateway.HandleInbound(context.Background(), InboundRequest{Body: raw}); err != nil {
		t.Fatalf("expected old timestamp accepted with tolerance disabled, got %v", err)
	}
}

func TestGateway_SignatureVerification(t *testing.T) {
	cfg := core.InboundConfig{ValidateSignature: true, Secret: "inbound-secret", ToleranceSeconds: 300}
	gateway, sink, clock, _ := newTestGateway(t, cfg)
	raw := body(t, map[string]any{"event": "a", "timestamp": clock.Now().Unix(), "data": map[string]any{"k": "v"}})

	if _, err := gateway.HandleInbound(context.Background(), InboundRequest{
		Body:    raw,
		Headers: map[string]string{"x-agent-signature": core.Sign("inbound-secret", raw)},
	}); err != nil {
		t.Fatalf("expected valid header signature, got %v", err)
	}

	_, err := gateway.HandleInbound(context.Background(), InboundRequest{Body: raw})
	if !core.HasTextCode(err, core.RelayErrorUnauthorized) || core.HTTPStatus(err) != 401 {
		t.Fatalf("expected unauthorized for missing signature, got %v", err)
	}
	_, err = gateway.HandleInbound(context.Background(), InboundRequest{
		Body:    raw,
		Headers: map[string]string{core.HeaderSignature: core.Sign("other-secret", raw)},
	})
	if !core.HasTextCode(err, core.RelayErrorUnauthorized) {
		t.Fatalf("expected unauthorized for wrong secret, got %v", err)
	}

	unsigned := map[string]any{"event": "a", "timestamp": clock.Now().Unix(), "data": map[string]any{"k": "v"}}
	canonical := body(t, unsigned)
	unsigned["signature"] = core.Sign("inbound-secret", canonical)
	if _, err := gateway.HandleInbound(context.Background(), InboundRequest{Body: body(t, unsigned)}); err != nil {
		t.Fatalf("expected body signature over unsigned envelope, got %v", err)
	}
	if len(sink.events) != 2 {
		t.Fatalf("expected two accepted events, got %d", len(sink.events))
	}
}

func TestGateway_SecretAlwaysRequiresSignature(t *testing.T) {
	gateway, sink, clock, _ := newTestGateway(t, core.InboundConfig{Secret: "inbound-secret"})
	raw := body(t, map[string]any{"event": "a", "timestamp": clock.Now().Unix(), "data": map[string]any{}})

	_, err := gateway.HandleInbound(context.Background(), InboundRequest{Body: raw})
	if !core.HasTextCode(err, core.RelayErrorUnauthorized) {
		t.Fatalf("expected unsigned request rejected while a secret is set, got %v", err)
	}
	if _, err := gateway.HandleInbound(context.Background(), InboundRequest{
		Body:    raw,
		Headers: map[string]string{core.HeaderSignature: core.Sign("inbound-secret", raw)},
	}); err != nil {
		t.Fatalf("expected signed request accepted, got %v", err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected only the signed event accepted, got %d", len(sink.events))
	}
}

func TestGateway_WarnsWhenValidationHasNoSecret(t *testing.T) {
	logger := relaytest.NewCaptureLogger()
	if _, err := NewGateway(core.InboundConfig{ValidateSignature: true}, &recordingSink{},
		WithGatewayTelemetry(core.NewTelemetry(logger, nil, "relay")),
	); err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	if !logger.HasLog("warn", "inbound signature validation enabled without a secret; requests are unauthenticated") {
		t.Fatalf("expected warning about missing secret, got %+v", logger.Snapshot())
	}
}

func TestGateway_IPAllowlistCheckedFirst(t *testing.T) {
	gateway, _, _, metrics := newTestGateway(t, core.InboundConfig{IPAllowlist: []string{"10.0.0.0/8", "192.168.1.7"}})
	_, err := gateway.HandleInbound(context.Background(), InboundRequest{Body: []byte("garbage"), RemoteAddr: "203.0.113.9:4411"})
	if !core.HasTextCode(err, core.RelayErrorForbidden) || core.HTTPStatus(err) != 403 {
		t.Fatalf("expected forbidden before body validation, got %v", err)
	}
	if len(metrics.Find("counter", core.MetricInboundTotal, map[string]string{"status": "forbidden"})) != 1 {
		t.Fatalf("expected forbidden counter")
	}
	_, err = gateway.HandleInbound(context.Background(), InboundRequest{Body: []byte("garbage"), RemoteAddr: "10.4.5.6:80"})
	if !core.HasTextCode(err, core.RelayErrorBadInput) {
		t.Fatalf("expected allowed address to reach validation, got %v", err)
	}
}

func TestAllowlist(t *testing.T) {
	list, err := NewAllowlist([]string{"10.0.0.0/8", "::1", "192.168.1.7"})
	if err != nil {
		t.Fatalf("new allowlist: %v", err)
	}
	for addr, want := range map[string]bool{
		"10.1.2.3":            true,
		"10.1.2.3:9000":       true,
		"[::1]:8080":          true,
		"::ffff:192.168.1.7":  true,
		"192.168.1.8":         false,
		"":                    false,
		"not-an-address:1234": false,
	} {
		if got := list.Allows(addr); got != want {
			t.Fatalf("Allows(%q) = %v, want %v", addr, got, want)
		}
	}
	if _, err := NewAllowlist([]string{"10.0.0.0/99"}); err == nil {
		t.Fatalf("expected invalid range to be rejected")
	}
	empty, _ := NewAllowlist(nil)
	if !empty.Allows("1.2.3.4") {
		t.Fatalf("expected empty allowlist to admit everything")
	}
}

func TestGateway_SinkFailureIsInternal(t *testing.T) {
	gateway, sink, clock, _ := newTestGateway(t, core.InboundConfig{})
	sink.err = errors.New("queue down")
	raw := body(t, map[string]any{"event": "a", "timestamp": clock.Now().Unix(), "data": map[string]any{}})
	_, err := gateway.HandleInbound(context.Background(), InboundRequest{Body: raw})
	if !core.HasTextCode(err, core.RelayErrorInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestQueueSink_EnqueuesInboundEventJob(t *testing.T) {
	q := queue.NewMemoryQueue()
	sink := QueueSink{Queue: q, MaxAttempts: 5}
	event := NormalizedEvent{EventID: "evt-1", EventType: "chat.message", Timestamp: 10, Data: map[string]any{"a": 1}, ReceivedAt: time.Unix(10, 0).UTC()}
	if err := sink.Accept(context.Background(), event); err != nil {
		t.Fatalf("accept: %v", err)
	}
	jobs, _ := q.List(context.Background(), core.JobFilter{Type: core.JobTypeInboundEvent})
	if len(jobs) != 1 || jobs[0].MaxAttempts != 5 {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
	decoded, err := NormalizedEventFromMap(jobs[0].Payload)
	if err != nil || decoded.EventID != "evt-1" || !decoded.ReceivedAt.Equal(event.ReceivedAt) {
		t.Fatalf("unexpected decoded event %+v %v", decoded, err)
	}
}
