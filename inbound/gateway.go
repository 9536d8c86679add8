package inbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
)

const AckStatusReceived = "received"

type InboundRequest struct {
	Body       []byte
	Headers    map[string]string
	RemoteAddr string
}

type InboundAck struct {
	Status     string    `json:"status"`
	Event      string    `json:"event"`
	ReceivedAt time.Time `json:"received_at"`
	EventID    string    `json:"event_id"`
}

// EventSink receives events the gateway accepted.
type EventSink interface {
	Accept(ctx context.Context, event NormalizedEvent) error
}

type EventSinkFunc func(ctx context.Context, event NormalizedEvent) error

func (f EventSinkFunc) Accept(ctx context.Context, event NormalizedEvent) error {
	return f(ctx, event)
}

// QueueSink enqueues accepted events as inbound_event jobs.
type QueueSink struct {
	Queue       core.JobQueue
	MaxAttempts int
}

func (s QueueSink) Accept(ctx context.Context, event NormalizedEvent) error {
	if s.Queue == nil {
		return fmt.Errorf("inbound: queue sink requires a job queue")
	}
	_, err := s.Queue.Enqueue(ctx, core.EnqueueRequest{
		Type:        core.JobTypeInboundEvent,
		Payload:     event.ToMap(),
		MaxAttempts: s.MaxAttempts,
	})
	return err
}

type Gateway struct {
	Config    core.InboundConfig
	Sink      EventSink
	Telemetry core.Telemetry
	Now       func() time.Time

	allowlist *Allowlist
}

type GatewayOption func(*Gateway)

func WithGatewayTelemetry(telemetry core.Telemetry) GatewayOption {
	return func(g *Gateway) {
		g.Telemetry = telemetry
	}
}

func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if now != nil {
			g.Now = now
		}
	}
}

func NewGateway(cfg core.InboundConfig, sink EventSink, opts ...GatewayOption) (*Gateway, error) {
	allowlist, err := NewAllowlist(cfg.IPAllowlist)
	if err != nil {
		return nil, inboundWrapError(err, goerrors.CategoryBadInput, core.RelayErrorBadInput, "inbound: build allowlist", nil)
	}
	gateway := &Gateway{
		Config:    cfg,
		Sink:      sink,
		Telemetry: core.NewTelemetry(nil, nil, "relay"),
		Now: func() time.Time {
			return time.Now().UTC()
		},
		allowlist: allowlist,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(gateway)
		}
	}
	if cfg.ValidateSignature && strings.TrimSpace(cfg.Secret) == "" {
		gateway.Telemetry.Warn(context.Background(), "inbound signature validation enabled without a secret; requests are unauthenticated", nil)
	}
	return gateway, nil
}

// HandleInbound validates in order: source address, JSON object, event,
// timestamp, data, tolerance, signature.
func (g *Gateway) HandleInbound(ctx context.Context, req InboundRequest) (ack InboundAck, err error) {
	if g == nil || g.Sink == nil {
		return InboundAck{}, inboundInternal("inbound: gateway requires an event sink", nil)
	}
	startedAt := time.Now()
	defer func() {
		g.Telemetry.ObserveOperation(ctx, startedAt, "inbound_receive", err, map[string]any{
			"event_type":  ack.Event,
			"event_id":    ack.EventID,
			"remote_addr": req.RemoteAddr,
		})
	}()

	if !g.allowlist.Allows(req.RemoteAddr) {
		g.Telemetry.Counter(ctx, core.MetricInboundTotal, 1, map[string]string{"status": "forbidden"})
		return InboundAck{}, inboundForbidden("inbound: source address not allowed", map[string]any{"remote_addr": req.RemoteAddr})
	}

	event, envelope, err := g.parse(req.Body, req.Headers)
	if err != nil {
		g.Telemetry.Counter(ctx, core.MetricInboundTotal, 1, map[string]string{"status": "rejected"})
		return InboundAck{}, err
	}
	if err := g.checkTolerance(event); err != nil {
		g.Telemetry.Counter(ctx, core.MetricInboundTotal, 1, map[string]string{"event": event.EventType, "status": "stale"})
		return InboundAck{}, err
	}
	if err := g.verify(req.Body, req.Headers, envelope); err != nil {
		g.Telemetry.Counter(ctx, core.MetricInboundTotal, 1, map[string]string{"event": event.EventType, "status": "unauthorized"})
		return InboundAck{}, err
	}

	if err := g.Sink.Accept(ctx, event); err != nil {
		return InboundAck{}, inboundWrapError(err, goerrors.CategoryInternal, core.RelayErrorInternal, "inbound: hand off event", map[string]any{
			"event_type": event.EventType,
			"event_id":   event.EventID,
		})
	}

	g.Telemetry.Counter(ctx, core.MetricInboundTotal, 1, map[string]string{"event": event.EventType, "status": "received"})
	g.Telemetry.Info(ctx, "inbound event accepted", map[string]any{
		"event_type":  event.EventType,
		"event_id":    event.EventID,
		"remote_addr": req.RemoteAddr,
	})
	return InboundAck{
		Status:     AckStatusReceived,
		Event:      event.EventType,
		ReceivedAt: event.ReceivedAt,
		EventID:    event.EventID,
	}, nil
}

func (g *Gateway) parse(body []byte, headers map[string]string) (NormalizedEvent, map[string]any, error) {
	var envelope map[string]any
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&envelope); err != nil || envelope == nil {
		return NormalizedEvent{}, nil, inboundBadInput("inbound: body must be a JSON object", nil)
	}

	eventType, ok := envelope["event"].(string)
	eventType = strings.TrimSpace(eventType)
	if !ok || eventType == "" {
		return NormalizedEvent{}, nil, inboundBadInput("inbound: event must be a non-empty string", nil)
	}
	timestamp, ok := core.Int64Value(envelope["timestamp"])
	if !ok {
		return NormalizedEvent{}, nil, inboundBadInput("inbound: timestamp must be an integer", map[string]any{"event_type": eventType})
	}
	data, ok := envelope["data"].(map[string]any)
	if !ok {
		return NormalizedEvent{}, nil, inboundBadInput("inbound: data must be an object", map[string]any{"event_type": eventType})
	}
	data = normalizeNumbers(data).(map[string]any)

	return NormalizedEvent{
		EventID:    DeriveEventID(envelope, headers, eventType, timestamp, data),
		EventType:  eventType,
		Timestamp:  timestamp,
		Data:       data,
		ReceivedAt: g.now(),
	}, envelope, nil
}

func (g *Gateway) checkTolerance(event NormalizedEvent) error {
	tolerance := g.Config.Tolerance()
	if tolerance <= 0 {
		return nil
	}
	skew := g.now().Sub(time.Unix(event.Timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > tolerance {
		return inboundStale("inbound: event timestamp outside tolerance window", map[string]any{
			"event_type":        event.EventType,
			"timestamp":         event.Timestamp,
			"tolerance_seconds": int(tolerance / time.Second),
		})
	}
	return nil
}

// verify checks the header signature over the raw body. A signature carried
// in the body is checked over the body re-encoded without that field. A
// configured secret always requires a signature.
func (g *Gateway) verify(body []byte, headers map[string]string, envelope map[string]any) error {
	secret := g.Config.Secret
	if secret == "" {
		return nil
	}
	if signature := headerValue(headers, core.HeaderSignature); signature != "" {
		if err := core.VerifySignature(secret, body, signature); err != nil {
			return inboundUnauthorized(err, "inbound: invalid signature", nil)
		}
		return nil
	}
	signature, _ := envelope["signature"].(string)
	if strings.TrimSpace(signature) == "" {
		return inboundUnauthorized(nil, "inbound: signature is required", nil)
	}
	if core.VerifySignature(secret, body, signature) == nil {
		return nil
	}
	unsigned := make(map[string]any, len(envelope))
	for key, value := range envelope {
		if key != "signature" {
			unsigned[key] = value
		}
	}
	canonical, err := json.Marshal(unsigned)
	if err != nil {
		return inboundUnauthorized(err, "inbound: invalid signature", nil)
	}
	if err := core.VerifySignature(secret, canonical, signature); err != nil {
		return inboundUnauthorized(err, "inbound: invalid signature", nil)
	}
	return nil
}

func (g *Gateway) now() time.Time {
	if g.Now == nil {
		return time.Now().UTC()
	}
	return g.Now()
}

// normalizeNumbers turns json.Number values into int64 or float64.
func normalizeNumbers(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = normalizeNumbers(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalizeNumbers(item)
		}
		return out
	case json.Number:
		if parsed, err := typed.Int64(); err == nil {
			return parsed
		}
		parsed, _ := typed.Float64()
		return parsed
	default:
		return value
	}
}
