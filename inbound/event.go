package inbound

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
)

// NormalizedEvent is an authenticated inbound event ready for routing.
type NormalizedEvent struct {
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	Timestamp  int64          `json:"timestamp"`
	Data       map[string]any `json:"data"`
	ReceivedAt time.Time      `json:"received_at"`
}

func (e NormalizedEvent) ToMap() map[string]any {
	return map[string]any{
		"event_id":    e.EventID,
		"event_type":  e.EventType,
		"timestamp":   e.Timestamp,
		"data":        core.CloneMap(e.Data),
		"received_at": e.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
}

func NormalizedEventFromMap(values map[string]any) (NormalizedEvent, error) {
	event := NormalizedEvent{}
	event.EventID, _ = values["event_id"].(string)
	event.EventType, _ = values["event_type"].(string)
	event.EventID = strings.TrimSpace(event.EventID)
	event.EventType = strings.TrimSpace(event.EventType)
	if event.EventID == "" || event.EventType == "" {
		return NormalizedEvent{}, fmt.Errorf("inbound: event id and event type are required")
	}
	if timestamp, ok := core.Int64Value(values["timestamp"]); ok {
		event.Timestamp = timestamp
	}
	data, _ := values["data"].(map[string]any)
	event.Data = core.CloneMap(data)
	if event.Data == nil {
		event.Data = map[string]any{}
	}
	if raw, _ := values["received_at"].(string); raw != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			event.ReceivedAt = parsed
		}
	}
	return event, nil
}

// DeriveEventID prefers an explicit id on the envelope, then the delivery
// header, and otherwise hashes the event content so byte-identical
// redeliveries share an id.
func DeriveEventID(envelope map[string]any, headers map[string]string, eventType string, timestamp int64, data map[string]any) string {
	for _, key := range []string{"event_id", "id"} {
		if value, ok := envelope[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	if value := headerValue(headers, core.HeaderDelivery); value != "" {
		return value
	}
	encoded, _ := json.Marshal(data)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", eventType, timestamp, encoded)))
	return "evt_" + hex.EncodeToString(sum[:16])
}

func headerValue(headers map[string]string, name string) string {
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
