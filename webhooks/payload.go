package webhooks

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-relay/core"
)

// DeliveryPayload is the webhook_delivery job payload. Body holds the exact
// bytes signed and sent on every attempt.
type DeliveryPayload struct {
	LogID        string
	SubscriberID string
	URL          string
	Secret       string
	Envelope     core.Envelope
	Body         string
}

func (p DeliveryPayload) ToMap() map[string]any {
	return map[string]any{
		"log_id":        p.LogID,
		"subscriber_id": p.SubscriberID,
		"url":           p.URL,
		"secret":        p.Secret,
		"envelope":      p.Envelope.ToMap(),
		"body":          p.Body,
	}
}

func ParseDeliveryPayload(values map[string]any) (DeliveryPayload, error) {
	payload := DeliveryPayload{
		LogID:        stringField(values, "log_id"),
		SubscriberID: stringField(values, "subscriber_id"),
		URL:          stringField(values, "url"),
		Secret:       rawStringField(values, "secret"),
		Body:         rawStringField(values, "body"),
	}
	if payload.URL == "" {
		return DeliveryPayload{}, fmt.Errorf("webhooks: delivery payload url is required")
	}
	if strings.TrimSpace(payload.Secret) == "" {
		return DeliveryPayload{}, fmt.Errorf("webhooks: delivery payload secret is required")
	}
	envelopeValues, _ := values["envelope"].(map[string]any)
	envelope, err := core.EnvelopeFromMap(envelopeValues)
	if err != nil {
		return DeliveryPayload{}, fmt.Errorf("webhooks: delivery payload envelope: %w", err)
	}
	payload.Envelope = envelope
	return payload, nil
}

func stringField(values map[string]any, key string) string {
	value, _ := values[key].(string)
	return strings.TrimSpace(value)
}

// rawStringField keeps the value byte for byte; secrets and signed bodies
// must not be altered.
func rawStringField(values map[string]any, key string) string {
	value, _ := values[key].(string)
	return value
}
