package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/ratelimit"
	"github.com/goliatone/go-relay/transport"
)

const (
	DefaultDeliveryTimeout = 5 * time.Second
	ResponseBodyLimit      = 4 << 10
)

type Sender interface {
	Do(ctx context.Context, req transport.Request) (transport.Response, error)
}

// Throttle gates deliveries per subscriber host.
type Throttle interface {
	BeforeCall(ctx context.Context, host string) error
	AfterCall(ctx context.Context, host string, res ratelimit.Observation) error
}

// DeliveryHandler runs webhook_delivery jobs. A returned error leaves the
// retry decision to the queue; payload errors are marked permanent.
type DeliveryHandler struct {
	Sender            Sender
	Logs              core.DeliveryLogStore
	Telemetry         core.Telemetry
	Throttle          Throttle
	Timeout           time.Duration
	ResponseBodyLimit int
	Now               func() time.Time
}

func NewDeliveryHandler(sender Sender, logs core.DeliveryLogStore, telemetry core.Telemetry) *DeliveryHandler {
	if sender == nil {
		sender = transport.NewClient(nil)
	}
	return &DeliveryHandler{
		Sender:            sender,
		Logs:              logs,
		Telemetry:         telemetry,
		Timeout:           DefaultDeliveryTimeout,
		ResponseBodyLimit: ResponseBodyLimit,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (h *DeliveryHandler) Handle(ctx context.Context, job core.Job) (map[string]any, error) {
	if h == nil || h.Sender == nil || h.Logs == nil {
		return nil, core.NewRelayError(
			"webhooks: delivery handler requires sender and delivery log store",
			goerrors.CategoryInternal,
			core.RelayErrorInternal,
		)
	}
	payload, err := ParseDeliveryPayload(job.Payload)
	if err != nil {
		return nil, core.Permanent(core.WrapRelayError(err, goerrors.CategoryBadInput, core.RelayErrorBadInput, "webhooks: invalid delivery payload").
			WithMetadata(map[string]any{"job_id": job.ID}))
	}
	body := []byte(payload.Body)
	if len(body) == 0 {
		if body, err = json.Marshal(payload.Envelope); err != nil {
			return nil, core.Permanent(fmt.Errorf("webhooks: encode envelope: %w", err))
		}
	}

	attempt := job.Attempts + 1
	event := payload.Envelope.Event
	timestamp := payload.Envelope.Timestamp
	if timestamp == 0 {
		timestamp = h.now().Unix()
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	host := ratelimit.HostKey(payload.URL)
	startedAt := time.Now()
	response, sendErr := h.send(sendCtx, host, transport.Request{
		Method: "POST",
		URL:    payload.URL,
		Headers: map[string]string{
			"Content-Type":       "application/json",
			core.HeaderSignature: core.Sign(payload.Secret, body),
			core.HeaderEvent:     event,
			core.HeaderDelivery:  payload.LogID,
			core.HeaderTimestamp: strconv.FormatInt(timestamp, 10),
		},
		Body:                 body,
		MaxResponseBodyBytes: int64(h.responseBodyLimit()),
	})
	elapsed := time.Since(startedAt)

	deliveryErr := sendErr
	if sendErr == nil && !response.Successful() {
		deliveryErr = core.NewRelayError(
			fmt.Sprintf("webhooks: subscriber responded with status %d", response.StatusCode),
			goerrors.CategoryExternal,
			core.RelayErrorProcessingFailed,
		).WithMetadata(map[string]any{
			"job_id":        job.ID,
			"subscriber_id": payload.SubscriberID,
			"status_code":   response.StatusCode,
		})
	}

	if payload.LogID != "" {
		if recordErr := h.Logs.RecordDeliveryAttempt(ctx, payload.LogID, h.attemptRecord(attempt, response, sendErr)); recordErr != nil {
			h.Telemetry.Warn(ctx, "delivery log update failed", map[string]any{
				"log_id": payload.LogID,
				"job_id": job.ID,
				"error":  recordErr.Error(),
			})
		}
	}

	status := "success"
	if deliveryErr != nil {
		status = "failure"
	}
	h.Telemetry.Counter(ctx, core.MetricDeliveriesTotal, 1, map[string]string{"event": event, "status": status})
	h.Telemetry.Histogram(ctx, core.MetricDeliveryDuration, elapsed.Seconds(), map[string]string{"event": event})
	if attempt > 1 {
		h.Telemetry.Counter(ctx, core.MetricRetryCount, 1, map[string]string{"event": event, "attempt": strconv.Itoa(attempt)})
	}

	fields := map[string]any{
		"job_id":        job.ID,
		"log_id":        payload.LogID,
		"subscriber_id": payload.SubscriberID,
		"event_type":    event,
		"attempt":       attempt,
		"status_code":   response.StatusCode,
		"duration_ms":   elapsed.Milliseconds(),
	}
	if deliveryErr != nil {
		fields["error"] = deliveryErr.Error()
		h.Telemetry.Warn(ctx, "webhook delivery failed", fields)
		return nil, deliveryErr
	}
	h.Telemetry.Info(ctx, "webhook delivered", fields)
	return map[string]any{
		"log_id":      payload.LogID,
		"status_code": response.StatusCode,
		"attempts":    attempt,
	}, nil
}

// send skips the request while host is throttled and feeds every response
// back to the throttle.
func (h *DeliveryHandler) send(ctx context.Context, host string, req transport.Request) (transport.Response, error) {
	if h.Throttle == nil {
		return h.Sender.Do(ctx, req)
	}
	if err := h.Throttle.BeforeCall(ctx, host); err != nil {
		var throttled ratelimit.ThrottledError
		if errors.As(err, &throttled) {
			return transport.Response{}, throttled.ToRelayError()
		}
		return transport.Response{}, err
	}
	response, err := h.Sender.Do(ctx, req)
	if err == nil {
		if observeErr := h.Throttle.AfterCall(ctx, host, ratelimit.Observation{
			StatusCode: response.StatusCode,
			Headers:    response.Headers,
		}); observeErr != nil {
			h.Telemetry.Warn(ctx, "rate limit state update failed", map[string]any{"host": host, "error": observeErr.Error()})
		}
	}
	return response, err
}

func (h *DeliveryHandler) attemptRecord(attempt int, response transport.Response, sendErr error) core.DeliveryAttempt {
	record := core.DeliveryAttempt{Attempts: attempt}
	if sendErr != nil {
		text := truncate(sendErr.Error(), h.responseBodyLimit())
		record.ResponseBody = &text
		return record
	}
	code := response.StatusCode
	text := truncate(string(response.Body), h.responseBodyLimit())
	record.ResponseCode = &code
	record.ResponseBody = &text
	return record
}

func (h *DeliveryHandler) responseBodyLimit() int {
	if h.ResponseBodyLimit <= 0 {
		return ResponseBodyLimit
	}
	return h.ResponseBodyLimit
}

func (h *DeliveryHandler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now()
}

func truncate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	return value[:limit]
}
