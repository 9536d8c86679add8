// Package memstore holds process-local implementations of the relay
// persistence contracts.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/queue"
	"github.com/google/uuid"
)

type SubscriberStore struct {
	mu          sync.RWMutex
	subscribers map[string]core.Subscriber
}

func NewSubscriberStore(subscribers ...core.Subscriber) *SubscriberStore {
	store := &SubscriberStore{subscribers: map[string]core.Subscriber{}}
	for _, subscriber := range subscribers {
		_, _ = store.SaveSubscriber(context.Background(), subscriber)
	}
	return store
}

func (s *SubscriberStore) ListActiveSubscribers(_ context.Context, eventType string) ([]core.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Subscriber, 0)
	for _, subscriber := range s.subscribers {
		if subscriber.Accepts(eventType) {
			out = append(out, cloneSubscriber(subscriber))
		}
	}
	slices.SortFunc(out, func(a, b core.Subscriber) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *SubscriberStore) SaveSubscriber(_ context.Context, subscriber core.Subscriber) (core.Subscriber, error) {
	if err := subscriber.Validate(); err != nil {
		return core.Subscriber{}, err
	}
	now := time.Now().UTC()
	if strings.TrimSpace(subscriber.ID) == "" {
		subscriber.ID = uuid.NewString()
	}
	if subscriber.CreatedAt.IsZero() {
		subscriber.CreatedAt = now
	}
	subscriber.UpdatedAt = now
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribers == nil {
		s.subscribers = map[string]core.Subscriber{}
	}
	s.subscribers[subscriber.ID] = cloneSubscriber(subscriber)
	return cloneSubscriber(subscriber), nil
}

func (s *SubscriberStore) GetSubscriber(_ context.Context, id string) (core.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subscriber, ok := s.subscribers[strings.TrimSpace(id)]
	if !ok {
		return core.Subscriber{}, fmt.Errorf("%w: %s", core.ErrSubscriberNotFound, id)
	}
	return cloneSubscriber(subscriber), nil
}

func (s *SubscriberStore) DeactivateSubscriber(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subscriber, ok := s.subscribers[strings.TrimSpace(id)]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrSubscriberNotFound, id)
	}
	subscriber.Active = false
	subscriber.UpdatedAt = time.Now().UTC()
	s.subscribers[subscriber.ID] = subscriber
	return nil
}

func cloneSubscriber(subscriber core.Subscriber) core.Subscriber {
	subscriber.EventTypes = append([]string(nil), subscriber.EventTypes...)
	return subscriber
}

type DeliveryLogStore struct {
	mu      sync.RWMutex
	entries map[string]core.DeliveryLogEntry
	order   []string
}

func NewDeliveryLogStore() *DeliveryLogStore {
	return &DeliveryLogStore{entries: map[string]core.DeliveryLogEntry{}}
}

func (s *DeliveryLogStore) CreateDeliveryLog(_ context.Context, entry core.DeliveryLogEntry) (core.DeliveryLogEntry, error) {
	if strings.TrimSpace(entry.SubscriberID) == "" || strings.TrimSpace(entry.Event) == "" {
		return core.DeliveryLogEntry{}, fmt.Errorf("memstore: delivery log subscriber id and event are required")
	}
	now := time.Now().UTC()
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now
	entry.RequestBody = append([]byte(nil), entry.RequestBody...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = map[string]core.DeliveryLogEntry{}
	}
	s.entries[entry.ID] = entry
	s.order = append(s.order, entry.ID)
	return cloneDeliveryLog(entry), nil
}

func (s *DeliveryLogStore) RecordDeliveryAttempt(_ context.Context, logID string, attempt core.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[strings.TrimSpace(logID)]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrDeliveryLogNotFound, logID)
	}
	entry.ResponseCode = cloneInt(attempt.ResponseCode)
	entry.ResponseBody = cloneString(attempt.ResponseBody)
	if attempt.Attempts > entry.Attempts {
		entry.Attempts = attempt.Attempts
	}
	entry.UpdatedAt = time.Now().UTC()
	s.entries[entry.ID] = entry
	return nil
}

func (s *DeliveryLogStore) GetDeliveryLog(_ context.Context, logID string) (core.DeliveryLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[strings.TrimSpace(logID)]
	if !ok {
		return core.DeliveryLogEntry{}, fmt.Errorf("%w: %s", core.ErrDeliveryLogNotFound, logID)
	}
	return cloneDeliveryLog(entry), nil
}

func (s *DeliveryLogStore) ListDeliveryLogs(_ context.Context, filter core.DeliveryLogFilter) ([]core.DeliveryLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.DeliveryLogEntry, 0)
	for i := len(s.order) - 1; i >= 0; i-- {
		entry := s.entries[s.order[i]]
		if filter.SubscriberID != "" && entry.SubscriberID != filter.SubscriberID {
			continue
		}
		if filter.Event != "" && entry.Event != filter.Event {
			continue
		}
		out = append(out, cloneDeliveryLog(entry))
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []core.DeliveryLogEntry{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func cloneDeliveryLog(entry core.DeliveryLogEntry) core.DeliveryLogEntry {
	entry.RequestBody = append([]byte(nil), entry.RequestBody...)
	entry.ResponseCode = cloneInt(entry.ResponseCode)
	entry.ResponseBody = cloneString(entry.ResponseBody)
	return entry
}

func cloneInt(value *int) *int {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

// EventLedger is an InboundEventLedger keyed by external event id. An
// unprocessed entry older than ClaimTimeout is taken over by the next Record.
type EventLedger struct {
	mu           sync.Mutex
	events       map[string]core.InboundEvent
	Now          func() time.Time
	ClaimTimeout time.Duration
}

func NewEventLedger() *EventLedger {
	return &EventLedger{
		events: map[string]core.InboundEvent{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
		ClaimTimeout: core.DefaultLedgerClaimTimeout,
	}
}

func (l *EventLedger) Record(_ context.Context, event core.InboundEvent) (core.InboundEvent, error) {
	event.EventID = strings.TrimSpace(event.EventID)
	if event.EventID == "" {
		return core.InboundEvent{}, fmt.Errorf("memstore: inbound event id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.events == nil {
		l.events = map[string]core.InboundEvent{}
	}
	now := l.now()
	if existing, exists := l.events[event.EventID]; exists {
		if existing.Processed || l.ClaimTimeout <= 0 || now.Sub(existing.CreatedAt) <= l.ClaimTimeout {
			return core.InboundEvent{}, fmt.Errorf("%w: %s", core.ErrDuplicateEvent, event.EventID)
		}
		existing.CreatedAt = now
		l.events[event.EventID] = existing
		existing.Payload = core.CloneMap(existing.Payload)
		return existing, nil
	}
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	event.Payload = core.CloneMap(event.Payload)
	event.Processed = false
	event.ProcessedAt = nil
	event.CreatedAt = now
	l.events[event.EventID] = event
	return event, nil
}

func (l *EventLedger) MarkProcessed(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	event, ok := l.events[strings.TrimSpace(eventID)]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrInboundEventNotFound, eventID)
	}
	now := l.now()
	event.Processed = true
	event.ProcessedAt = &now
	l.events[event.EventID] = event
	return nil
}

func (l *EventLedger) Release(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	eventID = strings.TrimSpace(eventID)
	if event, ok := l.events[eventID]; ok && !event.Processed {
		delete(l.events, eventID)
	}
	return nil
}

// Get is a test and admin helper.
func (l *EventLedger) Get(eventID string) (core.InboundEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	event, ok := l.events[strings.TrimSpace(eventID)]
	return event, ok
}

func (l *EventLedger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

type MetricSampleStore struct {
	mu      sync.RWMutex
	samples []core.MetricSample
}

func NewMetricSampleStore() *MetricSampleStore {
	return &MetricSampleStore{}
}

func (s *MetricSampleStore) AddCounter(_ context.Context, sample core.MetricSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index := s.findLocked(sample); index >= 0 {
		s.samples[index].Value += sample.Value
		s.samples[index].Timestamp = sample.Timestamp
		return nil
	}
	s.appendLocked(sample)
	return nil
}

func (s *MetricSampleStore) SetGauge(_ context.Context, sample core.MetricSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index := s.findLocked(sample); index >= 0 {
		s.samples[index].Value = sample.Value
		s.samples[index].Timestamp = sample.Timestamp
		return nil
	}
	s.appendLocked(sample)
	return nil
}

func (s *MetricSampleStore) AppendObservation(_ context.Context, sample core.MetricSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(sample)
	return nil
}

func (s *MetricSampleStore) ListSamples(_ context.Context, filter core.MetricFilter) ([]core.MetricSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.MetricSample, 0, len(s.samples))
	for _, sample := range s.samples {
		if filter.Name != "" && sample.Name != filter.Name {
			continue
		}
		if filter.Type != "" && sample.Type != filter.Type {
			continue
		}
		if !filter.Since.IsZero() && sample.Timestamp.Before(filter.Since) {
			continue
		}
		sample.Labels = core.CloneTags(sample.Labels)
		out = append(out, sample)
	}
	return out, nil
}

func (s *MetricSampleStore) PurgeSamples(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.samples[:0]
	removed := 0
	for _, sample := range s.samples {
		if sample.Timestamp.Before(before) {
			removed++
			continue
		}
		kept = append(kept, sample)
	}
	s.samples = kept
	return removed, nil
}

func (s *MetricSampleStore) findLocked(sample core.MetricSample) int {
	for index, existing := range s.samples {
		if existing.Type == sample.Type && existing.Name == sample.Name && existing.LabelKey == sample.LabelKey {
			return index
		}
	}
	return -1
}

func (s *MetricSampleStore) appendLocked(sample core.MetricSample) {
	if strings.TrimSpace(sample.ID) == "" {
		sample.ID = uuid.NewString()
	}
	sample.Labels = core.CloneTags(sample.Labels)
	s.samples = append(s.samples, sample)
}

// Stores bundles the in-memory backends as a core.StoreProvider.
type Stores struct {
	Queue       *queue.MemoryQueue
	Subscribers *SubscriberStore
	Logs        *DeliveryLogStore
	Ledger      *EventLedger
	Samples     *MetricSampleStore
}

func NewStores() *Stores {
	return &Stores{
		Queue:       queue.NewMemoryQueue(),
		Subscribers: NewSubscriberStore(),
		Logs:        NewDeliveryLogStore(),
		Ledger:      NewEventLedger(),
		Samples:     NewMetricSampleStore(),
	}
}

func (s *Stores) JobQueue() core.JobQueue                     { return s.Queue }
func (s *Stores) SubscriberDirectory() core.SubscriberDirectory { return s.Subscribers }
func (s *Stores) DeliveryLogStore() core.DeliveryLogStore     { return s.Logs }
func (s *Stores) InboundEventLedger() core.InboundEventLedger { return s.Ledger }
func (s *Stores) MetricSampleStore() core.MetricSampleStore   { return s.Samples }

var (
	_ core.SubscriberRegistry  = (*SubscriberStore)(nil)
	_ core.DeliveryLogStore    = (*DeliveryLogStore)(nil)
	_ core.InboundEventLedger  = (*EventLedger)(nil)
	_ core.MetricSampleStore   = (*MetricSampleStore)(nil)
	_ core.StoreProvider       = (*Stores)(nil)
)
