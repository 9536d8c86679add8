package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func jobHandlers() repository.ModelHandlers[*jobRecord] {
	return repository.ModelHandlers[*jobRecord]{
		NewRecord: func() *jobRecord {
			return &jobRecord{}
		},
		GetID: func(record *jobRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *jobRecord, id uuid.UUID) {
			if record == nil || strings.TrimSpace(record.ID) != "" {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *jobRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func subscriberHandlers() repository.ModelHandlers[*subscriberRecord] {
	return repository.ModelHandlers[*subscriberRecord]{
		NewRecord: func() *subscriberRecord {
			return &subscriberRecord{}
		},
		GetID: func(record *subscriberRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *subscriberRecord, id uuid.UUID) {
			if record == nil || strings.TrimSpace(record.ID) != "" {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *subscriberRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func deliveryLogHandlers() repository.ModelHandlers[*deliveryLogRecord] {
	return repository.ModelHandlers[*deliveryLogRecord]{
		NewRecord: func() *deliveryLogRecord {
			return &deliveryLogRecord{}
		},
		GetID: func(record *deliveryLogRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *deliveryLogRecord, id uuid.UUID) {
			if record == nil || strings.TrimSpace(record.ID) != "" {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *deliveryLogRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func inboundEventHandlers() repository.ModelHandlers[*inboundEventRecord] {
	return repository.ModelHandlers[*inboundEventRecord]{
		NewRecord: func() *inboundEventRecord {
			return &inboundEventRecord{}
		},
		GetID: func(record *inboundEventRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *inboundEventRecord, id uuid.UUID) {
			if record == nil || strings.TrimSpace(record.ID) != "" {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "event_id"
		},
		GetIdentifierValue: func(record *inboundEventRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.EventID)
		},
	}
}

func metricSampleHandlers() repository.ModelHandlers[*metricSampleRecord] {
	return repository.ModelHandlers[*metricSampleRecord]{
		NewRecord: func() *metricSampleRecord {
			return &metricSampleRecord{}
		},
		GetID: func(record *metricSampleRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *metricSampleRecord, id uuid.UUID) {
			if record == nil || strings.TrimSpace(record.ID) != "" {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *metricSampleRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
