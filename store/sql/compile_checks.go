package sqlstore

import "github.com/goliatone/go-relay/core"

var (
	_ core.JobQueue            = (*JobStore)(nil)
	_ core.JobReclaimer        = (*JobStore)(nil)
	_ core.SubscriberRegistry  = (*SubscriberStore)(nil)
	_ core.SubscriberRegistry  = (*CachedSubscriberDirectory)(nil)
	_ core.DeliveryLogStore    = (*DeliveryLogStore)(nil)
	_ core.InboundEventLedger  = (*InboundEventStore)(nil)
	_ core.MetricSampleStore   = (*MetricSampleStore)(nil)
	_ core.StoreProvider       = (*RepositoryFactory)(nil)
)
