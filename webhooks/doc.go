// Package webhooks fans internal events out to subscribers and delivers them.
//
// Dispatch resolves subscribers, applies transforms to the envelope, writes a
// delivery log entry and enqueues one webhook_delivery job per subscriber.
// DeliveryHandler runs those jobs: it signs the exact body, POSTs it, records
// the response on the log entry and leaves retry decisions to the queue.
package webhooks
