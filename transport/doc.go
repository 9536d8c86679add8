// Package transport performs the outbound HTTP calls for webhook delivery.
package transport
