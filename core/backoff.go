package core

import (
	"math/rand/v2"
	"time"
)

const (
	DefaultRetryBaseDelay   = 60 * time.Second
	DefaultRetryMaxDelay    = time.Hour
	DefaultRetryJitterRatio = 0.1
)

type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff doubles Base per attempt up to Max and adds up to
// JitterRatio*delay of random jitter. Attempt is 1-based: the first failure
// waits Base.
type ExponentialBackoff struct {
	Base        time.Duration
	Max         time.Duration
	JitterRatio float64
	Rand        func() float64
}

func DefaultRetryPolicy() ExponentialBackoff {
	return ExponentialBackoff{
		Base:        DefaultRetryBaseDelay,
		Max:         DefaultRetryMaxDelay,
		JitterRatio: DefaultRetryJitterRatio,
	}
}

// BaseDelay is the delay before jitter.
func (b ExponentialBackoff) BaseDelay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultRetryBaseDelay
	}
	maximum := b.Max
	if maximum <= 0 {
		maximum = DefaultRetryMaxDelay
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

func (b ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := b.BaseDelay(attempt)
	ratio := b.JitterRatio
	if ratio <= 0 {
		return delay
	}
	random := b.Rand
	if random == nil {
		random = rand.Float64
	}
	sample := random()
	if sample < 0 {
		sample = 0
	}
	if sample > 1 {
		sample = 1
	}
	return delay + time.Duration(float64(delay)*ratio*sample)
}
