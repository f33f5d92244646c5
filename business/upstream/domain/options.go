package domain

import "time"

// Options holds per-upstream connection settings.
type Options struct {
	RetryInterval     time.Duration // constant delay between stream reconnects
	FetchTimeout      time.Duration // bound on fetching a full head block
	SubscriberBuffer  int           // per-subscriber buffer in the broadcast hubs
	MinPeers          int           // consumed by router collaborators
	DisableValidation bool
}

// DefaultOptions returns the reference policy.
func DefaultOptions() Options {
	return Options{
		RetryInterval:    5 * time.Second,
		FetchTimeout:     15 * time.Second,
		SubscriberBuffer: 16,
		MinPeers:         3,
	}
}

// WithDefaults fills unset fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	def := DefaultOptions()
	if o.RetryInterval <= 0 {
		o.RetryInterval = def.RetryInterval
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = def.FetchTimeout
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = def.SubscriberBuffer
	}
	if o.MinPeers <= 0 {
		o.MinPeers = def.MinPeers
	}
	return o
}
