// Package policy holds the retry policy value object, the rules for
// merging overlapping subscriptions' policies (spec §4.2), and the
// jittered exponential backoff delay calculation (spec §4.3).
package policy

import "time"

// Policy is the per-dispatch retry budget: how many extra attempts, and
// how long to wait between them.
type Policy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// Override is a partial policy supplied by a subscription; nil fields fall
// back to the default policy before merging.
type Override struct {
	MaxRetries        *int
	BaseDelay         *time.Duration
	MaxDelay          *time.Duration
	BackoffMultiplier *float64
}

// Default returns the system default policy (spec §3, §6): 3 retries,
// 1s base delay, 30s max delay, multiplier 2.
func Default() Policy {
	return Policy{
		MaxRetries:        3,
		BaseDelay:         1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
	}
}

// Apply overlays a partial override onto a base policy, producing a full
// policy. Fields left nil in the override keep the base's value.
func (o Override) Apply(base Policy) Policy {
	p := base
	if o.MaxRetries != nil {
		p.MaxRetries = *o.MaxRetries
	}
	if o.BaseDelay != nil {
		p.BaseDelay = *o.BaseDelay
	}
	if o.MaxDelay != nil {
		p.MaxDelay = *o.MaxDelay
	}
	if o.BackoffMultiplier != nil {
		p.BackoffMultiplier = *o.BackoffMultiplier
	}
	return p
}

// Merge combines the full policies produced by every matching
// subscription's override into a single effective policy, field-wise
// under the most-permissive operator (spec §4.2): max retries, min base
// delay, max max-delay, max multiplier. Merge of zero policies returns the
// default policy; merge of one policy returns it unchanged.
func Merge(policies ...Policy) Policy {
	if len(policies) == 0 {
		return Default()
	}

	merged := policies[0]
	for _, p := range policies[1:] {
		if p.MaxRetries > merged.MaxRetries {
			merged.MaxRetries = p.MaxRetries
		}
		if p.BaseDelay < merged.BaseDelay {
			merged.BaseDelay = p.BaseDelay
		}
		if p.MaxDelay > merged.MaxDelay {
			merged.MaxDelay = p.MaxDelay
		}
		if p.BackoffMultiplier > merged.BackoffMultiplier {
			merged.BackoffMultiplier = p.BackoffMultiplier
		}
	}
	return merged
}
