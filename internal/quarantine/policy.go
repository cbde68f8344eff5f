package quarantine

import (
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/yairfalse/scantag/pkg/object"
)

// Policy maps a source object and a timestamp to its key inside the
// quarantine namespace.
type Policy func(src object.Location, at time.Time) string

// Deterministic keeps one destination per source: {store}/{key}.
func Deterministic(src object.Location, _ time.Time) string {
	return src.Store + "/" + src.Key
}

// PartitionLayout is the time prefix used by TimePartitioned.
const PartitionLayout = "2006/01/02/150405"

// TimePartitioned groups destinations by time: {YYYY/MM/DD/HHMMSS}/{store}/{key}.
// Callers pass the scan timestamp so redeliveries land on the same key.
func TimePartitioned(src object.Location, at time.Time) string {
	return at.UTC().Format(PartitionLayout) + "/" + Deterministic(src, at)
}

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "deterministic":
		return Deterministic, nil
	case "time-partitioned", "time_partitioned", "timestamp":
		return TimePartitioned, nil
	default:
		return nil, fmt.Errorf("unknown provenance policy %q", name)
	}
}

// PollPolicy bounds how long an asynchronous copy is waited on.
type PollPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	// Backoff grows the delay exponentially from Delay instead of keeping it fixed.
	Backoff bool
}

// DefaultPollPolicy waits up to ten polls one second apart.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{MaxAttempts: 10, Delay: time.Second}
}

func (p PollPolicy) attempts() uint {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return uint(p.MaxAttempts)
}

func (p PollPolicy) backOff() backoff.BackOff {
	if !p.Backoff {
		return backoff.NewConstantBackOff(p.Delay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Delay
	b.RandomizationFactor = 0
	return b
}
