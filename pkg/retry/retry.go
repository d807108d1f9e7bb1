// Package retry holds the backoff policies filmsync uses around its two
// external dependencies, and the loop that applies them.
package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	// ConnectAttempts bounds database connection establishment.
	ConnectAttempts = 10
	// TransportAttempts bounds every search engine round trip.
	TransportAttempts = 500
)

// Policy is a backoff schedule counted in attempts. The delay starts at
// Initial and is multiplied by Multiplier after every failure, up to Max.
type Policy struct {
	// Attempts caps the calls made, the first one included. 0 means
	// unbounded.
	Attempts int

	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// Jitter moves each delay by up to this fraction either way, in [0, 1].
	Jitter float64
}

// ConnectPolicy is used while opening the database pool: 10 attempts,
// 1s doubling to 30s.
func ConnectPolicy() Policy {
	return Policy{
		Attempts:   ConnectAttempts,
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     0.3,
	}
}

// TransportPolicy is used for search engine requests: 500 attempts, 1s
// doubling to a minute.
func TransportPolicy() Policy {
	return Policy{
		Attempts:   TransportAttempts,
		Initial:    time.Second,
		Max:        time.Minute,
		Multiplier: 2,
		Jitter:     0.3,
	}
}

// Fixed waits delay between attempts, without jitter.
func Fixed(delay time.Duration, attempts int) Policy {
	return Policy{
		Attempts:   attempts,
		Initial:    delay,
		Max:        delay,
		Multiplier: 1,
	}
}

// Delay returns the wait after the failed call number failed (1-based).
// The bool is false once Attempts calls have been made.
func (p Policy) Delay(failed int) (time.Duration, bool) {
	if p.Attempts > 0 && failed >= p.Attempts {
		return 0, false
	}

	delay := float64(p.Initial)
	if p.Multiplier > 1 && failed > 1 {
		delay *= math.Pow(p.Multiplier, float64(failed-1))
	}
	if p.Max > 0 && delay > float64(p.Max) {
		delay = float64(p.Max)
	}
	if p.Jitter > 0 {
		//nolint:gosec // jitter is not security sensitive
		delay += delay * p.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(delay), true
}
