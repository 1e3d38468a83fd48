package pipe

import (
	"math/rand"
	"time"
)

// BackoffPolicy computes reconnect delays. Delay grows by Factor per
// consecutive failure from Floor up to Ceiling; Jitter spreads herds of
// bridges reconnecting to a recovered endpoint at the same instant.
type BackoffPolicy struct {
	Floor   time.Duration
	Ceiling time.Duration
	Factor  float64
	Jitter  bool
}

// DefaultBackoff mirrors the reconnect defaults in config.
var DefaultBackoff = BackoffPolicy{
	Floor:   time.Second,
	Ceiling: time.Minute,
	Factor:  1.5,
	Jitter:  true,
}

// Next returns the delay before reconnect attempt n (0-based).
func (p BackoffPolicy) Next(attempt int) time.Duration {
	d := float64(p.Floor)
	for i := 0; i < attempt; i++ {
		d *= p.Factor
		if d >= float64(p.Ceiling) {
			d = float64(p.Ceiling)
			break
		}
	}

	if p.Jitter {
		// Up to 20% either way.
		d += d * (rand.Float64()*0.4 - 0.2)
	}

	if d < float64(p.Floor) {
		d = float64(p.Floor)
	}
	if d > float64(p.Ceiling) {
		d = float64(p.Ceiling)
	}
	return time.Duration(d)
}

// Clock abstracts timer waits so tests can drive the reconnect loop
// without real sleeps.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

// realClock is the production clock.
type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
