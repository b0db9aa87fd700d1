// Package clock provides small timing helpers shared by the leader and
// scout/commander retry loops.
package clock

import (
	"math/rand"
	"time"
)

const (
	baseBackoff = 20 * time.Millisecond
	maxBackoff  = 2 * time.Second
)

// Backoff returns a jittered exponential delay to wait before a re-spawned
// scout sends its first P1A, keyed on the new ballot's round. This damps
// dueling-leader churn: two leaders racing to higher rounds are unlikely to
// collide again immediately.
func Backoff(round uint64) time.Duration {
	d := baseBackoff
	for i := uint64(0); i < round && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2 + 1))
	return d/2 + jitter
}
