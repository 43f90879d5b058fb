package pipeline

// DefaultMaxRetries allows 3 total attempts per stage (1 initial + 2 retries).
const DefaultMaxRetries = 2

// Decision is the routing outcome after a stage attempt.
type Decision int

const (
	// Retry re-invokes the same stage.
	Retry Decision = iota
	// Advance moves to the next stage in order.
	Advance
	// Terminate halts the run; downstream stages never execute.
	Terminate
)

func (d Decision) String() string {
	switch d {
	case Retry:
		return "retry"
	case Advance:
		return "advance"
	case Terminate:
		return "terminate"
	}
	return "unknown"
}

// Policy decides retry vs. advance vs. terminate after each stage attempt.
type Policy struct {
	// MaxRetries is the per-stage retry budget. A stage runs at most
	// MaxRetries+1 times.
	MaxRetries int
}

// DefaultPolicy returns the policy used when callers don't configure one.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries}
}

// Decide evaluates the record once after a stage attempt.
//
// A fresh failure is detected precisely when the stage's error count exceeds
// the retries already charged to it. Comparing against the charged count —
// rather than re-deriving intent from the error list — is what keeps a stale
// record from being retried forever: re-evaluating without a new error
// terminates instead of looping.
//
// Only the Retry branch mutates the record (it charges one retry). Advance
// and Terminate are read-only, so repeated evaluation on an unchanged record
// returns the same decision.
func (p Policy) Decide(rec *Record, stage string) Decision {
	charged := rec.RetryCounts[stage]
	newFailure := rec.ErrorCount(stage) > charged

	if !newFailure {
		if rec.HasOutput(stage) {
			return Advance
		}
		// No error recorded and no output produced. There is no forward
		// progress signal, so retrying would loop; terminate instead.
		return Terminate
	}

	if charged < p.MaxRetries {
		rec.RetryCounts[stage] = charged + 1
		return Retry
	}

	return Terminate
}
