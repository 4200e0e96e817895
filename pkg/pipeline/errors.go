package pipeline

import (
	"errors"
	"fmt"
)

// ErrRunInFlight is returned when a run is requested while another run holds
// the single-flight lease. Callers retry later; requests are never queued.
var ErrRunInFlight = errors.New("a pipeline run is already in flight")

// TransientError wraps a network or database blip. Batch commits are atomic
// and the dedup decision is idempotent, so retrying the enclosing batch is
// always safe.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// MalformedRowError marks one bad input row. Counted and skipped, never
// fatal to the batch or the run.
type MalformedRowError struct {
	Seq    uint64
	Reason string
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("malformed row at seq %d: %s", e.Seq, e.Reason)
}

// ConsistencyError reports a broken core invariant, such as two active
// canonical records for one digest. It is never retried; the run aborts and
// the condition requires manual intervention.
type ConsistencyError struct {
	Digest string
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency violation for digest %s: %s", e.Digest, e.Detail)
}

// BudgetExceededError marks a run that ran past its wall-clock budget. Every
// batch committed before the deadline remains valid, so the failure is
// resumable rather than corrupting.
type BudgetExceededError struct {
	Budget string
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("run exceeded wall-clock budget of %s", e.Budget)
}

// IsConsistencyError reports whether err carries a ConsistencyError anywhere
// in its chain.
func IsConsistencyError(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}
