package pipeline

import "context"

// Stage is one unit of the pipeline. Implementations wrap an external
// inference provider, including any provider-level fallback chain; the
// sequencer only sees this contract.
//
// Attempt must be safe to re-invoke on the same Record (a retry re-runs the
// whole stage), must leave other stages' output fields untouched, and must
// signal failure by returning an error rather than silently producing
// nothing — the sequencer cannot otherwise distinguish "ran and produced
// nothing" from "succeeded with an empty answer".
type Stage interface {
	Name() string
	Attempt(ctx context.Context, rec *Record) error
}
