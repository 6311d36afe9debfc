package source

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/syncspace/internal/thing"
)

var (
	// ErrClosed is reported for work submitted to, or pending in, a closed
	// source.
	ErrClosed = errors.New("source: closed")

	// ErrNotFound is reported when neither the space nor the remote could
	// produce a value for a template.
	ErrNotFound = errors.New("source: not found")
)

// Status is the outcome of one action.
type Status int

const (
	Pending Status = iota
	Success
	Failure
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is what happened to one action of a SyncRemote call. Result is
// the Thing the remote returned for it, if any. A failed action keeps its
// optimistic local effect.
type Outcome struct {
	Action thing.Action
	Status Status
	Err    error
	Result *thing.Thing
}

// Report is the final value of SyncRemote. Query is the refreshed
// template after every action settled; QueryErr is why it is missing.
type Report struct {
	Outcomes  []Outcome
	Query     *thing.Thing
	QueryErr  error
	Completed time.Time
}

// Failed returns the outcomes that failed.
func (r *Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == Failure {
			out = append(out, o)
		}
	}
	return out
}

// Err returns the first action failure as an *OutcomeError, or nil.
func (r *Report) Err() error {
	for i, o := range r.Outcomes {
		if o.Status == Failure {
			return &OutcomeError{Index: i, Action: o.Action, Err: o.Err}
		}
	}
	return nil
}

// OutcomeError is a failed action of a SyncRemote call.
type OutcomeError struct {
	Index  int
	Action thing.Action
	Err    error
}

func (e *OutcomeError) Error() string {
	return fmt.Sprintf("action %d (%s) failed: %v", e.Index, e.Action.Name, e.Err)
}

func (e *OutcomeError) Unwrap() error { return e.Err }
