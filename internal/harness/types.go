package harness

import (
	"fmt"
	"strings"
)

// Step kinds recorded in the trace.
const (
	KindSync    = "sync"
	KindAct     = "act"
	KindNetwork = "network"
)

// Step statuses.
const (
	StatusSuccess  = "success"
	StatusFailure  = "failure"
	StatusNotFound = "not_found"
)

// TraceEvent records one executed flow step.
type TraceEvent struct {
	Seq      int    `json:"seq"`
	Kind     string `json:"kind"`
	Target   string `json:"target,omitempty"` // action name or template label
	Time     int64  `json:"time,omitempty"`   // logical time of an action
	Priority string `json:"priority,omitempty"`
	Status   string `json:"status,omitempty"`
	Refresh  string `json:"refresh,omitempty"` // "ok" or "failed" when act refreshed a template
	Error    string `json:"error,omitempty"`
}

// String renders the event as one trace line. Errors are left out so the
// line does not depend on error wording.
func (e TraceEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s", e.Seq, e.Kind)
	if e.Target != "" {
		fmt.Fprintf(&b, " %s", e.Target)
	}
	if e.Time != 0 {
		fmt.Fprintf(&b, " t=%d", e.Time)
	}
	if e.Priority != "" {
		fmt.Fprintf(&b, " %s", e.Priority)
	}
	if e.Status != "" {
		fmt.Fprintf(&b, " %s", e.Status)
	}
	if e.Refresh != "" {
		fmt.Fprintf(&b, " refresh=%s", e.Refresh)
	}
	return b.String()
}

// Result is the outcome of a scenario run.
type Result struct {
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) record(e TraceEvent) {
	e.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, e)
}

// TraceText renders the trace one event per line.
func (r *Result) TraceText() string {
	var b strings.Builder
	for _, e := range r.Trace {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}
