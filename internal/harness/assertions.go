package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/syncspace/internal/reading"
	"github.com/roach88/syncspace/internal/space"
	"github.com/roach88/syncspace/internal/thing"
)

// AssertionError describes a failed assertion with the trace for context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		buf.WriteString("\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", ev)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages.
func EvaluateAssertions(result *Result, assertions []Assertion, view space.View) []string {
	reg := reading.Registry()
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertState:
			err = assertState(reg, view, a)
		case AssertAbsent:
			err = assertAbsent(reg, view, a)
		case AssertList:
			err = assertList(view, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func assertState(reg *thing.Registry, view space.View, a Assertion) error {
	tmpl, err := BuildTemplate(reg, a.Template)
	if err != nil {
		return err
	}
	got, ok := view.Get(tmpl)
	if !ok {
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("%s present", label(a.Template)),
			Actual:   "not found",
		}
	}
	if diff := fieldsDiff(got, a.Expect); diff != "" {
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("%s with %v", label(a.Template), a.Expect),
			Actual:   "diff (-want +got):\n" + diff,
		}
	}
	return nil
}

func assertAbsent(reg *thing.Registry, view space.View, a Assertion) error {
	tmpl, err := BuildTemplate(reg, a.Template)
	if err != nil {
		return err
	}
	if got, ok := view.Get(tmpl); ok {
		return &AssertionError{
			Type:     AssertAbsent,
			Expected: fmt.Sprintf("%s absent", label(a.Template)),
			Actual:   got.String(),
		}
	}
	return nil
}

// listURLs returns the given_url of every item in a Saves list.
func listURLs(view space.View, state string) ([]string, bool) {
	saves, ok := view.Get(reading.Saves(state))
	if !ok {
		return nil, false
	}
	raw, _ := saves.Get("items")
	items, _ := raw.(thing.List)
	urls := []string{}
	for _, it := range items {
		t, ok := it.(*thing.Thing)
		if !ok {
			continue
		}
		if u, ok := t.Get("given_url"); ok {
			urls = append(urls, string(u.(thing.String)))
		}
	}
	return urls, true
}

func assertList(view space.View, a Assertion) error {
	got, ok := listURLs(view, a.State)
	if !ok {
		return &AssertionError{
			Type:     AssertList,
			Expected: fmt.Sprintf("%s list %v", a.State, a.URLs),
			Actual:   "list not found",
		}
	}
	want := a.URLs
	if want == nil {
		want = []string{}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		return &AssertionError{
			Type:     AssertList,
			Expected: fmt.Sprintf("%s list %v", a.State, want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

// sentActions returns the names of act steps in trace order.
func sentActions(trace []TraceEvent) []string {
	var names []string
	for _, ev := range trace {
		if ev.Kind == KindAct {
			names = append(names, ev.Target)
		}
	}
	return names
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, name := range sentActions(trace) {
		if name == a.Action {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks that the first occurrences of actions appear in
// the given order. Other steps may come between them.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	sent := sentActions(trace)
	prev := -1
	for _, name := range a.Actions {
		pos := slices.Index(sent, name)
		if pos < 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", a.Actions),
				Actual:   fmt.Sprintf("missing action: %s", name),
				Trace:    trace,
			}
		}
		if pos <= prev {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", a.Actions),
				Actual:   fmt.Sprintf("%s came too early", name),
				Trace:    trace,
			}
		}
		prev = pos
	}
	return nil
}
