package thing

import (
	"fmt"
	"strconv"
)

// Priority is a delivery hint for remote sends. Higher values go first.
type Priority int

const (
	PriorityLow Priority = iota - 1
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "priority(" + strconv.Itoa(int(p)) + ")"
	}
}

// Action is an immutable record of an intended mutation.
//
// Time is a logical timestamp supplied by the caller (e.g. from a Clock);
// two actions with the same name, time and args are the same action.
// Returns optionally names the Thing type the remote reply decodes to.
type Action struct {
	Name     string
	Time     int64
	Priority Priority
	Args     Map
	Returns  string
}

// ActionOption configures an Action at construction.
type ActionOption func(*Action)

// WithPriority sets the delivery priority.
func WithPriority(p Priority) ActionOption {
	return func(a *Action) { a.Priority = p }
}

// WithReturns names the Thing type the remote reply should be decoded as.
func WithReturns(typeName string) ActionOption {
	return func(a *Action) { a.Returns = typeName }
}

// NewAction builds an action. The args map is copied.
func NewAction(name string, time int64, args Map, opts ...ActionOption) Action {
	a := Action{Name: name, Time: time, Priority: PriorityNormal, Args: make(Map, len(args))}
	for k, v := range args {
		a.Args[k] = v
	}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// Arg returns an argument value.
func (a Action) Arg(name string) (Value, bool) {
	v, ok := a.Args[name]
	return v, ok
}

// StringArg returns a string argument, or "" when absent or not a string.
func (a Action) StringArg(name string) string {
	if s, ok := a.Args[name].(String); ok {
		return string(s)
	}
	return ""
}

// Key computes the content-addressed idempotency key of the action.
// Priority is a delivery hint and is not part of the key.
func (a Action) Key() (string, error) {
	payload := Map{
		"name": String(a.Name),
		"time": Int(a.Time),
		"args": a.Args,
	}
	if a.Args == nil {
		payload["args"] = Map{}
	}
	data, err := MarshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("action key for %s: %w", a.Name, err)
	}
	return hashWithDomain(DomainAction, data), nil
}

// MarshalJSON renders the action as canonical JSON for transport.
func (a Action) MarshalJSON() ([]byte, error) {
	payload := Map{
		"action":   String(a.Name),
		"time":     Int(a.Time),
		"priority": String(a.Priority.String()),
	}
	if len(a.Args) > 0 {
		payload["args"] = a.Args
	}
	if a.Returns != "" {
		payload["returns"] = String(a.Returns)
	}
	return MarshalCanonical(payload)
}

// ParsePriority is the inverse of Priority.String.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}
