// Package remote is the transport boundary: send a request carrying a
// query template and actions, get back structured Things or an error.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/syncspace/internal/thing"
)

var (
	// ErrOffline is returned while the network is disabled.
	ErrOffline = errors.New("remote: network disabled")

	// ErrResponse reports a reply that could not be interpreted.
	ErrResponse = errors.New("remote: malformed response")
)

// Request is one round trip. Query may be nil for action-only requests.
type Request struct {
	ID      string
	Query   *thing.Thing
	Actions []thing.Action
}

// NewRequest creates a request with a fresh UUIDv7 ID.
func NewRequest(query *thing.Thing, actions ...thing.Action) *Request {
	return &Request{ID: uuid.Must(uuid.NewV7()).String(), Query: query, Actions: actions}
}

// Response is the remote's reply.
//
// Query is the refreshed query Thing. Things are extra records the remote
// chose to send. ActionErrors and Results are keyed by the action's index
// in Request.Actions; an action without an entry in ActionErrors succeeded.
type Response struct {
	Query        *thing.Thing
	Things       []*thing.Thing
	ActionErrors map[int]string
	Results      map[int]*thing.Thing
}

// ActionError returns the remote's failure for action i, or nil.
func (r *Response) ActionError(i int) error {
	if r == nil {
		return nil
	}
	if msg, ok := r.ActionErrors[i]; ok {
		return &ActionError{Index: i, Message: msg}
	}
	return nil
}

// Remote sends requests.
type Remote interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Func adapts a function to Remote.
type Func func(ctx context.Context, req *Request) (*Response, error)

func (f Func) Send(ctx context.Context, req *Request) (*Response, error) { return f(ctx, req) }

// TransportError is a failure to complete the round trip: connectivity,
// timeout or a non-2xx status.
type TransportError struct {
	StatusCode int // 0 when no response arrived
	Retryable  bool
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote: transport failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote: transport failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ActionError is the remote rejecting one action.
type ActionError struct {
	Index   int
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("remote: action %d rejected: %s", e.Index, e.Message)
}

// IsRetryable reports whether err is worth retrying: a retryable transport
// failure. Offline, cancellation and action rejections are not.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrOffline) || errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransportError
	return errors.As(err, &te) && te.Retryable
}
