package remote

import (
	"context"
	"sync"
)

// Fake is a scripted Remote for tests. Each Send pops the next scripted
// reply; when the script is empty, Default is used (or an empty Response).
//
// Thread-safety: safe for concurrent use.
type Fake struct {
	mu       sync.Mutex
	script   []Func
	requests []*Request

	// Default answers when no scripted reply is left.
	Default Func
}

var _ Remote = (*Fake)(nil)

// Reply queues a fixed response.
func (f *Fake) Reply(resp *Response) *Fake {
	return f.Then(func(context.Context, *Request) (*Response, error) { return resp, nil })
}

// Fail queues a failure.
func (f *Fake) Fail(err error) *Fake {
	return f.Then(func(context.Context, *Request) (*Response, error) { return nil, err })
}

// Then queues an arbitrary reply function.
func (f *Fake) Then(fn Func) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, fn)
	return f
}

// Send records req and answers from the script.
func (f *Fake) Send(ctx context.Context, req *Request) (*Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var next Func
	if len(f.script) > 0 {
		next, f.script = f.script[0], f.script[1:]
	} else {
		next = f.Default
	}
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if next == nil {
		return &Response{}, nil
	}
	return next(ctx, req)
}

// Requests returns what was sent so far.
func (f *Fake) Requests() []*Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Request(nil), f.requests...)
}
