package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/roach88/syncspace/internal/thing"
)

type wireAction struct {
	Action   string          `json:"action"`
	Time     int64           `json:"time"`
	Priority string          `json:"priority,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Returns  string          `json:"returns,omitempty"`
}

type wireRequest struct {
	ID      string            `json:"id"`
	Query   json.RawMessage   `json:"query,omitempty"`
	Actions []json.RawMessage `json:"actions,omitempty"`
}

type wireResponse struct {
	Query        json.RawMessage            `json:"query,omitempty"`
	Things       []json.RawMessage          `json:"things,omitempty"`
	ActionErrors map[string]string          `json:"action_errors,omitempty"`
	Results      map[string]json.RawMessage `json:"results,omitempty"`
}

// EncodeRequest renders a request as JSON.
func EncodeRequest(req *Request) ([]byte, error) {
	w := wireRequest{ID: req.ID}
	if req.Query != nil {
		q, err := req.Query.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("encode query: %w", err)
		}
		w.Query = q
	}
	for _, a := range req.Actions {
		b, err := a.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("encode action %s: %w", a.Name, err)
		}
		w.Actions = append(w.Actions, b)
	}
	return json.Marshal(w)
}

// DecodeRequest parses a JSON request. Used by servers and test doubles.
func DecodeRequest(reg *thing.Registry, data []byte) (*Request, error) {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResponse, err)
	}
	req := &Request{ID: w.ID}
	if len(w.Query) > 0 {
		q, err := thing.DecodeJSON(reg, w.Query, "")
		if err != nil {
			return nil, fmt.Errorf("decode query: %w", err)
		}
		req.Query = q
	}
	for i, raw := range w.Actions {
		a, err := decodeAction(reg, raw)
		if err != nil {
			return nil, fmt.Errorf("decode action %d: %w", i, err)
		}
		req.Actions = append(req.Actions, a)
	}
	return req, nil
}

func decodeAction(reg *thing.Registry, raw json.RawMessage) (thing.Action, error) {
	var w wireAction
	if err := json.Unmarshal(raw, &w); err != nil {
		return thing.Action{}, err
	}
	p, err := thing.ParsePriority(w.Priority)
	if err != nil {
		return thing.Action{}, err
	}
	args := thing.Map{}
	if len(w.Args) > 0 {
		dec := json.NewDecoder(bytes.NewReader(w.Args))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return thing.Action{}, err
		}
		for k, v := range obj {
			val, err := thing.FromJSONValue(reg, v)
			if err != nil {
				return thing.Action{}, fmt.Errorf("arg %s: %w", k, err)
			}
			args[k] = val
		}
	}
	return thing.NewAction(w.Action, w.Time, args, thing.WithPriority(p), thing.WithReturns(w.Returns)), nil
}

// EncodeResponse renders a response as JSON.
func EncodeResponse(resp *Response) ([]byte, error) {
	var w wireResponse
	if resp.Query != nil {
		q, err := resp.Query.MarshalJSON()
		if err != nil {
			return nil, err
		}
		w.Query = q
	}
	for _, t := range resp.Things {
		b, err := t.MarshalJSON()
		if err != nil {
			return nil, err
		}
		w.Things = append(w.Things, b)
	}
	if len(resp.ActionErrors) > 0 {
		w.ActionErrors = make(map[string]string, len(resp.ActionErrors))
		for i, msg := range resp.ActionErrors {
			w.ActionErrors[strconv.Itoa(i)] = msg
		}
	}
	if len(resp.Results) > 0 {
		w.Results = make(map[string]json.RawMessage, len(resp.Results))
		for i, t := range resp.Results {
			b, err := t.MarshalJSON()
			if err != nil {
				return nil, err
			}
			w.Results[strconv.Itoa(i)] = b
		}
	}
	return json.Marshal(w)
}

// DecodeResponse parses a JSON reply to req. The query is decoded with the
// request query's type as hint and each result with its action's Returns.
func DecodeResponse(reg *thing.Registry, data []byte, req *Request) (*Response, error) {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResponse, err)
	}
	resp := &Response{}
	if len(w.Query) > 0 && string(w.Query) != "null" {
		hint := ""
		if req != nil && req.Query != nil {
			hint = req.Query.TypeName()
		}
		q, err := thing.DecodeJSON(reg, w.Query, hint)
		if err != nil {
			return nil, fmt.Errorf("%w: query: %w", ErrResponse, err)
		}
		resp.Query = q
	}
	for i, raw := range w.Things {
		t, err := thing.DecodeJSON(reg, raw, "")
		if err != nil {
			return nil, fmt.Errorf("%w: things[%d]: %w", ErrResponse, i, err)
		}
		resp.Things = append(resp.Things, t)
	}
	if len(w.ActionErrors) > 0 {
		resp.ActionErrors = make(map[int]string, len(w.ActionErrors))
		for k, msg := range w.ActionErrors {
			i, err := strconv.Atoi(k)
			if err != nil {
				return nil, fmt.Errorf("%w: action error key %q", ErrResponse, k)
			}
			resp.ActionErrors[i] = msg
		}
	}
	if len(w.Results) > 0 {
		resp.Results = make(map[int]*thing.Thing, len(w.Results))
		for k, raw := range w.Results {
			i, err := strconv.Atoi(k)
			if err != nil {
				return nil, fmt.Errorf("%w: result key %q", ErrResponse, k)
			}
			hint := ""
			if req != nil && i >= 0 && i < len(req.Actions) {
				hint = req.Actions[i].Returns
			}
			t, err := thing.DecodeJSON(reg, raw, hint)
			if err != nil {
				return nil, fmt.Errorf("%w: results[%d]: %w", ErrResponse, i, err)
			}
			resp.Results[i] = t
		}
	}
	return resp, nil
}
