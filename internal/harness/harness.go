package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/syncspace/internal/reading"
	"github.com/roach88/syncspace/internal/source"
	"github.com/roach88/syncspace/internal/space"
	"github.com/roach88/syncspace/internal/spec"
	"github.com/roach88/syncspace/internal/thing"
)

// stepTimeout bounds how long one step may take to settle.
const stepTimeout = 10 * time.Second

var (
	listsHolder    = space.PersistentHolder("lists")
	scenarioHolder = space.SessionHolder("scenario")
)

// Harness holds the client side of one run.
type Harness struct {
	reg    *thing.Registry
	source *source.Source
	logger *slog.Logger
}

// Run executes a scenario against a fresh server and client space.
//
// A step whose expectation fails is recorded as an error and the run goes
// on. Malformed steps, such as args that do not convert, abort the run.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := reading.Registry()

	server := reading.NewServer(logger)
	for i, raw := range scenario.Seed {
		rec, err := toThing(reg, raw)
		if err != nil {
			return nil, fmt.Errorf("seed[%d]: %w", i, err)
		}
		if err := server.Seed(ctx, rec); err != nil {
			return nil, fmt.Errorf("seed[%d]: %w", i, err)
		}
	}

	rules := reading.Rules(spec.WithRulesLogger(logger))
	sp := space.New(space.WithDeriver(rules), space.WithLogger(logger))
	if err := sp.Remember(ctx, listsHolder, reading.Saves(reading.StatusUnread), reading.Saves(reading.StatusArchived)); err != nil {
		return nil, err
	}
	src := source.New(sp, rules, server,
		source.WithWorkers(1),
		source.WithLogicalClock(source.NewClock()),
		source.WithLogger(logger),
	)
	defer src.Close()

	h := &Harness{reg: reg, source: src, logger: logger}
	result := NewResult()
	for i, step := range scenario.Flow {
		if err := h.executeStep(ctx, step, result); err != nil {
			return nil, fmt.Errorf("flow[%d]: %w", i, err)
		}
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, sp) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) executeStep(ctx context.Context, step FlowStep, result *Result) error {
	waitCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	var (
		ev     TraceEvent
		synced *thing.Thing
	)
	switch {
	case step.Network != nil:
		h.source.SetNetworkEnabled(*step.Network)
		ev = TraceEvent{Kind: KindNetwork, Target: "off"}
		if *step.Network {
			ev.Target = "on"
		}

	case step.Sync != nil:
		tmpl, err := BuildTemplate(h.reg, step.Sync)
		if err != nil {
			return err
		}
		got, err := h.source.Sync(ctx, tmpl,
			source.WithHolder(scenarioHolder),
			source.UsingResolver(resolverFor(step.Resolver)),
		).Wait(waitCtx)
		ev = TraceEvent{Kind: KindSync, Target: label(step.Sync), Status: statusOf(err)}
		if err != nil {
			ev.Error = err.Error()
		}
		synced = got

	default:
		args, err := toMap(h.reg, step.Args)
		if err != nil {
			return fmt.Errorf("args: %w", err)
		}
		prio, err := thing.ParsePriority(step.Priority)
		if err != nil {
			return err
		}
		var refresh *thing.Thing
		if step.Refresh != nil {
			if refresh, err = BuildTemplate(h.reg, step.Refresh); err != nil {
				return err
			}
		}
		action := h.source.Action(step.Act, args, thing.WithPriority(prio))
		rep, err := h.source.SyncRemote(ctx, refresh, action).Wait(waitCtx)
		if err != nil {
			return err
		}
		o := rep.Outcomes[0]
		ev = TraceEvent{
			Kind:     KindAct,
			Target:   action.Name,
			Time:     action.Time,
			Priority: action.Priority.String(),
			Status:   StatusSuccess,
		}
		if o.Status == source.Failure {
			ev.Status, ev.Error = StatusFailure, o.Err.Error()
		}
		if refresh != nil {
			ev.Refresh = "ok"
			if rep.QueryErr != nil {
				ev.Refresh = "failed"
			}
		}
	}

	if err := h.source.Await(waitCtx); err != nil {
		return err
	}
	result.record(ev)
	h.logger.Info("harness: step done", "kind", ev.Kind, "target", ev.Target, "status", ev.Status)

	if step.Expect == nil {
		return nil
	}
	if ev.Status != step.Expect.Status {
		result.AddError(fmt.Sprintf("step %d (%s %s): expected %s, got %s %s",
			ev.Seq, ev.Kind, ev.Target, step.Expect.Status, ev.Status, ev.Error))
		return nil
	}
	if len(step.Expect.Fields) > 0 {
		if diff := fieldsDiff(synced, step.Expect.Fields); diff != "" {
			result.AddError(fmt.Sprintf("step %d (%s %s): fields mismatch (-want +got):\n%s",
				ev.Seq, ev.Kind, ev.Target, diff))
		}
	}
	return nil
}

func resolverFor(name string) spec.Resolver {
	switch name {
	case "local":
		return spec.LocalOnly{}
	case "remote":
		return spec.RemoteOnly{}
	case "complete":
		return spec.Complete{}
	default:
		return spec.LocalFirst{}
	}
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, source.ErrNotFound):
		return StatusNotFound
	default:
		return StatusFailure
	}
}

// label renders a template as Type plus its canonical identity, e.g.
// Saves{"state":"unread"}.
func label(t *Template) string {
	data, err := json.Marshal(t.Identity)
	if err != nil {
		return t.Type
	}
	return t.Type + string(data)
}

// BuildTemplate converts a scenario template into a Thing.
func BuildTemplate(reg *thing.Registry, t *Template) (*thing.Thing, error) {
	obj, err := toJSON(t.Identity)
	if err != nil {
		return nil, err
	}
	tmpl, err := thing.FromJSONObject(reg, obj.(map[string]any), t.Type)
	if err != nil {
		return nil, err
	}
	for _, f := range t.Fields {
		if tmpl, err = tmpl.With(f, thing.Null{}); err != nil {
			return nil, err
		}
	}
	return tmpl, nil
}

func toThing(reg *thing.Registry, raw map[string]any) (*thing.Thing, error) {
	obj, err := toJSON(raw)
	if err != nil {
		return nil, err
	}
	return thing.FromJSONObject(reg, obj.(map[string]any), "")
}

func toMap(reg *thing.Registry, raw map[string]any) (thing.Map, error) {
	if raw == nil {
		return thing.Map{}, nil
	}
	obj, err := toJSON(raw)
	if err != nil {
		return nil, err
	}
	v, err := thing.FromJSONValue(reg, obj)
	if err != nil {
		return nil, err
	}
	return v.(thing.Map), nil
}

// toJSON converts YAML-decoded values into the shapes encoding/json
// produces with UseNumber, so thing's JSON decoding applies unchanged.
// Non-integral floats come out as decimal numbers and are rejected there.
func toJSON(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool:
		return val, nil
	case int:
		return json.Number(strconv.Itoa(val)), nil
	case int64:
		return json.Number(strconv.FormatInt(val, 10)), nil
	case uint64:
		return json.Number(strconv.FormatUint(val, 10)), nil
	case float64:
		return json.Number(strconv.FormatFloat(val, 'f', -1, 64)), nil
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			c, err := toJSON(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = c
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			c, err := toJSON(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = c
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
}

// plain round-trips v through encoding/json so expected YAML values and
// actual canonical JSON compare as the same Go types.
func plain(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(data, &out)
	return out, err
}

// fieldsDiff compares the named fields of got with want. An empty result
// means every field matched.
func fieldsDiff(got *thing.Thing, want map[string]any) string {
	if got == nil {
		return "record missing"
	}
	actual, err := plain(got)
	if err != nil {
		return err.Error()
	}
	gotFields, _ := actual.(map[string]any)
	wantJSON, err := toJSON(want)
	if err != nil {
		return err.Error()
	}
	expected, err := plain(wantJSON)
	if err != nil {
		return err.Error()
	}
	wantFields := expected.(map[string]any)

	subset := make(map[string]any, len(wantFields))
	for k := range wantFields {
		if v, ok := gotFields[k]; ok {
			subset[k] = v
		}
	}
	return cmp.Diff(wantFields, subset)
}
