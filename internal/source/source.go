package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/syncspace/internal/remote"
	"github.com/roach88/syncspace/internal/space"
	"github.com/roach88/syncspace/internal/spec"
	"github.com/roach88/syncspace/internal/thing"
)

var (
	metricSync          = []string{"source", "sync"}
	metricSyncLocal     = []string{"source", "sync", "local"}
	metricFetch         = []string{"source", "fetch"}
	metricFetchError    = []string{"source", "fetch", "error"}
	metricCoalesced     = []string{"source", "fetch", "coalesced"}
	metricActionOK      = []string{"source", "action", "success"}
	metricActionFailed  = []string{"source", "action", "failure"}
	metricRetry         = []string{"source", "retry"}
	metricQueueDepth    = []string{"source", "queue", "depth"}
	metricImprintFailed = []string{"source", "imprint", "error"}
)

const maxBackoff = 30 * time.Second

// Space is what the source needs from the graph cache.
type Space interface {
	spec.Space
	Remember(ctx context.Context, h space.Holder, things ...*thing.Thing) error
}

// Source ties a space, a rule set and a remote together.
//
// Thread-safety: all methods are safe for concurrent use.
type Source struct {
	space    Space
	spec     spec.Spec
	remote   *remote.Switch
	resolver spec.Resolver
	pub      Publisher
	log      *slog.Logger
	now      func() time.Time
	clock    *Clock

	workers  int64
	sem      *semaphore.Weighted
	queue    *jobQueue
	barrier  *Barrier
	coalesce bool
	flight   singleflight.Group
	retries  int
	backoff  time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Source.
type Option func(*Source)

// WithResolver sets the default resolver. The default is LocalFirst with
// no maximum age.
func WithResolver(r spec.Resolver) Option {
	return func(s *Source) { s.resolver = r }
}

// WithPublisher sets where callbacks run. The default is Inline.
func WithPublisher(p Publisher) Option {
	return func(s *Source) { s.pub = p }
}

// WithWorkers bounds concurrent remote requests. Values below 1 mean 1.
func WithWorkers(n int) Option {
	return func(s *Source) {
		if n < 1 {
			n = 1
		}
		s.workers = int64(n)
	}
}

// WithCoalescing shares one in-flight fetch between identical templates.
func WithCoalescing() Option {
	return func(s *Source) { s.coalesce = true }
}

// WithRetries retries retryable transport failures up to n times, waiting
// base, 2*base, 4*base and so on between attempts.
func WithRetries(n int, base time.Duration) Option {
	return func(s *Source) {
		s.retries = n
		s.backoff = base
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.log = l }
}

// WithClock sets the wall clock used for staleness and report times.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// WithLogicalClock sets the clock that stamps actions built by Action.
func WithLogicalClock(c *Clock) Option {
	return func(s *Source) { s.clock = c }
}

// New creates a source. The remote is wrapped in a network switch that
// starts enabled.
func New(sp Space, sc spec.Spec, r remote.Remote, opts ...Option) *Source {
	s := &Source{
		space:   sp,
		spec:    sc,
		remote:  remote.NewSwitch(r),
		pub:     Inline{},
		log:     slog.Default(),
		now:     time.Now,
		clock:   NewClock(),
		workers: 4,
		queue:   newJobQueue(),
		barrier: NewBarrier(),
		backoff: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resolver == nil {
		s.resolver = spec.LocalFirst{Now: s.now}
	}
	s.sem = semaphore.NewWeighted(s.workers)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Action builds an action stamped with the source's logical clock.
func (s *Source) Action(name string, args thing.Map, opts ...thing.ActionOption) thing.Action {
	return thing.NewAction(name, s.clock.Next(), args, opts...)
}

// SyncOption configures one Sync call.
type SyncOption func(*syncOptions)

type syncOptions struct {
	holder   *space.Holder
	resolver spec.Resolver
	priority thing.Priority
}

// WithHolder remembers the template under h before resolving, so fetched
// data is retained.
func WithHolder(h space.Holder) SyncOption {
	return func(o *syncOptions) { o.holder = &h }
}

// UsingResolver overrides the resolver for one call.
func UsingResolver(r spec.Resolver) SyncOption {
	return func(o *syncOptions) { o.resolver = r }
}

// AtPriority sets the queue priority of the fetch.
func AtPriority(p thing.Priority) SyncOption {
	return func(o *syncOptions) { o.priority = p }
}

// Sync resolves template against the space and, when the resolver asks
// for it, the remote. Local data the resolver accepts is published at
// once, as the final value when no fetch follows or as a provisional one
// otherwise. ctx bounds the synchronous part only; the fetch runs until
// it completes or the source closes.
func (s *Source) Sync(ctx context.Context, template *thing.Thing, opts ...SyncOption) *Result[*thing.Thing] {
	o := syncOptions{resolver: s.resolver, priority: thing.PriorityNormal}
	for _, opt := range opts {
		opt(&o)
	}
	metrics.IncrCounter(metricSync, 1)

	res := newResult[*thing.Thing](s.pub)
	s.barrier.Add()
	done := s.barrier.Done

	if template == nil {
		res.finish(nil, fmt.Errorf("sync: nil template"), done)
		return res
	}
	if o.holder != nil {
		if err := s.space.Remember(ctx, *o.holder, template); err != nil {
			res.finish(nil, fmt.Errorf("sync: %w", err), done)
			return res
		}
	}

	local := s.local(template)
	d := o.resolver.Resolve(template, local)
	deliver := d.Local && local.Found
	switch {
	case deliver && !d.Fetch:
		metrics.IncrCounter(metricSyncLocal, 1)
		res.finish(local.Value, nil, done)
		return res
	case !d.Fetch:
		res.finish(nil, ErrNotFound, done)
		return res
	case deliver:
		res.update(local.Value)
	}

	ok := s.submit(&job{
		priority: o.priority,
		run: func() {
			v, err := s.fetch(template)
			res.finish(v, err, done)
		},
		abort: func(err error) { res.finish(nil, err, done) },
	})
	if !ok {
		res.finish(nil, ErrClosed, done)
	}
	return res
}

func (s *Source) local(template *thing.Thing) spec.Local {
	v, found := s.space.Get(template)
	l := spec.Local{Value: v, Found: found}
	if rec, ok := s.space.Lookup(template); ok {
		l.Updated = rec.Updated
	}
	return l
}

// fetch asks the remote for template, imprints the reply and reads the
// merged result back.
func (s *Source) fetch(template *thing.Thing) (*thing.Thing, error) {
	defer metrics.MeasureSince(metricFetch, time.Now())

	var (
		resp *remote.Response
		err  error
	)
	if s.coalesce {
		resp, err = s.fetchShared(template)
	} else {
		resp, err = s.send(remote.NewRequest(template))
	}
	if err != nil {
		metrics.IncrCounter(metricFetchError, 1)
		s.log.Warn("source: fetch failed", "type", template.TypeName(), "error", err)
		return nil, err
	}
	if err := s.absorb(resp, nil); err != nil {
		return nil, err
	}

	if v, ok := s.space.Get(template); ok {
		return v, nil
	}
	// Nothing retains the identity, so the reply was not kept.
	if resp.Query != nil {
		if req := template.Requested(); len(req) > 0 {
			return resp.Query.Project(req...), nil
		}
		return resp.Query, nil
	}
	return nil, ErrNotFound
}

func (s *Source) fetchShared(template *thing.Thing) (*remote.Response, error) {
	key, err := thing.MarshalCanonical(template)
	if err != nil {
		return s.send(remote.NewRequest(template))
	}
	v, err, shared := s.flight.Do(string(key), func() (any, error) {
		return s.send(remote.NewRequest(template))
	})
	if shared {
		metrics.IncrCounter(metricCoalesced, 1)
	}
	if err != nil {
		return nil, err
	}
	return v.(*remote.Response), nil
}

// send performs one round trip, retrying retryable transport failures.
func (s *Source) send(req *remote.Request) (*remote.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := s.remote.Send(s.ctx, req)
		if err == nil {
			if resp == nil {
				resp = &remote.Response{}
			}
			return resp, nil
		}
		if attempt >= s.retries || !remote.IsRetryable(err) {
			return nil, err
		}
		delay := s.backoff << attempt
		if delay <= 0 || delay > maxBackoff {
			delay = maxBackoff
		}
		metrics.IncrCounter(metricRetry, 1)
		s.log.Debug("source: retrying", "request_id", req.ID, "attempt", attempt+1, "delay", delay, "error", err)

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-s.ctx.Done():
			t.Stop()
			return nil, err
		}
	}
}

// absorb imprints a reply. A failure to imprint the refreshed query is
// returned; other Things are imprinted best effort.
func (s *Source) absorb(resp *remote.Response, results []*thing.Thing) error {
	// A reply that arrived is kept even when Close races with it.
	ctx := context.WithoutCancel(s.ctx)
	if resp.Query != nil {
		if err := s.space.Imprint(ctx, resp.Query); err != nil && !errors.Is(err, thing.ErrNoIdentity) {
			metrics.IncrCounter(metricImprintFailed, 1)
			return fmt.Errorf("imprint %s: %w", resp.Query.TypeName(), err)
		}
	}
	extra := append(append([]*thing.Thing(nil), resp.Things...), results...)
	for _, t := range extra {
		if t == nil {
			continue
		}
		if err := s.space.Imprint(ctx, t); err != nil && !errors.Is(err, thing.ErrNoIdentity) {
			metrics.IncrCounter(metricImprintFailed, 1)
			s.log.Warn("source: imprint failed", "type", t.TypeName(), "error", err)
		}
	}
	return nil
}

// SyncRemote applies each action's local effect now, queues the actions
// for remote delivery by priority and reports per-action outcomes once
// they settle. Failed actions are not rolled back. When template is not
// nil it is fetched after the last action settles and returned as
// Report.Query.
func (s *Source) SyncRemote(ctx context.Context, template *thing.Thing, actions ...thing.Action) *Result[*Report] {
	res := newResult[*Report](s.pub)
	s.barrier.Add()

	b := &batch{
		s:        s,
		res:      res,
		template: template,
		report:   &Report{Outcomes: make([]Outcome, len(actions))},
	}
	var queued []int
	for i, a := range actions {
		b.report.Outcomes[i] = Outcome{Action: a, Status: Pending}
		if err := s.spec.Apply(ctx, a, s.space); err != nil {
			metrics.IncrCounter(metricActionFailed, 1)
			b.report.Outcomes[i].Status = Failure
			b.report.Outcomes[i].Err = err
			continue
		}
		queued = append(queued, i)
	}
	b.remaining = len(queued)
	if b.remaining == 0 {
		b.settle()
		return res
	}

	for _, i := range queued {
		a := actions[i]
		ok := s.submit(&job{
			priority: a.Priority,
			run:      func() { b.record(i, s.deliver(a)) },
			abort:    func(err error) { b.record(i, Outcome{Action: a, Status: Failure, Err: err}) },
		})
		if !ok {
			b.record(i, Outcome{Action: a, Status: Failure, Err: ErrClosed})
		}
	}
	return res
}

// deliver sends one action.
func (s *Source) deliver(a thing.Action) Outcome {
	resp, err := s.send(remote.NewRequest(nil, a))
	if err == nil {
		err = resp.ActionError(0)
	}
	if err != nil {
		metrics.IncrCounter(metricActionFailed, 1)
		s.log.Warn("source: action failed", "action", a.Name, "time", a.Time, "error", err)
		return Outcome{Action: a, Status: Failure, Err: err}
	}
	metrics.IncrCounter(metricActionOK, 1)
	result := resp.Results[0]
	var results []*thing.Thing
	if result != nil {
		results = append(results, result)
	}
	if err := s.absorb(resp, results); err != nil {
		s.log.Warn("source: reply not imprinted", "action", a.Name, "error", err)
	}
	return Outcome{Action: a, Status: Success, Result: result}
}

// batch collects the outcomes of one SyncRemote call.
type batch struct {
	s        *Source
	res      *Result[*Report]
	template *thing.Thing

	mu        sync.Mutex
	report    *Report
	remaining int
}

func (b *batch) record(i int, o Outcome) {
	b.mu.Lock()
	b.report.Outcomes[i] = o
	b.remaining--
	last := b.remaining == 0
	b.mu.Unlock()
	if last {
		b.settle()
	}
}

// settle refreshes the template if there is one, then finishes.
func (b *batch) settle() {
	if b.template == nil {
		b.finish()
		return
	}
	ok := b.s.submit(&job{
		priority: thing.PriorityNormal,
		run: func() {
			b.report.Query, b.report.QueryErr = b.s.fetch(b.template)
			b.finish()
		},
		abort: func(err error) {
			b.report.QueryErr = err
			b.finish()
		},
	})
	if !ok {
		b.report.QueryErr = ErrClosed
		b.finish()
	}
}

func (b *batch) finish() {
	b.report.Completed = b.s.now()
	b.res.finish(b.report, b.report.Err(), b.s.barrier.Done)
}

// submit queues j and starts workers.
func (s *Source) submit(j *job) bool {
	if !s.queue.push(j) {
		return false
	}
	metrics.SetGauge(metricQueueDepth, float32(s.queue.len()))
	s.pump()
	return true
}

// pump starts queued jobs while worker slots are free. It runs after every
// push and after every finished job, so a job is never stranded with a
// free slot.
func (s *Source) pump() {
	for {
		if !s.sem.TryAcquire(1) {
			return
		}
		j, ok := s.queue.pop(&s.wg)
		if !ok {
			s.sem.Release(1)
			if s.queue.len() == 0 {
				return
			}
			continue
		}
		go func() {
			defer s.wg.Done()
			j.run()
			s.sem.Release(1)
			s.pump()
		}()
	}
}

// Await blocks until every submitted Sync and SyncRemote has published
// its final value, including work submitted while waiting.
func (s *Source) Await(ctx context.Context) error {
	return s.barrier.Wait(ctx)
}

// SetNetworkEnabled toggles the network. Disabling fails in-flight and
// later remote requests with remote.ErrOffline.
func (s *Source) SetNetworkEnabled(on bool) {
	s.remote.SetEnabled(on)
	s.log.Info("source: network toggled", "enabled", on)
}

// NetworkEnabled reports the network flag.
func (s *Source) NetworkEnabled() bool {
	return s.remote.Enabled()
}

// Close fails queued jobs with ErrClosed, cancels in-flight requests and
// waits for the workers to exit.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		for _, j := range s.queue.close() {
			j.abort(ErrClosed)
		}
		s.cancel()
		s.wg.Wait()
	})
	return nil
}
