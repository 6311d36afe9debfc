package reading

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/syncspace/internal/remote"
	"github.com/roach88/syncspace/internal/space"
	"github.com/roach88/syncspace/internal/spec"
	"github.com/roach88/syncspace/internal/thing"
)

// serverHolder keeps everything the server knows alive.
var serverHolder = space.PersistentHolder("server")

// Server is an authoritative in-memory backend for the reading domain. It
// applies actions with the same rules the client uses and answers queries
// from its own space. Serve it over HTTP with remote.Handler.
//
// Its space has no deriver: replies carry stored fields only, and the
// client derives the rest.
//
// Thread-safety: safe for concurrent use. Requests are applied one at a
// time.
type Server struct {
	mu    sync.Mutex
	space *space.Space
	rules *spec.Rules
	log   *slog.Logger
}

var _ remote.Remote = (*Server)(nil)

// NewServer creates an empty server with both lists present.
func NewServer(log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	rules := Rules(spec.WithRulesLogger(log))
	s := &Server{
		space: space.New(space.WithLogger(log)),
		rules: rules,
		log:   log,
	}
	ctx := context.Background()
	for _, state := range []string{StatusUnread, StatusArchived} {
		list := Saves(state, thing.F("items", thing.List{}), thing.F("total", thing.Int(0)))
		if err := s.space.Remember(ctx, serverHolder, list); err != nil {
			panic(err)
		}
		if err := s.space.Imprint(ctx, list); err != nil {
			panic(err)
		}
	}
	return s
}

// Seed stores items as if they had been added, keeping their fields.
func (s *Server) Seed(ctx context.Context, items ...*thing.Thing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		if it.TypeName() != "Item" {
			return fmt.Errorf("seed: %s is not an Item", it.TypeName())
		}
		url, _ := it.Get("given_url")
		state := StatusUnread
		if v, ok := it.Get("status"); ok && v == thing.String(StatusArchived) {
			state = StatusArchived
		}
		if err := include(ctx, s.space, state, string(url.(thing.String))); err != nil {
			return err
		}
		if err := s.space.Imprint(ctx, it); err != nil {
			return err
		}
	}
	return nil
}

// Send applies the request's actions in order, then answers its query.
// A failed action is reported in ActionErrors and does not stop the rest.
func (s *Server) Send(ctx context.Context, req *remote.Request) (*remote.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := &remote.Response{}
	for i, a := range req.Actions {
		if err := s.rules.Apply(ctx, a, s.space); err != nil {
			if resp.ActionErrors == nil {
				resp.ActionErrors = make(map[int]string)
			}
			resp.ActionErrors[i] = err.Error()
			s.log.Info("reading: action rejected", "action", a.Name, "error", err)
			continue
		}
		if url := a.StringArg("url"); url != "" {
			if it, ok := s.space.Get(Item(url)); ok {
				if resp.Results == nil {
					resp.Results = make(map[int]*thing.Thing)
				}
				resp.Results[i] = it
			}
		}
	}
	if req.Query != nil {
		if v, ok := s.space.Get(req.Query); ok {
			resp.Query = v
		}
	}
	return resp, nil
}
