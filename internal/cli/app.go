package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/syncspace/internal/codec"
	"github.com/roach88/syncspace/internal/config"
	"github.com/roach88/syncspace/internal/crypt"
	"github.com/roach88/syncspace/internal/logging"
	"github.com/roach88/syncspace/internal/metrics"
	"github.com/roach88/syncspace/internal/reading"
	"github.com/roach88/syncspace/internal/remote"
	"github.com/roach88/syncspace/internal/source"
	"github.com/roach88/syncspace/internal/space"
	"github.com/roach88/syncspace/internal/spec"
	"github.com/roach88/syncspace/internal/store"
	"github.com/roach88/syncspace/internal/thing"
)

// ErrNoRemote is returned by fetches when no remote URL is configured.
var ErrNoRemote = errors.New("no remote configured")

// listsHolder keeps both reading lists durable for every command.
var listsHolder = space.PersistentHolder("lists")

// App is one opened syncspace: persistent space, orchestrator, and the
// ambient stack behind them.
type App struct {
	Config   *config.Config
	Log      *logging.Logger
	Registry *thing.Registry
	Store    *store.Migrating
	Space    *space.Space
	Source   *source.Source
	Metrics  *metrics.Metrics

	cancel context.CancelFunc
	done   chan struct{}
}

// openApp loads config and restores the space from the store. The caller
// must Close the App.
func openApp(ctx context.Context, opts *RootOptions) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up logging", err)
	}
	app := &App{Config: cfg, Log: log}
	if err := app.open(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) open(ctx context.Context) error {
	cfg, slogger := a.Config, a.Log.Slog

	reg := reading.Registry()
	if cfg.Schema != "" {
		var err error
		if reg, err = thing.LoadSchema(cfg.Schema); err != nil {
			return WrapExitError(ExitCommandError, "failed to load schema", err)
		}
	}
	a.Registry = reg

	if cfg.Metrics.Addr != "" {
		m, err := metrics.Setup(0)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to set up metrics", err)
		}
		a.Metrics = m
	}

	raw, err := store.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	if p, ok := raw.(*store.Pebble); ok && a.Metrics != nil {
		if err := a.Metrics.Register(p.Collector()); err != nil {
			raw.Close()
			return WrapExitError(ExitCommandError, "failed to register store metrics", err)
		}
	}
	var st store.Store = raw
	if cfg.Store.CacheSize > 0 {
		if st, err = store.NewCached(raw, cfg.Store.CacheSize); err != nil {
			raw.Close()
			return WrapExitError(ExitCommandError, "failed to set up store cache", err)
		}
	}
	a.Store, err = store.NewMigrating(ctx, st, uint64(cfg.Store.FormatVersion), store.WithMigrationLogger(slogger))
	if err != nil {
		st.Close()
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}

	c, err := newCodec(cfg, reg, slogger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up codec", err)
	}

	rules := reading.Rules(spec.WithRulesLogger(slogger))
	a.Space = space.New(
		space.WithStore(a.Store, c),
		space.WithDeriver(rules),
		space.WithLogger(slogger),
	)
	if err := a.Space.Restore(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to restore space", err)
	}
	if err := a.Space.Remember(ctx, listsHolder, reading.Saves(reading.StatusUnread), reading.Saves(reading.StatusArchived)); err != nil {
		return WrapExitError(ExitCommandError, "failed to retain lists", err)
	}

	srcOpts := []source.Option{
		source.WithWorkers(cfg.Source.Workers),
		source.WithRetries(cfg.Source.Retries, cfg.RetryBackoff()),
		source.WithResolver(spec.LocalFirst{MaxAge: cfg.MaxAge()}),
		source.WithLogger(slogger),
	}
	if cfg.Source.Coalesce {
		srcOpts = append(srcOpts, source.WithCoalescing())
	}
	a.Source = source.New(a.Space, rules, a.newRemote(reg), srcOpts...)
	if cfg.Remote.URL == "" {
		a.Source.SetNetworkEnabled(false)
	}

	if a.Metrics != nil {
		mctx, cancel := context.WithCancel(context.Background())
		a.cancel, a.done = cancel, make(chan struct{})
		go func() {
			defer close(a.done)
			if err := a.Metrics.Serve(mctx, cfg.Metrics.Addr, slogger); err != nil {
				slogger.Error("metrics: server stopped", "error", err)
			}
		}()
	}
	return nil
}

func (a *App) newRemote(reg *thing.Registry) remote.Remote {
	cfg := a.Config.Remote
	if cfg.URL == "" {
		return remote.Func(func(context.Context, *remote.Request) (*remote.Response, error) {
			return nil, ErrNoRemote
		})
	}
	opts := []remote.HTTPOption{
		remote.WithTimeout(a.Config.RemoteTimeout()),
		remote.WithHTTPLogger(a.Log.Slog),
	}
	for k, v := range cfg.Headers {
		opts = append(opts, remote.WithHeader(k, v))
	}
	return remote.NewHTTP(cfg.URL, reg, opts...)
}

// newCodec builds the blob codec: sensitive-field encryption plus the
// checksum, compression and seal layers the config enables.
func newCodec(cfg *config.Config, reg *thing.Registry, log *slog.Logger) (*codec.Codec, error) {
	opts := []codec.Option{codec.WithLogger(log)}
	var aead *crypt.AEAD
	switch cfg.Crypt.Mode {
	case "aead":
		aead = crypt.NewAEAD(crypt.NewFileKeyStore(cfg.Crypt.KeyFile, true))
		opts = append(opts, codec.WithEncrypter(aead))
	case "reversible":
		opts = append(opts, codec.WithEncrypter(crypt.Reversible{}))
	}

	var layers []codec.Layer
	if cfg.Store.Checksum {
		layers = append(layers, codec.Checksum{})
	}
	if cfg.Store.Compression {
		z, err := codec.NewZstd()
		if err != nil {
			return nil, err
		}
		layers = append(layers, z)
	}
	if cfg.Crypt.SealBlobs {
		if aead == nil {
			return nil, errors.New("seal_blobs needs aead mode")
		}
		layers = append(layers, codec.Seal{S: aead})
	}
	if len(layers) > 0 {
		opts = append(opts, codec.WithPipeline(codec.NewPipeline(layers...)))
	}
	return codec.New(reg, opts...), nil
}

// Close waits for pending work, then releases the source, the store and
// the metrics listener.
func (a *App) Close() error {
	var errs []error
	if a.Source != nil {
		if err := a.Source.Await(context.Background()); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, a.Source.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
	if a.Log != nil {
		_ = a.Log.Sync()
	}
	return errors.Join(errs...)
}
