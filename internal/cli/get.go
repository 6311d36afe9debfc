package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/syncspace/internal/source"
	"github.com/roach88/syncspace/internal/space"
	"github.com/roach88/syncspace/internal/spec"
	"github.com/roach88/syncspace/internal/thing"
)

// TemplateOptions select a Thing by type, identity and requested fields.
type TemplateOptions struct {
	Fields []string
}

func (o *TemplateOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&o.Fields, "fields", nil, "fields to request (default: the whole record)")
}

// template builds the query Thing from "<type> [identity-json]".
func (o *TemplateOptions) template(reg *thing.Registry, args []string) (*thing.Thing, error) {
	typeName := args[0]
	typ, ok := reg.Type(typeName)
	if !ok {
		return nil, errors.New("unknown type " + typeName)
	}
	identity := "{}"
	if len(args) > 1 {
		identity = args[1]
	}
	t, err := thing.DecodeJSON(reg, []byte(identity), typeName)
	if err != nil {
		return nil, err
	}
	for _, name := range o.Fields {
		if typ.IsIdentityField(name) {
			continue
		}
		if t, err = t.With(name, thing.Null{}); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TemplateOptions{}

	cmd := &cobra.Command{
		Use:   "get <type> [identity-json]",
		Short: "Read a record from the local space",
		Long: `Read a record from the local space without contacting the remote.

Example:
  syncspace get Item '{"given_url":"https://example.com"}' --fields title,status
  syncspace get Saves '{"state":"unread"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(_ context.Context, app *App, out *OutputFormatter) error {
				tmpl, err := opts.template(app.Registry, args)
				if err != nil {
					return fail(out, ExitCommandError, CodeInvalid, "invalid template", err)
				}
				got, ok := app.Space.Get(tmpl)
				if !ok {
					return fail(out, ExitFailure, CodeNotFound, "not found", nil)
				}
				return out.Success(thingView{got})
			})
		},
	}
	opts.bind(cmd)
	return cmd
}

// FetchOptions holds flags for the fetch command.
type FetchOptions struct {
	TemplateOptions
	Holder     string
	Timeout    time.Duration
	LocalFirst bool
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FetchOptions{}

	cmd := &cobra.Command{
		Use:   "fetch <type> [identity-json]",
		Short: "Fetch a record from the remote and keep it",
		Long: `Fetch a record from the remote, imprint it into the space and retain
it under a persistent holder so it survives restarts.

Example:
  syncspace fetch Saves '{"state":"unread"}' --holder lists`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App, out *OutputFormatter) error {
				if app.Config.Remote.URL == "" {
					return fail(out, ExitCommandError, CodeRemote, "cannot fetch", ErrNoRemote)
				}
				tmpl, err := opts.template(app.Registry, args)
				if err != nil {
					return fail(out, ExitCommandError, CodeInvalid, "invalid template", err)
				}
				var resolver spec.Resolver = spec.RemoteOnly{}
				if opts.LocalFirst {
					resolver = spec.LocalFirst{MaxAge: app.Config.MaxAge()}
				}
				res := app.Source.Sync(ctx, tmpl,
					source.WithHolder(space.PersistentHolder(opts.Holder)),
					source.UsingResolver(resolver),
				)
				waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
				defer cancel()
				got, err := res.Wait(waitCtx)
				switch {
				case errors.Is(err, source.ErrNotFound):
					return fail(out, ExitFailure, CodeNotFound, "not found", err)
				case err != nil:
					return fail(out, ExitFailure, CodeRemote, "fetch failed", err)
				}
				return out.Success(thingView{got})
			})
		},
	}
	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.Holder, "holder", "cli", "persistent holder that retains the result")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Minute, "how long to wait for the remote")
	cmd.Flags().BoolVar(&opts.LocalFirst, "local-first", false, "answer from the space when the record is fresh")
	return cmd
}
