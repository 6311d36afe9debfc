package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/syncspace/internal/space"
	"github.com/roach88/syncspace/internal/thing"
)

// NewImprintCommand creates the imprint command.
func NewImprintCommand(rootOpts *RootOptions) *cobra.Command {
	var holder string

	cmd := &cobra.Command{
		Use:   "imprint <json|->",
		Short: "Merge a record into the local space",
		Long: `Merge a record into the local space. The JSON object must carry
"_type". The record is retained under a persistent holder first, since the
space drops records nothing retains.

Example:
  syncspace imprint '{"_type":"Item","given_url":"https://example.com","title":"Example"}'
  cat item.json | syncspace imprint -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := []byte(args[0])
			if args[0] == "-" {
				var err error
				if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return WrapExitError(ExitCommandError, "failed to read stdin", err)
				}
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App, out *OutputFormatter) error {
				t, err := thing.DecodeJSON(app.Registry, data, "")
				if err != nil {
					return fail(out, ExitCommandError, CodeInvalid, "invalid record", err)
				}
				id, err := t.Identity()
				if err != nil {
					return fail(out, ExitCommandError, CodeInvalid, "record has no identity", err)
				}
				if err := app.Space.Remember(ctx, space.PersistentHolder(holder), t); err != nil {
					return fail(out, ExitFailure, CodeStore, "failed to retain", err)
				}
				if err := app.Space.Imprint(ctx, t); err != nil {
					return fail(out, ExitFailure, CodeStore, "failed to imprint", err)
				}
				out.VerboseLog("retained %s under %s", id, holder)
				got, _ := app.Space.Get(t.Template())
				if got == nil {
					got = t
				}
				return out.Success(thingView{got})
			})
		},
	}
	cmd.Flags().StringVar(&holder, "holder", "cli", "persistent holder that retains the record")
	return cmd
}

// NewForgetCommand creates the forget command.
func NewForgetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <holder>",
		Short: "Drop a persistent holder and evict what only it retained",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App, out *OutputFormatter) error {
				before := app.Space.Len()
				if err := app.Space.Forget(ctx, space.PersistentHolder(args[0])); err != nil {
					return fail(out, ExitCommandError, CodeInvalid, "failed to forget", err)
				}
				evicted := before - app.Space.Len()
				if out.Format == "json" {
					return out.Success(map[string]any{"holder": args[0], "evicted": evicted})
				}
				return out.Success(fmt.Sprintf("forgot %s, evicted %d records", args[0], evicted))
			})
		},
	}
}

// NewHoldersCommand creates the holders command.
func NewHoldersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "holders",
		Short: "List holders and how many records each claims",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(_ context.Context, app *App, out *OutputFormatter) error {
				return out.Success(newHoldersView(app.Space.Holders()))
			})
		},
	}
}
