package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/syncspace/internal/thing"
)

// ActOptions holds flags for the act command.
type ActOptions struct {
	Args      string
	Priority  string
	QueryType string
	Query     string
	Timeout   time.Duration
}

// NewActCommand creates the act command.
func NewActCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ActOptions{}

	cmd := &cobra.Command{
		Use:   "act <action>",
		Short: "Apply an action locally and deliver it to the remote",
		Long: `Apply an action to the local space, then deliver it to the remote.
A failed delivery keeps the local effect and exits with status 1.

Example:
  syncspace act item_add --args '{"url":"https://example.com","title":"Example"}' \
    --query-type Saves --query '{"state":"unread"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App, out *OutputFormatter) error {
				actArgs, err := parseArgs(app.Registry, opts.Args)
				if err != nil {
					return fail(out, ExitCommandError, CodeInvalid, "invalid --args", err)
				}
				prio, err := thing.ParsePriority(opts.Priority)
				if err != nil {
					return fail(out, ExitCommandError, CodeInvalid, "invalid --priority", err)
				}
				var query *thing.Thing
				if opts.QueryType != "" {
					tmpl := &TemplateOptions{}
					if query, err = tmpl.template(app.Registry, []string{opts.QueryType, opts.Query}); err != nil {
						return fail(out, ExitCommandError, CodeInvalid, "invalid query", err)
					}
				}

				action := app.Source.Action(args[0], actArgs, thing.WithPriority(prio))
				waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
				defer cancel()
				rep, err := app.Source.SyncRemote(ctx, query, action).Wait(waitCtx)
				if err != nil {
					return fail(out, ExitFailure, CodeRemote, "action did not settle", err)
				}
				if err := rep.Err(); err != nil {
					if werr := out.Success(newReportView(rep)); werr != nil {
						return werr
					}
					return WrapExitError(ExitFailure, "action failed", err)
				}
				return out.Success(newReportView(rep))
			})
		},
	}
	cmd.Flags().StringVar(&opts.Args, "args", "{}", "action arguments as JSON")
	cmd.Flags().StringVar(&opts.Priority, "priority", "normal", "delivery priority (low|normal|high)")
	cmd.Flags().StringVar(&opts.QueryType, "query-type", "", "type of the record to refresh afterwards")
	cmd.Flags().StringVar(&opts.Query, "query", "{}", "identity of the record to refresh, as JSON")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Minute, "how long to wait for delivery")
	return cmd
}

func parseArgs(reg *thing.Registry, raw string) (thing.Map, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	v, err := thing.FromJSONValue(reg, obj)
	if err != nil {
		return nil, err
	}
	m, _ := v.(thing.Map)
	if m == nil {
		m = thing.Map{}
	}
	return m, nil
}
