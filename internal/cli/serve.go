package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/syncspace/internal/config"
	"github.com/roach88/syncspace/internal/logging"
	"github.com/roach88/syncspace/internal/reading"
	"github.com/roach88/syncspace/internal/remote"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an in-memory reading-list backend",
		Long: `Run an in-memory backend for the reading domain that speaks the
remote protocol. Point remote.url at it to try the other commands.

Example:
  syncspace serve --addr 127.0.0.1:8420`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			log, err := logging.New(cfg.Logging)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to set up logging", err)
			}
			defer log.Sync()

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to listen", err)
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			handler := remote.Handler(reading.Registry(), reading.NewServer(log.Slog))
			return serve(ctx, ln, handler, rootOpts.formatter(cmd))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8420", "listen address")
	return cmd
}

// serve runs handler on ln until ctx is cancelled.
func serve(ctx context.Context, ln net.Listener, handler http.Handler, out *OutputFormatter) error {
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	out.VerboseLog("serving on %s", ln.Addr())

	select {
	case err := <-errc:
		return WrapExitError(ExitFailure, "server stopped", err)
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdown)
	if serr := <-errc; serr != nil && !errors.Is(serr, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "server stopped", serr)
	}
	return err
}
