package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/livedev/internal/build"
	"github.com/hupe1980/livedev/internal/config"
	"github.com/hupe1980/livedev/internal/devserver"
	"github.com/hupe1980/livedev/internal/logging"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [project-dir]",
		Short: "Start the development server",
		Long: `Serve builds the project, starts the page server and the update
websocket, and watches the source tree for changes.

Every change triggers an incremental rebuild. Rebuilds run one at a time;
changes that arrive during a rebuild are folded into a single follow-up
rebuild. Successful rebuilds are pushed to connected browsers as module
updates or full reloads, failed rebuilds as an error overlay while the last
good artifact keeps being served.

Press Ctrl+C to stop; file watches and listening sockets are released
before exit.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd, args)
		},
	}

	registerBuildFlags(cmd)
	registerServerFlags(cmd)

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, args []string) error {
	cfg := *config.FromContext(ctx)
	if len(args) == 1 {
		cfg.Root = args[0]
	}

	bcfg, err := config.LoadBuildConfig(cfg.ConfigFile)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	logger := logging.FromContext(ctx)

	opts := serverOptions(&cfg, bcfg, logger)
	opts.Ready = func(a devserver.Addrs) {
		if cfg.Quiet {
			return
		}

		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "\n  livedev ready at http://%s\n\n", a.Gateway)
	}

	if err := devserver.Run(ctx, opts); err != nil {
		var cfgErr *build.ConfigError
		if errors.As(err, &cfgErr) {
			return &ExitError{Code: 2, Err: err}
		}

		return err
	}

	return nil
}
