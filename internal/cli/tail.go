package cli

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/livedev/internal/broadcast"
	"github.com/hupe1980/livedev/internal/client"
	"github.com/hupe1980/livedev/internal/config"
	"github.com/hupe1980/livedev/internal/logging"
)

func newTailCommand() *cobra.Command {
	var errorTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "tail [ws-url]",
		Short: "Follow a running development server from the terminal",
		Long: `Tail connects to the update websocket of a running development server and
prints what a browser would see: module updates, reloads, build errors and
lost connections. The connection is retried until interrupted.

Without an argument the endpoint is derived from --host and --ws-port.`,
		Example: `  livedev tail
  livedev tail ws://127.0.0.1:35729/__livedev/ws`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(cmd.Context(), cmd, args, errorTimeout)
		},
	}

	registerClientFlags(cmd)
	cmd.Flags().DurationVar(&errorTimeout, "error-timeout", 0, "hide build errors after this long (0 keeps them until the next update)")

	return cmd
}

func runTail(ctx context.Context, cmd *cobra.Command, args []string, errorTimeout time.Duration) error {
	cfg := config.FromContext(ctx)

	endpoint, err := tailEndpoint(cfg, args)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := cmd.OutOrStdout()

	opts := client.DefaultOptions()
	opts.Endpoint = endpoint
	opts.RetryInterval = cfg.RetryInterval
	opts.ReloadDelay = cfg.ReloadDelay
	opts.ErrorTimeout = errorTimeout
	opts.Logger = logging.ComponentFromContext(ctx, "client")
	opts.NewOverlay = func() client.Overlay {
		return client.NewTerminalOverlay(w, cfg.NoColor)
	}
	opts.Page = client.PageFunc(func() {
		_, _ = fmt.Fprintf(w, "%s page reloaded\n", time.Now().Format(time.TimeOnly))
	})

	rt := client.New(opts)

	if !cfg.Quiet {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "tailing %s\n", endpoint)
	}

	return rt.Run(ctx)
}

// tailEndpoint returns the websocket URL given on the command line or
// derived from the configured host and port.
func tailEndpoint(cfg *config.Config, args []string) (string, error) {
	if len(args) == 1 {
		u, err := url.Parse(args[0])
		if err != nil {
			return "", fmt.Errorf("invalid endpoint %q: %w", args[0], err)
		}

		if u.Scheme != "ws" && u.Scheme != "wss" {
			return "", fmt.Errorf("invalid endpoint %q: scheme must be ws or wss", args[0])
		}

		if u.Path == "" {
			u.Path = broadcast.DefaultPath
		}

		return u.String(), nil
	}

	if cfg.WSPort == 0 {
		return "", fmt.Errorf("--ws-port is required when no endpoint is given")
	}

	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.WSPort)),
		Path:   broadcast.DefaultPath,
	}

	return u.String(), nil
}
