package cli

import (
	"log/slog"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hupe1980/livedev/internal/build"
	"github.com/hupe1980/livedev/internal/config"
	"github.com/hupe1980/livedev/internal/devserver"
	"github.com/hupe1980/livedev/internal/watch"
)

// Flags are declared without destination variables: their names match the
// config keys, so config.Load binds them and commands read the merged
// result from config.FromContext.

// registerBuildFlags adds the compiler flags to a cobra command.
func registerBuildFlags(cmd *cobra.Command) {
	d := config.Default()

	f := cmd.Flags()
	f.StringSliceP("entry", "e", d.Entry, "entry points, relative to the project root")
	f.StringP("outdir", "o", d.Outdir, "output directory, relative to the project root")
	f.String("target", d.Target, "language target (esnext, es2015 ... es2022)")
	f.StringSlice("external", nil, "packages to leave out of the bundle")
	f.Bool("sourcemap", d.Sourcemap, "emit linked source maps")
}

// registerServerFlags adds the development server flags to a cobra command.
func registerServerFlags(cmd *cobra.Command) {
	d := config.Default()

	f := cmd.Flags()
	f.String("host", d.Host, "interface to bind both servers to")
	f.IntP("port", "p", d.Port, "page server port")
	f.Int("ws-port", d.WSPort, "update websocket port")
	f.String("public", d.Public, "directory holding index.html, relative to the project root")
	f.StringSlice("exclude", nil, "extra paths the watcher ignores")
	f.Duration("debounce", d.Debounce, "collapse file notifications within this window")
	f.Duration("retry-interval", d.RetryInterval, "client reconnect interval")
	f.Duration("reload-delay", d.ReloadDelay, "delay before a full reload")
}

// registerClientFlags adds the client runtime flags to a cobra command.
func registerClientFlags(cmd *cobra.Command) {
	d := config.Default()

	f := cmd.Flags()
	f.String("host", d.Host, "broadcast server host")
	f.Int("ws-port", d.WSPort, "broadcast server port")
	f.Duration("retry-interval", d.RetryInterval, "reconnect interval")
	f.Duration("reload-delay", d.ReloadDelay, "delay before a reload is reported")
}

// buildOptions maps the effective configuration to compiler options.
func buildOptions(cfg *config.Config, bcfg *config.BuildConfig, logger *slog.Logger) build.Options {
	opts := build.DefaultOptions()
	opts.Root = cfg.Root
	opts.EntryPoints = cfg.Entry
	opts.Outdir = cfg.Outdir
	opts.Target = cfg.Target
	opts.External = cfg.External
	opts.Sourcemap = cfg.Sourcemap
	opts.Logger = logger

	if bcfg != nil {
		opts.Loaders = bcfg.Loaders
		opts.Define = bcfg.Define
	}

	return opts
}

// serverOptions maps the effective configuration to development server
// options.
func serverOptions(cfg *config.Config, bcfg *config.BuildConfig, logger *slog.Logger) devserver.Options {
	opts := devserver.DefaultOptions()
	opts.Build = buildOptions(cfg, bcfg, nil)
	opts.Watch = watch.DefaultOptions()
	opts.Watch.Debounce = cfg.Debounce
	opts.Watch.Logger = nil
	opts.Exclude = cfg.Exclude
	opts.BroadcastAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.WSPort))
	opts.GatewayAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	opts.PublicDir = cfg.Public
	opts.RetryInterval = cfg.RetryInterval
	opts.ReloadDelay = cfg.ReloadDelay
	opts.Logger = logger

	return opts
}
