// Package devserver wires the build orchestrator, the file watcher, the
// broadcast server and the request gateway into one development server
// process.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/hupe1980/livedev/internal/broadcast"
	"github.com/hupe1980/livedev/internal/build"
	"github.com/hupe1980/livedev/internal/gateway"
	"github.com/hupe1980/livedev/internal/logging"
	"github.com/hupe1980/livedev/internal/watch"
)

// Options configures a development server.
type Options struct {
	// Build configures the build orchestrator.
	Build build.Options

	// Watch configures the file watcher.
	Watch watch.Options

	// Exclude lists extra paths (relative to the project root) the watcher
	// ignores. The output directory and node_modules are always excluded.
	Exclude []string

	// BroadcastAddr is the websocket listen address.
	BroadcastAddr string

	// GatewayAddr is the page server listen address.
	GatewayAddr string

	// PublicDir holds index.html, relative to the project root unless
	// absolute.
	PublicDir string

	// RetryInterval and ReloadDelay are handed to browser runtimes.
	RetryInterval time.Duration
	ReloadDelay   time.Duration

	// Ready is called once every listener is bound.
	Ready func(Addrs)

	// Logger is used for structured logging.
	Logger *slog.Logger
}

// Addrs holds the bound listen addresses.
type Addrs struct {
	Gateway   string
	Broadcast string
}

// DefaultOptions returns sensible default server options.
func DefaultOptions() Options {
	return Options{
		Build:         build.DefaultOptions(),
		Watch:         watch.DefaultOptions(),
		BroadcastAddr: "127.0.0.1:35729",
		GatewayAddr:   "127.0.0.1:3000",
		PublicDir:     "public",
		RetryInterval: time.Second,
		ReloadDelay:   150 * time.Millisecond,
		Logger:        slog.Default(),
	}
}

// Run starts the development server and blocks until ctx is cancelled or an
// interrupt signal arrives. Startup failures (invalid entry point, port in
// use) are returned; a failing initial build is reported and serving goes on.
func Run(ctx context.Context, opts Options) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Build.Logger == nil {
		opts.Build.Logger = logging.WithComponent(logger, "build")
	}

	if opts.Watch.Logger == nil {
		opts.Watch.Logger = logging.WithComponent(logger, "watch")
	}

	bc, err := build.Initialize(opts.Build)
	if err != nil {
		return err
	}
	defer bc.Close()

	if _, err := bc.Rebuild(); err != nil {
		var failure *build.BuildFailure
		if !errors.As(err, &failure) {
			return fmt.Errorf("initial build: %w", err)
		}

		logger.Error("initial build failed", slog.String("detail", failure.Detail))
	}

	g, gctx := errgroup.WithContext(ctx)

	srv := broadcast.New(broadcast.Options{Logger: logging.WithComponent(logger, "broadcast")})
	if err := srv.Start(gctx, opts.BroadcastAddr); err != nil {
		return err
	}
	defer srv.Close()

	ln, err := gateway.Listen(opts.GatewayAddr)
	if err != nil {
		return err
	}

	exclude := sets.New(opts.Exclude...).Insert(bc.Outdir(), "node_modules")

	events, err := watch.Watch(gctx, bc.Root(), sets.List(exclude), opts.Watch)
	if err != nil {
		_ = ln.Close()
		return err
	}

	gwLogger := logging.WithComponent(logger, "gateway")

	gw := gateway.New(bc, gateway.Options{
		PublicDir:     publicDir(bc.Root(), opts.PublicDir),
		BroadcastPort: portOf(srv.Addr()),
		BroadcastPath: broadcast.DefaultPath,
		RetryInterval: opts.RetryInterval,
		ReloadDelay:   opts.ReloadDelay,
		Logger:        gwLogger,
	})

	sched := NewScheduler(bc, srv, logging.WithComponent(logger, "scheduler"))

	g.Go(func() error {
		return sched.Run(gctx)
	})

	g.Go(func() error {
		for ev := range events {
			sched.Trigger(ev)
		}

		return nil
	})

	g.Go(func() error {
		return gateway.Serve(gctx, ln, gw.Handler(), gwLogger)
	})

	if opts.Ready != nil {
		opts.Ready(Addrs{Gateway: ln.Addr().String(), Broadcast: srv.Addr().String()})
	}

	err = g.Wait()

	logger.Info("shutting down", slog.Int64("rebuilds", sched.Rebuilds()))

	return err
}

func publicDir(root, dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}

	return filepath.Join(root, dir)
}

func portOf(addr net.Addr) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}

	return 0
}
