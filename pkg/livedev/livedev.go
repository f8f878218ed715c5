// Package livedev provides a public Go API for the livedev build and
// development server pipeline.
//
// This package exposes the compiler and the development server as a
// library, allowing programmatic use without the CLI.
//
// One-shot build:
//
//	result, err := livedev.Build(ctx,
//	    livedev.WithRoot("web"),
//	    livedev.WithEntryPoints("src/main.tsx"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Files)
//
// Development server, running until ctx is cancelled:
//
//	err := livedev.Serve(ctx,
//	    livedev.WithRoot("web"),
//	    livedev.WithAddrs("127.0.0.1:3000", "127.0.0.1:35729"),
//	    livedev.WithReady(func(a livedev.Addrs) { log.Println("serving", a.Gateway) }),
//	)
package livedev

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/hupe1980/livedev/internal/build"
	"github.com/hupe1980/livedev/internal/devserver"
	"github.com/hupe1980/livedev/internal/watch"
)

// BuildFailure is returned when the sources do not compile. Detail holds
// the formatted compiler diagnostics.
type BuildFailure = build.BuildFailure

// ConfigError is returned when the build configuration is invalid.
type ConfigError = build.ConfigError

// Addrs are the bound addresses of a running development server.
type Addrs = devserver.Addrs

// discardLogger returns a logger that discards all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Option configures Build and Serve.
// Use the With* functions to create Options.
type Option func(*options)

type options struct {
	// Compiler.
	root        string
	entryPoints []string
	outdir      string
	target      string
	external    []string
	loaders     map[string]string
	define      map[string]string
	sourcemap   bool
	noWrite     bool

	// Development server.
	gatewayAddr   string
	broadcastAddr string
	publicDir     string
	exclude       []string
	debounce      time.Duration
	retryInterval time.Duration
	reloadDelay   time.Duration
	ready         func(Addrs)

	logger *slog.Logger
}

// --- Compiler ---

// WithRoot sets the project directory (default: ".").
func WithRoot(dir string) Option { return func(o *options) { o.root = dir } }

// WithEntryPoints sets the bundle entry modules (default: "src/main.tsx").
func WithEntryPoints(entries ...string) Option {
	return func(o *options) { o.entryPoints = entries }
}

// WithOutdir sets the output directory (default: "dist").
func WithOutdir(dir string) Option { return func(o *options) { o.outdir = dir } }

// WithTarget sets the language target (default: "es2020").
func WithTarget(target string) Option { return func(o *options) { o.target = target } }

// WithExternal leaves the named packages out of the bundle.
func WithExternal(pkgs ...string) Option { return func(o *options) { o.external = pkgs } }

// WithLoaders maps file extensions to loader names, e.g. ".svg" to "file".
func WithLoaders(loaders map[string]string) Option {
	return func(o *options) { o.loaders = loaders }
}

// WithDefine replaces global identifiers with constant expressions.
func WithDefine(define map[string]string) Option { return func(o *options) { o.define = define } }

// WithoutSourcemap disables linked source maps.
func WithoutSourcemap() Option { return func(o *options) { o.sourcemap = false } }

// WithoutWrite keeps build outputs in memory only.
func WithoutWrite() Option { return func(o *options) { o.noWrite = true } }

// --- Development server ---

// WithAddrs sets the page server and update websocket listen addresses.
// Port 0 picks a free port; the bound addresses are passed to WithReady.
func WithAddrs(gateway, broadcast string) Option {
	return func(o *options) {
		o.gatewayAddr = gateway
		o.broadcastAddr = broadcast
	}
}

// WithPublicDir sets the directory holding index.html (default: "public").
func WithPublicDir(dir string) Option { return func(o *options) { o.publicDir = dir } }

// WithExclude adds root-relative paths the watcher ignores.
func WithExclude(paths ...string) Option { return func(o *options) { o.exclude = paths } }

// WithDebounce sets the file notification debounce window (default: 100ms).
func WithDebounce(d time.Duration) Option { return func(o *options) { o.debounce = d } }

// WithRetryInterval sets the browser reconnect interval (default: 1s).
func WithRetryInterval(d time.Duration) Option { return func(o *options) { o.retryInterval = d } }

// WithReloadDelay sets the delay before a full reload (default: 150ms).
func WithReloadDelay(d time.Duration) Option { return func(o *options) { o.reloadDelay = d } }

// WithReady registers a callback invoked once both servers are listening.
func WithReady(fn func(Addrs)) Option { return func(o *options) { o.ready = fn } }

// WithLogger sets the structured logger (default: discard).
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func newOptions(opts []Option) *options {
	bd := build.DefaultOptions()
	sd := devserver.DefaultOptions()

	o := &options{
		root:          bd.Root,
		entryPoints:   bd.EntryPoints,
		outdir:        bd.Outdir,
		target:        bd.Target,
		sourcemap:     bd.Sourcemap,
		gatewayAddr:   sd.GatewayAddr,
		broadcastAddr: sd.BroadcastAddr,
		publicDir:     sd.PublicDir,
		debounce:      watch.DefaultOptions().Debounce,
		retryInterval: sd.RetryInterval,
		reloadDelay:   sd.ReloadDelay,
	}

	for _, fn := range opts {
		fn(o)
	}

	if o.logger == nil {
		o.logger = discardLogger()
	}

	return o
}

func (o *options) buildOptions(logger *slog.Logger) build.Options {
	return build.Options{
		Root:        o.root,
		EntryPoints: o.entryPoints,
		Outdir:      o.outdir,
		Target:      o.target,
		External:    o.external,
		Loaders:     o.loaders,
		Define:      o.define,
		Sourcemap:   o.sourcemap,
		WriteToDisk: !o.noWrite,
		Logger:      logger,
	}
}

// BuildResult holds the output of a one-shot build.
type BuildResult struct {
	// Files maps output names (relative to the output directory) to
	// their contents.
	Files map[string][]byte

	// Hash identifies the artifact contents.
	Hash string

	// Warnings are the formatted compiler warnings.
	Warnings []string

	// Duration is the compile time.
	Duration time.Duration
}

// Build compiles the project once. A compile error is returned as a
// *BuildFailure, an invalid configuration as a *ConfigError.
func Build(ctx context.Context, opts ...Option) (*BuildResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o := newOptions(opts)

	bc, err := build.Initialize(o.buildOptions(o.logger))
	if err != nil {
		return nil, err
	}

	defer func() { _ = bc.Close() }()

	artifact, err := bc.Rebuild()
	if err != nil {
		return nil, err
	}

	files := make(map[string][]byte, len(artifact.Files))
	for _, f := range artifact.Files {
		files[f.Name] = f.Contents
	}

	return &BuildResult{
		Files:    files,
		Hash:     artifact.Hash,
		Warnings: artifact.Warnings,
		Duration: artifact.Duration,
	}, nil
}

// Serve runs the development server until ctx is cancelled. Startup
// failures (invalid configuration, ports in use) are returned; a failing
// initial build is not an error.
func Serve(ctx context.Context, opts ...Option) error {
	o := newOptions(opts)

	if len(o.entryPoints) == 0 {
		return errors.New("at least one entry point is required")
	}

	sopts := devserver.DefaultOptions()
	sopts.Build = o.buildOptions(nil)
	sopts.Watch = watch.DefaultOptions()
	sopts.Watch.Debounce = o.debounce
	sopts.Watch.Logger = nil
	sopts.Exclude = o.exclude
	sopts.GatewayAddr = o.gatewayAddr
	sopts.BroadcastAddr = o.broadcastAddr
	sopts.PublicDir = o.publicDir
	sopts.RetryInterval = o.retryInterval
	sopts.ReloadDelay = o.reloadDelay
	sopts.Ready = o.ready
	sopts.Logger = o.logger

	return devserver.Run(ctx, sopts)
}
