// Package build owns the incremental compiler context that turns project
// sources into the served artifact.
//
// A Context is created once at server start with Initialize and rebuilt on
// every source change. Outputs are kept in memory and only written to disk
// after a successful compile, so a failing build never replaces the last good
// artifact.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/evanw/esbuild/pkg/api"
)

// Options configures the compiler context. Paths are relative to Root unless
// absolute.
type Options struct {
	// Root is the project directory.
	Root string

	// EntryPoints are the bundle entry modules.
	EntryPoints []string

	// Outdir receives the built artifact.
	Outdir string

	// Target is the language target, e.g. "es2020" or "esnext".
	Target string

	// External package names are left unbundled.
	External []string

	// Loaders maps file extensions (".svg") to loader names ("file").
	Loaders map[string]string

	// Define replaces global identifiers with constant expressions, e.g.
	// "process.env.NODE_ENV" with "\"development\"".
	Define map[string]string

	// Sourcemap enables linked source maps.
	Sourcemap bool

	// WriteToDisk writes successful outputs to Outdir.
	WriteToDisk bool

	// Logger is used for structured logging.
	Logger *slog.Logger
}

// DefaultOptions returns sensible default build options.
func DefaultOptions() Options {
	return Options{
		Root:        ".",
		EntryPoints: []string{"src/main.tsx"},
		Outdir:      "dist",
		Target:      "es2020",
		Sourcemap:   true,
		WriteToDisk: true,
		Logger:      slog.Default(),
	}
}

// Context is the reusable compiler context. Rebuild must not be called
// concurrently with itself; callers serialize rebuilds.
type Context struct {
	opts    Options
	root    string
	outdir  string
	target  api.Target
	loaders map[string]api.Loader
	esb     api.BuildContext
	writer  *fileWriter
	logger  *slog.Logger

	rebuildMu sync.Mutex

	mu     sync.RWMutex
	last   *Artifact
	closed bool
}

// Initialize resolves the configuration and creates the compiler context.
// Any returned error is a *ConfigError.
func Initialize(opts Options) (*Context, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, &ConfigError{Field: "root", Err: err}
	}

	if info, statErr := os.Stat(root); statErr != nil {
		return nil, &ConfigError{Field: "root", Err: statErr}
	} else if !info.IsDir() {
		return nil, &ConfigError{Field: "root", Err: fmt.Errorf("%s is not a directory", root)}
	}

	if len(opts.EntryPoints) == 0 {
		return nil, &ConfigError{Field: "entry", Err: errors.New("at least one entry point is required")}
	}

	entries := make([]string, 0, len(opts.EntryPoints))

	for _, e := range opts.EntryPoints {
		abs := resolve(root, e)

		info, statErr := os.Stat(abs)
		if statErr != nil {
			return nil, &ConfigError{Field: "entry", Err: fmt.Errorf("resolving entry point %q: %w", e, statErr)}
		}

		if info.IsDir() {
			return nil, &ConfigError{Field: "entry", Err: fmt.Errorf("entry point %q is a directory", e)}
		}

		entries = append(entries, abs)
	}

	if opts.Outdir == "" {
		return nil, &ConfigError{Field: "outdir", Err: errors.New("output directory is required")}
	}

	target, err := ParseTarget(opts.Target)
	if err != nil {
		return nil, &ConfigError{Field: "target", Err: err}
	}

	loaders, err := parseLoaders(opts.Loaders)
	if err != nil {
		return nil, &ConfigError{Field: "loaders", Err: err}
	}

	outdir := resolve(root, opts.Outdir)

	sourcemap := api.SourceMapNone
	if opts.Sourcemap {
		sourcemap = api.SourceMapLinked
	}

	esb, ctxErr := api.Context(api.BuildOptions{
		AbsWorkingDir: root,
		EntryPoints:   entries,
		Bundle:        true,
		Outdir:        outdir,
		Write:         false,
		Format:        api.FormatESModule,
		Platform:      api.PlatformBrowser,
		Target:        target,
		External:      opts.External,
		Loader:        loaders,
		Define:        opts.Define,
		Sourcemap:     sourcemap,
		LogLevel:      api.LogLevelSilent,
	})
	if ctxErr != nil {
		return nil, &ConfigError{Field: "compiler", Err: errors.New(formatMessages(ctxErr.Errors, api.ErrorMessage))}
	}

	opts.Logger.Debug("build context created",
		slog.String("root", root),
		slog.Any("entryPoints", entries),
		slog.String("outdir", outdir),
		slog.String("target", opts.Target),
	)

	return &Context{
		opts:    opts,
		root:    root,
		outdir:  outdir,
		target:  target,
		loaders: loaders,
		esb:     esb,
		writer:  newFileWriter(opts.Logger),
		logger:  opts.Logger,
	}, nil
}

// Rebuild performs an incremental compile. On failure it returns a
// *BuildFailure and the last good artifact stays current.
func (c *Context) Rebuild() (*Artifact, error) {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	c.mu.RLock()
	closed := c.closed
	prev := c.last
	c.mu.RUnlock()

	if closed {
		return nil, ErrClosed
	}

	start := time.Now()
	result := c.esb.Rebuild()

	if len(result.Errors) > 0 {
		failure := &BuildFailure{
			Detail: formatMessages(result.Errors, api.ErrorMessage),
			Count:  len(result.Errors),
		}

		c.logger.Warn("rebuild failed", slog.Int("errors", failure.Count), slog.Duration("duration", time.Since(start)))

		return nil, failure
	}

	files := make([]File, 0, len(result.OutputFiles))
	hasMap := false

	for _, of := range result.OutputFiles {
		rel, err := filepath.Rel(c.outdir, of.Path)
		if err != nil {
			rel = filepath.Base(of.Path)
		}

		files = append(files, File{Path: of.Path, Name: filepath.ToSlash(rel), Contents: of.Contents})

		if strings.HasSuffix(of.Path, ".map") {
			hasMap = true
		}
	}

	artifact := &Artifact{
		Files:        files,
		HasSourceMap: hasMap,
		Hash:         contentHash(files),
		Warnings:     splitMessages(result.Warnings, api.WarningMessage),
		BuiltAt:      time.Now(),
		Duration:     time.Since(start),
	}
	artifact.Changed = prev == nil || prev.Hash != artifact.Hash

	if artifact.Changed && c.opts.WriteToDisk {
		if err := c.writer.writeAll(files); err != nil {
			return nil, fmt.Errorf("writing artifact: %w", err)
		}
	}

	if artifact.Changed && c.logger.Enabled(context.Background(), slog.LevelDebug) {
		stat := diffArtifacts(prev, artifact)
		c.logger.Debug("artifact changed",
			slog.Int("files", stat.FilesChanged),
			slog.Int("added", stat.Added),
			slog.Int("removed", stat.Removed),
		)
	}

	c.mu.Lock()
	c.last = artifact
	c.mu.Unlock()

	c.logger.Info("rebuild succeeded",
		slog.Int("files", len(files)),
		slog.Bool("changed", artifact.Changed),
		slog.Duration("duration", artifact.Duration),
	)

	return artifact, nil
}

// Current returns the last good artifact, or nil before the first successful
// build.
func (c *Context) Current() *Artifact {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.last
}

// Root returns the absolute project directory.
func (c *Context) Root() string { return c.root }

// Outdir returns the absolute output directory.
func (c *Context) Outdir() string { return c.outdir }

// Close disposes the compiler context. It is safe to call more than once.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	c.mu.Unlock()

	// Wait for an in-flight rebuild before disposing.
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	c.esb.Dispose()

	return nil
}

func resolve(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}

	return filepath.Join(root, p)
}

func formatMessages(msgs []api.Message, kind api.MessageKind) string {
	return strings.TrimSpace(strings.Join(splitMessages(msgs, kind), "\n"))
}

func splitMessages(msgs []api.Message, kind api.MessageKind) []string {
	if len(msgs) == 0 {
		return nil
	}

	return api.FormatMessages(msgs, api.FormatMessagesOptions{Kind: kind})
}
