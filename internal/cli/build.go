package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hupe1980/livedev/internal/build"
	"github.com/hupe1980/livedev/internal/config"
	"github.com/hupe1980/livedev/internal/logging"
)

func newBuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [project-dir]",
		Short: "Build the project once and exit",
		Long: `Build compiles the project once with the same settings serve uses and
writes the artifact to the output directory.

The command exits non-zero when the build fails; the diagnostics are
printed to stderr and the output directory is left untouched.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), cmd, args)
		},
	}

	registerBuildFlags(cmd)

	return cmd
}

func runBuild(ctx context.Context, cmd *cobra.Command, args []string) error {
	cfg := *config.FromContext(ctx)
	if len(args) == 1 {
		cfg.Root = args[0]
	}

	bcfg, err := config.LoadBuildConfig(cfg.ConfigFile)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	logger := logging.ComponentFromContext(ctx, "build")

	bc, err := build.Initialize(buildOptions(&cfg, bcfg, logger))
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	defer func() { _ = bc.Close() }()

	artifact, err := bc.Rebuild()
	if err != nil {
		var failure *build.BuildFailure
		if errors.As(err, &failure) {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), failure.Detail)
		}

		return &ExitError{Code: 1, Err: err}
	}

	if cfg.Quiet {
		return nil
	}

	w := cmd.OutOrStdout()

	for _, f := range artifact.Files {
		rel, relErr := filepath.Rel(bc.Root(), f.Path)
		if relErr != nil {
			rel = f.Path
		}

		if _, err := fmt.Fprintf(w, "  %-40s %s\n", filepath.ToSlash(rel), formatSize(len(f.Contents))); err != nil {
			return err
		}
	}

	for _, warning := range artifact.Warnings {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "warning:", warning)
	}

	_, err = fmt.Fprintf(w, "\nbuilt %d file(s) in %s\n", len(artifact.Files), artifact.Duration.Round(1e6))

	return err
}

func formatSize(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
