package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/livedev/internal/config"
)

// effectiveConfig is the printed view of the merged configuration.
type effectiveConfig struct {
	config.Config `yaml:",inline"`

	// JSON has no duration type; these shadow the embedded fields so both
	// formats print "100ms" rather than nanoseconds.
	Debounce      string `json:"debounce" yaml:"-"`
	RetryInterval string `json:"retryInterval" yaml:"-"`
	ReloadDelay   string `json:"reloadDelay" yaml:"-"`

	Loaders    map[string]string `json:"loaders,omitempty" yaml:"loaders,omitempty"`
	Define     map[string]string `json:"define,omitempty" yaml:"define,omitempty"`
	ConfigFile string            `json:"configFile,omitempty" yaml:"config-file,omitempty"`
}

func newConfigCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Config prints the configuration after merging defaults, the config file,
LIVEDEV_ environment variables and flags, including the loaders and
define sections of the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromContext(cmd.Context())

			bcfg, err := config.LoadBuildConfig(cfg.ConfigFile)
			if err != nil {
				return &ExitError{Code: 2, Err: err}
			}

			view := effectiveConfig{
				Config:        *cfg,
				Debounce:      cfg.Debounce.String(),
				RetryInterval: cfg.RetryInterval.String(),
				ReloadDelay:   cfg.ReloadDelay.String(),
				Loaders:       bcfg.Loaders,
				Define:        bcfg.Define,
				ConfigFile:    cfg.ConfigFile,
			}

			return writeConfig(cmd.OutOrStdout(), output, &view)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format: yaml, json")

	return cmd
}

func writeConfig(w io.Writer, format string, view *effectiveConfig) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(view); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}

		return enc.Close()
	case "json":
		data, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}

		_, err = fmt.Fprintln(w, string(data))

		return err
	default:
		return &ExitError{Code: 2, Err: fmt.Errorf("unsupported output format %q (use yaml or json)", format)}
	}
}
