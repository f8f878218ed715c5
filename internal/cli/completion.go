package cli

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/livedev/internal/build"
	"github.com/hupe1980/livedev/internal/config"
)

func newCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion <shell>",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for livedev.

Bash:
  $ source <(livedev completion bash)

Zsh:
  $ livedev completion zsh > "${fpath[1]}/_livedev"

Fish:
  $ livedev completion fish > ~/.config/fish/completions/livedev.fish

PowerShell:
  PS> livedev completion powershell | Out-String | Invoke-Expression

Flag values with a fixed set of choices (--target, --log-level,
--log-format, config --output) complete as well.`,
		// Completion needs no config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Args:              cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs:         []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()

			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletionV2(w, true)
			case "zsh":
				return cmd.Root().GenZshCompletion(w)
			case "fish":
				return cmd.Root().GenFishCompletion(w, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(w)
			}

			return nil
		},
	}

	return cmd
}

// flagChoices lists the fixed value sets offered for flag completion.
var flagChoices = map[string][]string{
	"target":     build.Targets(),
	"log-level":  {config.LogLevelDebug, config.LogLevelInfo, config.LogLevelWarn, config.LogLevelError},
	"log-format": {config.LogFormatText, config.LogFormatJSON},
	"output":     {"yaml", "json"},
}

// registerFlagCompletions walks the command tree and attaches value
// completions to every flag listed in flagChoices. Persistent flags are
// registered on the command that declares them; they only show up in a
// child's Flags() after parsing.
func registerFlagCompletions(root *cobra.Command) {
	var walk func(c *cobra.Command)

	walk = func(c *cobra.Command) {
		for name, choices := range flagChoices {
			if c.LocalNonPersistentFlags().Lookup(name) == nil && c.PersistentFlags().Lookup(name) == nil {
				continue
			}

			_ = c.RegisterFlagCompletionFunc(name, cobra.FixedCompletions(choices, cobra.ShellCompDirectiveNoFileComp))
		}

		for _, sub := range c.Commands() {
			walk(sub)
		}
	}

	walk(root)
}
