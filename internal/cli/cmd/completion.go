package cmd

import (
	"github.com/spf13/cobra"
)

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `To load completions:

Bash:
	source <(stemwatch completion bash)

Zsh:
	stemwatch completion zsh > "${fpath[1]}/_stemwatch"

Fish:
	stemwatch completion fish | source

PowerShell:
	stemwatch completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		// Completion scripts need neither config nor a server.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		ValidArgs:         []string{"bash", "zsh", "fish", "powershell"},
		Args:              cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return root.GenBashCompletion(out)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(out)
			default:
				return &ExitError{Code: ExitCLIError, Err: nil}
			}
		},
	}
	return cmd
}
