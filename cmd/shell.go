package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"ssm-tunnel/ssmclient"
)

var shellUsePlugin bool

var shellCmd = &cobra.Command{
	Use:   "shell <target>",
	Short: "Start an interactive shell on an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return errors.New("shell sessions require an interactive terminal")
		}

		ctx := cmd.Context()
		cfg, err := loadAWSConfig(ctx)
		if err != nil {
			return err
		}

		target, err := ssmclient.ResolveTarget(ctx, args[0], cfg)
		if err != nil {
			return fmt.Errorf("unable to resolve target %q: %w", args[0], err)
		}

		if shellUsePlugin {
			return ssmclient.ShellPluginSession(ctx, cfg, target)
		}
		return ssmclient.ShellSession(ctx, cfg, target)
	},
}

func init() {
	shellCmd.Flags().BoolVar(&shellUsePlugin, "plugin", false, "delegate to the embedded session-manager-plugin library")
	rootCmd.AddCommand(shellCmd)
}
