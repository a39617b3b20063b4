package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"ssm-tunnel/config"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List profiles found in the AWS shared config files",
	RunE: func(cmd *cobra.Command, args []string) error {
		profiles, err := config.ListProfiles()
		if err != nil {
			return err
		}

		for _, p := range profiles {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profilesCmd)
}
