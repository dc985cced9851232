package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the dashboard bearer token",
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the dashboard token",
	RunE: func(cmd *cobra.Command, args []string) error {
		token := cfg.DashboardToken()
		if token == "" {
			return fmt.Errorf("no dashboard token set; run 'clawdesk token rotate' or start 'clawdesk serve'")
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var tokenRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Generate a new dashboard token and save it",
	Long: `Generates a new dashboard token and saves it to the config. A running
server keeps accepting the old token until it is restarted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := cfg.RotateDashboardToken()
		if err != nil {
			return fmt.Errorf("generate dashboard token: %w", err)
		}
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Dashboard token: %s\n", token)
		return nil
	},
}

func init() {
	tokenCmd.AddCommand(tokenShowCmd, tokenRotateCmd)
}
