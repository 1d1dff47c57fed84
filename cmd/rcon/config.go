package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/energizer-project/rcon/internal/cli"
	"github.com/energizer-project/rcon/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactively create a configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			path = config.DefaultConfigFile
		}
		cfg.SetPath(path)

		readPassword := func() (string, error) {
			return cli.ReadPassword(os.Stdin, os.Stdout, "")
		}
		if err := config.RunSetupWizard(cfg, cmd.InOrStdin(), cmd.OutOrStdout(), readPassword); err != nil {
			return &cli.UsageError{Err: err}
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := json.MarshalIndent(cfg.Masked(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd)
}
