package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const flagForce = "force"

// NewInitCmd creates a command writing the configuration file and the data
// directory of a new node home.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "init",
		Short:        "Initialize the node home directory and configuration file",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeConfig, err := ParseConfig(cmd)
			if err != nil {
				return err
			}

			force, err := cmd.Flags().GetBool(flagForce)
			if err != nil {
				return err
			}
			if _, err := os.Stat(nodeConfig.ConfigPath()); err == nil && !force {
				return fmt.Errorf("config file already exists at %s (use --%s to overwrite)", nodeConfig.ConfigPath(), flagForce)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to inspect config file: %w", err)
			}

			if err := nodeConfig.SaveAsYaml(); err != nil {
				return fmt.Errorf("error writing config file: %w", err)
			}
			if err := os.MkdirAll(nodeConfig.DBDir(), 0o750); err != nil {
				return fmt.Errorf("failed to create data directory: %w", err)
			}

			cmd.Printf("Initialized node home at %s\n", nodeConfig.RootDir)
			cmd.Printf("Configuration written to %s\n", nodeConfig.ConfigPath())
			return nil
		},
	}
	cmd.Flags().Bool(flagForce, false, "Overwrite an existing configuration file")
	return cmd
}
