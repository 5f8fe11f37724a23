package main

import (
	"fmt"
	"os"

	cmds "github.com/evstack/ev-batcher/apps/testapp/cmd"
	batchercmd "github.com/evstack/ev-batcher/pkg/cmd"
	"github.com/evstack/ev-batcher/pkg/config"
)

func main() {
	// Initiate the root command
	rootCmd := cmds.RootCmd

	// Add configuration flags to the commands reading the node config
	initCmd := batchercmd.NewInitCmd()
	config.AddFlags(initCmd)
	backupCmd := batchercmd.NewBackupCmd()
	config.AddFlags(backupCmd)
	restoreCmd := batchercmd.NewRestoreCmd()
	config.AddFlags(restoreCmd)

	// Add subcommands to the root command
	rootCmd.AddCommand(
		initCmd,
		cmds.RunCmd,
		cmds.NewRevertCmd(),
		batchercmd.VersionCmd,
		batchercmd.StoreUnsafeCleanCmd,
		batchercmd.StoreInfoCmd,
		backupCmd,
		restoreCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		// Print to stderr and exit with error
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
