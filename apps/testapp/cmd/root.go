package cmd

import (
	"github.com/spf13/cobra"

	batcherconfig "github.com/evstack/ev-batcher/pkg/config"
)

const (
	// AppName is the name of the application, the name of the command, and the name of the home directory.
	AppName = "testapp"
)

func init() {
	batcherconfig.AddGlobalFlags(RootCmd, AppName)
	batcherconfig.AddFlags(RunCmd)
}

// RootCmd is the root command for the test application
var RootCmd = &cobra.Command{
	Use:   AppName,
	Short: "Testapp is a single sequencer producing blocks with the batcher and a scripted transaction executor.",
}
