package cmd

import (
	"github.com/spf13/cobra"

	"github.com/evstack/ev-batcher/core/execution"
	"github.com/evstack/ev-batcher/pkg/cmd"
	"github.com/evstack/ev-batcher/pkg/store"
)

// RunCmd starts the testapp node.
var RunCmd = &cobra.Command{
	Use:     "start",
	Aliases: []string{"node", "run"},
	Short:   "Run the testapp node",
	RunE: func(command *cobra.Command, args []string) error {
		nodeConfig, err := cmd.ParseConfig(command)
		if err != nil {
			return err
		}

		logger := cmd.SetupLogger(nodeConfig.Log)

		datastore, err := store.NewDefaultKVStore(nodeConfig.RootDir, nodeConfig.DBPath, AppName)
		if err != nil {
			return err
		}

		logger.Info().
			Str("db", nodeConfig.DBDir()).
			Str("tx_ingress", nodeConfig.Node.TxIngressAddress).
			Dur("block_time", nodeConfig.Node.BlockTime.Duration).
			Msg("starting testapp")

		return cmd.StartNode(logger, command, execution.NewDummyTxExecutor(), datastore, nodeConfig)
	},
}
