package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	batchercmd "github.com/evstack/ev-batcher/pkg/cmd"
	"github.com/evstack/ev-batcher/pkg/store"
)

// NewRevertCmd creates a command reverting the latest blocks of the batcher store.
func NewRevertCmd() *cobra.Command {
	var blocks uint64

	cmd := &cobra.Command{
		Use:   "revert",
		Short: "Revert the latest block. Pass --blocks to revert more than one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeConfig, err := batchercmd.ParseConfig(cmd)
			if err != nil {
				return err
			}

			goCtx := cmd.Context()
			if goCtx == nil {
				goCtx = context.Background()
			}

			batcherStore, err := batchercmd.OpenStore(cmd, nodeConfig, false)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := batcherStore.Close(); closeErr != nil {
					cmd.PrintErrf("Warning: failed to close batcher database: %v\n", closeErr)
				}
			}()

			height, err := revertBlocks(goCtx, batcherStore, blocks)
			cmd.Printf("Reverted batcher state to height %d\n", height)
			return err
		},
	}

	cmd.Flags().Uint64Var(&blocks, "blocks", 1, "number of blocks to revert")
	return cmd
}

// revertBlocks reverts up to n blocks and returns the resulting height.
func revertBlocks(ctx context.Context, s store.Store, n uint64) (uint64, error) {
	height, err := s.Height(ctx)
	if err != nil {
		return 0, err
	}
	if n > height {
		return height, fmt.Errorf("cannot revert %d blocks, store height is %d", n, height)
	}

	for range n {
		if err := s.RevertBlock(ctx, height-1); err != nil {
			if errors.Is(err, store.ErrEmptyStore) {
				break
			}
			return height, fmt.Errorf("failed to revert block %d: %w", height-1, err)
		}
		height--
	}
	return height, nil
}
