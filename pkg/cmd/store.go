package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	ds "github.com/ipfs/go-datastore"
	"github.com/spf13/cobra"

	"github.com/evstack/ev-batcher/pkg/config"
	"github.com/evstack/ev-batcher/pkg/store"
)

// UnsafeCleanDataDir removes all contents of the specified data directory.
// It does not remove the data directory itself, only its contents.
func UnsafeCleanDataDir(dataDir string) error {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			// Data directory does not exist, nothing to clean.
			return nil
		}
		return fmt.Errorf("failed to read data directory: %w", err)
	}
	for _, entry := range entries {
		entryPath := filepath.Join(dataDir, entry.Name())
		err := os.RemoveAll(entryPath)
		if err != nil {
			return fmt.Errorf("failed to remove %s: %w", entryPath, err)
		}
	}
	return nil
}

// StoreUnsafeCleanCmd is a Cobra command that removes all contents of the data directory.
var StoreUnsafeCleanCmd = &cobra.Command{
	Use:   "unsafe-clean",
	Short: "Remove all contents of the data directory (DANGEROUS: cannot be undone)",
	Long: `Removes all files and subdirectories in the node's data directory.
This operation is unsafe and cannot be undone. Use with caution!`,
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeConfig, err := ParseConfig(cmd)
		if err != nil {
			return fmt.Errorf("error parsing config: %w", err)
		}
		dataDir := nodeConfig.DBDir()
		if dataDir == "" {
			return fmt.Errorf("data directory not found in node configuration")
		}

		if err := UnsafeCleanDataDir(dataDir); err != nil {
			return err
		}
		cmd.Printf("All contents of the data directory at %s have been removed.\n", dataDir)
		return nil
	},
}

// OpenStore opens the node database of cmd's application and the batcher
// store on top of it. Closing the store closes the database.
func OpenStore(cmd *cobra.Command, nodeConfig config.Config, readOnly bool) (*store.DefaultStore, error) {
	dbName := resolveDBName(cmd)
	var (
		rawStore ds.Batching
		err      error
	)
	if readOnly {
		rawStore, err = store.NewDefaultReadOnlyKVStore(nodeConfig.RootDir, nodeConfig.DBPath, dbName)
	} else {
		rawStore, err = store.NewDefaultKVStore(nodeConfig.RootDir, nodeConfig.DBPath, dbName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open datastore: %w", err)
	}
	return store.New(store.NewBatcherKVStore(rawStore)), nil
}

// StoreInfoCmd reports the committed height and the state diff of the latest block.
var StoreInfoCmd = &cobra.Command{
	Use:   "store-info",
	Short: "Inspect the batcher store and display its height and latest state diff",
	Long: `Opens the node datastore in read-only mode and reports the committed
height together with the state diff of the latest block. It can run against
mounted snapshots without requiring write access.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeConfig, err := ParseConfig(cmd)
		if err != nil {
			return fmt.Errorf("error parsing config: %w", err)
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		s, err := OpenStore(cmd, nodeConfig, true)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := s.Close(); closeErr != nil {
				cmd.PrintErrf("warning: failed to close datastore: %v\n", closeErr)
			}
		}()

		return printStoreInfo(ctx, cmd, s, resolveStorePath(nodeConfig.RootDir, nodeConfig.DBPath, resolveDBName(cmd)))
	},
}

func printStoreInfo(ctx context.Context, cmd *cobra.Command, s store.Reader, storePath string) error {
	height, err := s.Height(ctx)
	if err != nil {
		return fmt.Errorf("failed to read height: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Inspecting batcher store at %s\n", storePath)
	fmt.Fprintf(out, "height: %d\n", height)
	if height == 0 {
		fmt.Fprintln(out, "status: empty (no blocks committed)")
		return nil
	}

	diff, err := s.GetStateDiff(ctx, height-1)
	if err != nil {
		return fmt.Errorf("failed to read state diff of block %d: %w", height-1, err)
	}
	fmt.Fprintf(out, "latest block: %d\n", height-1)
	fmt.Fprintf(out, "commitment: %s\n", diff.Commitment().Hex())
	fmt.Fprintf(out, "state diff entries: %d\n", diff.Len())
	for _, entry := range diff.Entries() {
		fmt.Fprintf(out, "  %s = %s\n", entry.Key, entry.Value.Hex())
	}
	return nil
}

func resolveDBName(cmd *cobra.Command) string {
	if cmd == nil {
		return config.ConfigFileName
	}
	root := cmd.Root()
	if root == nil || root.Name() == "" {
		return config.ConfigFileName
	}
	return root.Name()
}

func resolveStorePath(rootDir, dbPath, dbName string) string {
	base := dbPath
	if !filepath.IsAbs(dbPath) {
		base = filepath.Join(rootDir, dbPath)
	}
	return filepath.Join(base, dbName)
}
