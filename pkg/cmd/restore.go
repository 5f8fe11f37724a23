package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRestoreCmd creates a cobra command that loads a backup written by the
// backup command into the node datastore and prints the restored chain tip.
// The node must be stopped.
func NewRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "restore",
		Short:        "Load a datastore backup into the node datastore",
		SilenceUsage: true,
		RunE:         runRestore,
	}

	cmd.Flags().String("input", "", "Path to the backup file (required)")
	cmd.Flags().Bool("force", false, "Replace the datastore if it already exists")

	return cmd
}

func runRestore(cmd *cobra.Command, _ []string) error {
	nodeConfig, err := ParseConfig(cmd)
	if err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}

	inputPath, err := cmd.Flags().GetString("input")
	if err != nil {
		return err
	}
	if inputPath == "" {
		return errors.New("--input flag is required")
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	backup, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer backup.Close()

	storePath := resolveStorePath(nodeConfig.RootDir, nodeConfig.DBPath, resolveDBName(cmd))
	if err := clearRestoreTarget(storePath, force); err != nil {
		return err
	}

	s, err := OpenStore(cmd, nodeConfig, false)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			cmd.PrintErrf("warning: failed to close datastore: %v\n", closeErr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.Printf("Restoring %s from %s\n", storePath, inputPath)
	if err := s.Restore(ctx, bufio.NewReaderSize(backup, 1<<20)); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	cmd.Println("Restore completed successfully")

	return printStoreInfo(ctx, cmd, s, storePath)
}

// clearRestoreTarget refuses to restore over an existing store unless force
// is set, in which case the store is removed first.
func clearRestoreTarget(storePath string, force bool) error {
	_, err := os.Stat(storePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("failed to inspect datastore: %w", err)
	case !force:
		return fmt.Errorf("datastore already exists at %s (use --force to overwrite)", storePath)
	}
	if err := os.RemoveAll(storePath); err != nil {
		return fmt.Errorf("failed to remove existing datastore: %w", err)
	}
	return nil
}
