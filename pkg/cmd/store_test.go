package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/evstack/ev-batcher/pkg/config"
	"github.com/evstack/ev-batcher/pkg/store"
	"github.com/evstack/ev-batcher/types"
)

const testAppName = "testapp"

func TestUnsafeCleanDataDir(t *testing.T) {
	tempDir := t.TempDir()

	// Create some test files and directories
	subDir := filepath.Join(tempDir, "subdir")
	require.NoError(t, os.Mkdir(subDir, 0755))
	testFile := filepath.Join(tempDir, "testfile.txt")
	require.NoError(t, os.WriteFile(testFile, []byte("test content"), 0o600))

	require.DirExists(t, subDir)
	require.FileExists(t, testFile)

	err := UnsafeCleanDataDir(tempDir)
	require.NoError(t, err)

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestStoreUnsafeCleanCmd(t *testing.T) {
	tempDir := t.TempDir()
	dataDir := filepath.Join(tempDir, "data")
	require.NoError(t, os.Mkdir(dataDir, 0755))

	testFile := filepath.Join(dataDir, "testfile.txt")
	require.NoError(t, os.WriteFile(testFile, []byte("test content"), 0o600))

	rootCmd := &cobra.Command{Use: "root"}
	rootCmd.PersistentFlags().String(config.FlagRootDir, tempDir, "root directory")
	rootCmd.AddCommand(StoreUnsafeCleanCmd)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"unsafe-clean"})
	require.NoError(t, rootCmd.Execute())

	entries, err := os.ReadDir(dataDir)
	require.NoError(t, err)
	require.Empty(t, entries, "Data directory should be empty after clean")
	require.DirExists(t, dataDir)
	require.Contains(t, buf.String(), fmt.Sprintf("All contents of the data directory at %s have been removed.", dataDir))
}

func TestStoreInfoCmd(t *testing.T) {
	tempDir := t.TempDir()
	key := types.StorageKey(common.HexToAddress("0xc0"), common.Hash{})
	seedBatcherStore(t, tempDir, key)

	rootCmd := &cobra.Command{Use: testAppName}
	rootCmd.PersistentFlags().String(config.FlagRootDir, tempDir, "root directory")
	rootCmd.AddCommand(StoreInfoCmd)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"store-info"})
	require.NoError(t, rootCmd.Execute())

	output := buf.String()
	require.Contains(t, output, "Inspecting batcher store")
	require.Contains(t, output, "height: 2")
	require.Contains(t, output, "latest block: 1")
	require.Contains(t, output, "state diff entries: 1")
	require.Contains(t, output, key.String())
}

func TestPrintStoreInfoEmptyStore(t *testing.T) {
	kv, err := store.NewTestInMemoryKVStore()
	require.NoError(t, err)

	cmd := &cobra.Command{}
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	require.NoError(t, printStoreInfo(context.Background(), cmd, store.New(kv), "mem"))
	require.Contains(t, buf.String(), "status: empty")
}

// seedBatcherStore commits two blocks to the testapp database under rootDir.
func seedBatcherStore(t *testing.T, rootDir string, key types.StateKey) {
	t.Helper()

	rawStore, err := store.NewDefaultKVStore(rootDir, "data", testAppName)
	require.NoError(t, err)
	s := store.New(store.NewBatcherKVStore(rawStore))
	defer func() {
		require.NoError(t, s.Close())
	}()

	ctx := context.Background()
	for height := range uint64(2) {
		diff := types.NewStateDiff()
		diff.Set(key, types.FeltFromUint64(height+1))
		require.NoError(t, s.CommitProposal(ctx, height, diff))
	}
}
