package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCommand parses args the way cobra does on execute, so persistent
// flags such as --home are visible through cmd.Flags().
func newTestCommand(t *testing.T, home string, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	AddGlobalFlags(cmd, "evbatcher-test")
	AddFlags(cmd)
	require.NoError(t, cmd.ParseFlags(append([]string{"--" + FlagRootDir, home}, args...)))
	return cmd
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RootDir = t.TempDir()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint64(600), cfg.Bouncer.Weights().NTxs)
	assert.Equal(t, "evbatcher", cfg.Instrumentation.Namespace)
	assert.False(t, cfg.Instrumentation.IsTracingEnabled())
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"empty root", func(c *Config) { c.RootDir = "" }, "root directory cannot be empty"},
		{"zero chunk size", func(c *Config) { c.Batcher.OutputContentChunkSize = 0 }, "output content chunk size"},
		{"validation shorter than proposal", func(c *Config) {
			c.Builder.ValidationDeadline = DurationWrapper{time.Second}
		}, "validation deadline"},
		{"no workers", func(c *Config) { c.Builder.NWorkers = 0 }, "n_workers"},
		{"bad sequencer address", func(c *Config) { c.Chain.SequencerAddress = "not-hex" }, "invalid sequencer address"},
		{"block time under deadline", func(c *Config) { c.Node.BlockTime = DurationWrapper{time.Second} }, "block time"},
		{"bad sample rate", func(c *Config) {
			c.Instrumentation.Tracing = true
			c.Instrumentation.TracingSampleRate = 2
		}, "tracing_sample_rate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.RootDir = t.TempDir()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	home := t.TempDir()

	fileCfg := DefaultConfig()
	fileCfg.RootDir = home
	fileCfg.Builder.NWorkers = 7
	fileCfg.Builder.ProposalDeadline = DurationWrapper{1500 * time.Millisecond}
	fileCfg.Mempool.MaxSize = 42
	require.NoError(t, fileCfg.SaveAsYaml())

	cmd := newTestCommand(t, home, "--"+FlagNWorkers, "9")

	cfg, err := Load(cmd)
	require.NoError(t, err)

	assert.Equal(t, home, cfg.RootDir)
	assert.Equal(t, 9, cfg.Builder.NWorkers)
	assert.Equal(t, 1500*time.Millisecond, cfg.Builder.ProposalDeadline.Duration)
	assert.Equal(t, 42, cfg.Mempool.MaxSize)
	assert.Equal(t, filepath.Join(home, "data"), cfg.DBDir())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load(newTestCommand(t, home))
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.Builder, cfg.Builder)
	assert.Equal(t, def.Bouncer, cfg.Bouncer)
	assert.Equal(t, def.Chain.GetFeeTokenAddress(), cfg.Chain.GetFeeTokenAddress())
}

func TestSaveAsYamlWritesComments(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RootDir = t.TempDir()
	require.NoError(t, cfg.SaveAsYaml())

	data, err := os.ReadFile(cfg.ConfigPath())
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "# Time a proposer may spend building a block")
	assert.Contains(t, content, "proposal_deadline: 2s")
	assert.Contains(t, content, "n_txs: 600")
	assert.NotContains(t, content, "rootdir")
}
