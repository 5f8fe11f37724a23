package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	// ConfigFileName is the base name of the batcher configuration file without extension.
	ConfigFileName = "evbatcher"
	// ConfigExtension is the file extension for the configuration file without the leading dot.
	ConfigExtension = "yaml"
	// ConfigName is the filename for the batcher configuration file.
	ConfigName = ConfigFileName + "." + ConfigExtension
	// AppConfigDir is the directory name for the app configuration.
	AppConfigDir = "config"
)

// DefaultRootDir returns the default root directory for the batcher
var DefaultRootDir = DefaultRootDirWithName(ConfigFileName)

// DefaultRootDirWithName returns the default root directory for an application,
// based on the app name and the user's home directory
func DefaultRootDirWithName(appName string) string {
	if appName == "" {
		appName = ConfigFileName
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, "."+appName)
}

// DefaultConfig keeps default values of Config
func DefaultConfig() Config {
	return Config{
		RootDir: DefaultRootDir,
		DBPath:  "data",
		Batcher: BatcherConfig{
			OutputContentChunkSize:  100,
			StoredBlockHashBuffer:   10,
			MaxL1HandlerTxsPerBlock: 200,
		},
		Builder: BuilderConfig{
			ProposalDeadline:   DurationWrapper{2 * time.Second},
			ValidationDeadline: DurationWrapper{4 * time.Second},
			NConcurrentTxs:     10,
			NWorkers:           4,
			TxPollingInterval:  DurationWrapper{10 * time.Millisecond},
		},
		Bouncer: BouncerConfig{
			L1Gas:                2_500_000,
			MessageSegmentLength: 3_700,
			NEvents:              5_000,
			NTxs:                 600,
			StateDiffSize:        4_000,
			SierraGas:            4_000_000_000,
			ProvingGas:           5_000_000_000,
		},
		Chain: ChainConfig{
			SequencerAddress: "0x0000000000000000000000000000000000000001",
			FeeTokenAddress:  "0x0000000000000000000000000000000000000002",
			L2GasPrice:       1,
		},
		Mempool: MempoolConfig{
			MaxSize: 10_000,
		},
		Node: NodeConfig{
			BlockTime:            DurationWrapper{3 * time.Second},
			TxIngressAddress:     "127.0.0.1:7331",
			RecoveryHistoryDepth: 1000,
		},
		Instrumentation: DefaultInstrumentationConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Trace:  false,
		},
	}
}
