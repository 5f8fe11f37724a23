package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/evstack/ev-batcher/types"
)

const (
	FlagPrefixEvbatcher = "evbatcher."

	// Base configuration flags

	// FlagRootDir is a flag for specifying the root directory
	FlagRootDir = "home"
	// FlagDBPath is a flag for specifying the database path
	FlagDBPath = FlagPrefixEvbatcher + "db_path"

	// Batcher configuration flags

	// FlagOutputContentChunkSize is a flag for the number of transactions returned per proposal content chunk
	FlagOutputContentChunkSize = FlagPrefixEvbatcher + "batcher.output_content_chunk_size"
	// FlagStoredBlockHashBuffer is a flag for the distance of the retrospective block hash
	FlagStoredBlockHashBuffer = FlagPrefixEvbatcher + "batcher.stored_block_hash_buffer"
	// FlagMaxL1HandlerTxsPerBlock is a flag for the maximum number of L1 handler transactions in a proposed block
	FlagMaxL1HandlerTxsPerBlock = FlagPrefixEvbatcher + "batcher.max_l1_handler_txs_per_block"

	// Builder configuration flags

	// FlagProposalDeadline is a flag for the time a proposer may spend building a block
	FlagProposalDeadline = FlagPrefixEvbatcher + "builder.proposal_deadline"
	// FlagValidationDeadline is a flag for the time a validator may spend re-executing a block
	FlagValidationDeadline = FlagPrefixEvbatcher + "builder.validation_deadline"
	// FlagNConcurrentTxs is a flag for the number of transactions in flight during a build
	FlagNConcurrentTxs = FlagPrefixEvbatcher + "builder.n_concurrent_txs"
	// FlagNWorkers is a flag for the number of execution workers
	FlagNWorkers = FlagPrefixEvbatcher + "builder.n_workers"
	// FlagTxPollingInterval is a flag for the wait between empty transaction fetches
	FlagTxPollingInterval = FlagPrefixEvbatcher + "builder.tx_polling_interval"

	// Bouncer configuration flags

	// FlagBouncerL1Gas is a flag for the L1 gas capacity of a block
	FlagBouncerL1Gas = FlagPrefixEvbatcher + "bouncer.l1_gas"
	// FlagBouncerMessageSegmentLength is a flag for the L2 to L1 message capacity of a block
	FlagBouncerMessageSegmentLength = FlagPrefixEvbatcher + "bouncer.message_segment_length"
	// FlagBouncerNEvents is a flag for the event capacity of a block
	FlagBouncerNEvents = FlagPrefixEvbatcher + "bouncer.n_events"
	// FlagBouncerNTxs is a flag for the transaction capacity of a block
	FlagBouncerNTxs = FlagPrefixEvbatcher + "bouncer.n_txs"
	// FlagBouncerStateDiffSize is a flag for the state diff capacity of a block
	FlagBouncerStateDiffSize = FlagPrefixEvbatcher + "bouncer.state_diff_size"
	// FlagBouncerSierraGas is a flag for the execution gas capacity of a block
	FlagBouncerSierraGas = FlagPrefixEvbatcher + "bouncer.sierra_gas"
	// FlagBouncerProvingGas is a flag for the proving gas capacity of a block
	FlagBouncerProvingGas = FlagPrefixEvbatcher + "bouncer.proving_gas"

	// Chain configuration flags

	// FlagSequencerAddress is a flag for the address credited with transaction fees
	FlagSequencerAddress = FlagPrefixEvbatcher + "chain.sequencer_address"
	// FlagFeeTokenAddress is a flag for the address of the fee token contract
	FlagFeeTokenAddress = FlagPrefixEvbatcher + "chain.fee_token_address"
	// FlagL2GasPrice is a flag for the L2 gas price of produced blocks
	FlagL2GasPrice = FlagPrefixEvbatcher + "chain.l2_gas_price"

	// Mempool configuration flags

	// FlagMempoolMaxSize is a flag for the maximum number of pending transactions
	FlagMempoolMaxSize = FlagPrefixEvbatcher + "mempool.max_size"

	// Node configuration flags

	// FlagBlockTime is a flag for specifying the block time
	FlagBlockTime = FlagPrefixEvbatcher + "node.block_time"
	// FlagTxIngressAddress is a flag for the address of the HTTP transaction endpoint
	FlagTxIngressAddress = FlagPrefixEvbatcher + "node.tx_ingress_address"
	// FlagRecoveryHistoryDepth is a flag for the number of latest blocks that can be reverted
	FlagRecoveryHistoryDepth = FlagPrefixEvbatcher + "node.recovery_history_depth"

	// Instrumentation configuration flags

	// FlagPrometheus is a flag for enabling Prometheus metrics
	FlagPrometheus = FlagPrefixEvbatcher + "instrumentation.prometheus"
	// FlagPrometheusListenAddr is a flag for specifying the Prometheus listen address
	FlagPrometheusListenAddr = FlagPrefixEvbatcher + "instrumentation.prometheus_listen_addr"
	// FlagMaxOpenConnections is a flag for specifying the maximum number of open connections
	FlagMaxOpenConnections = FlagPrefixEvbatcher + "instrumentation.max_open_connections"
	// FlagPprof is a flag for enabling pprof profiling endpoints for runtime debugging
	FlagPprof = FlagPrefixEvbatcher + "instrumentation.pprof"
	// FlagPprofListenAddr is a flag for specifying the pprof listen address
	FlagPprofListenAddr = FlagPrefixEvbatcher + "instrumentation.pprof_listen_addr"
	// FlagTracing enables OpenTelemetry tracing
	FlagTracing = FlagPrefixEvbatcher + "instrumentation.tracing"
	// FlagTracingEndpoint configures the OTLP endpoint (host:port)
	FlagTracingEndpoint = FlagPrefixEvbatcher + "instrumentation.tracing_endpoint"
	// FlagTracingServiceName configures the service.name resource attribute
	FlagTracingServiceName = FlagPrefixEvbatcher + "instrumentation.tracing_service_name"
	// FlagTracingSampleRate configures the TraceID ratio-based sampler
	FlagTracingSampleRate = FlagPrefixEvbatcher + "instrumentation.tracing_sample_rate"

	// Logging configuration flags

	// FlagLogLevel is a flag for specifying the log level
	FlagLogLevel = FlagPrefixEvbatcher + "log.level"
	// FlagLogFormat is a flag for specifying the log format
	FlagLogFormat = FlagPrefixEvbatcher + "log.format"
	// FlagLogTrace is a flag for enabling stack traces in error logs
	FlagLogTrace = FlagPrefixEvbatcher + "log.trace"
)

// ErrReadYaml is returned when the configuration cannot be decoded.
var ErrReadYaml = errors.New("reading YAML configuration failed")

// Config stores the batcher node configuration.
type Config struct {
	RootDir string `mapstructure:"-" yaml:"-" comment:"Root directory where batcher files are located"`

	// Base configuration
	DBPath string `mapstructure:"db_path" yaml:"db_path" comment:"Path inside the root directory where the database is located"`

	// Proposal lifecycle configuration
	Batcher BatcherConfig `mapstructure:"batcher" yaml:"batcher"`

	// Block building configuration
	Builder BuilderConfig `mapstructure:"builder" yaml:"builder"`

	// Block capacity
	Bouncer BouncerConfig `mapstructure:"bouncer" yaml:"bouncer"`

	// Chain parameters
	Chain ChainConfig `mapstructure:"chain" yaml:"chain"`

	// Mempool configuration
	Mempool MempoolConfig `mapstructure:"mempool" yaml:"mempool"`

	// Node specific configuration
	Node NodeConfig `mapstructure:"node" yaml:"node"`

	// Instrumentation configuration
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation" yaml:"instrumentation"`

	// Logging configuration
	Log LogConfig `mapstructure:"log" yaml:"log"`
}

// BatcherConfig contains the proposal lifecycle parameters
type BatcherConfig struct {
	OutputContentChunkSize  int    `mapstructure:"output_content_chunk_size" yaml:"output_content_chunk_size" comment:"Maximum number of transactions returned by one proposal content request."`
	StoredBlockHashBuffer   uint64 `mapstructure:"stored_block_hash_buffer" yaml:"stored_block_hash_buffer" comment:"Distance to the block whose hash a proposer must supply. Heights below it need none."`
	MaxL1HandlerTxsPerBlock int    `mapstructure:"max_l1_handler_txs_per_block" yaml:"max_l1_handler_txs_per_block" comment:"Maximum number of L1 handler transactions in a proposed block."`
}

// BuilderConfig contains the block building parameters
type BuilderConfig struct {
	ProposalDeadline   DurationWrapper `mapstructure:"proposal_deadline" yaml:"proposal_deadline" comment:"Time a proposer may spend building a block (duration). Examples: \"500ms\", \"2s\"."`
	ValidationDeadline DurationWrapper `mapstructure:"validation_deadline" yaml:"validation_deadline" comment:"Time a validator may spend re-executing a proposed block (duration). Usually larger than the proposal deadline."`
	NConcurrentTxs     int             `mapstructure:"n_concurrent_txs" yaml:"n_concurrent_txs" comment:"Number of transactions handed to the executor ahead of the committed prefix."`
	NWorkers           int             `mapstructure:"n_workers" yaml:"n_workers" comment:"Number of execution workers per block."`
	TxPollingInterval  DurationWrapper `mapstructure:"tx_polling_interval" yaml:"tx_polling_interval" comment:"Wait between transaction fetches that returned nothing (duration)."`
}

// BouncerConfig contains the resource capacity of a block
type BouncerConfig struct {
	L1Gas                uint64 `mapstructure:"l1_gas" yaml:"l1_gas" comment:"L1 gas capacity of a block"`
	MessageSegmentLength uint64 `mapstructure:"message_segment_length" yaml:"message_segment_length" comment:"L2 to L1 message segment capacity of a block"`
	NEvents              uint64 `mapstructure:"n_events" yaml:"n_events" comment:"Event capacity of a block"`
	NTxs                 uint64 `mapstructure:"n_txs" yaml:"n_txs" comment:"Transaction capacity of a block"`
	StateDiffSize        uint64 `mapstructure:"state_diff_size" yaml:"state_diff_size" comment:"State diff capacity of a block"`
	SierraGas            uint64 `mapstructure:"sierra_gas" yaml:"sierra_gas" comment:"Execution gas capacity of a block"`
	ProvingGas           uint64 `mapstructure:"proving_gas" yaml:"proving_gas" comment:"Proving gas capacity of a block"`
}

// Weights returns the capacity as bouncer weights.
func (c BouncerConfig) Weights() types.BouncerWeights {
	return types.BouncerWeights{
		L1Gas:                c.L1Gas,
		MessageSegmentLength: c.MessageSegmentLength,
		NEvents:              c.NEvents,
		NTxs:                 c.NTxs,
		StateDiffSize:        c.StateDiffSize,
		SierraGas:            c.SierraGas,
		ProvingGas:           c.ProvingGas,
	}
}

// ChainConfig contains the chain parameters
type ChainConfig struct {
	SequencerAddress string `mapstructure:"sequencer_address" yaml:"sequencer_address" comment:"Hex address credited with transaction fees"`
	FeeTokenAddress  string `mapstructure:"fee_token_address" yaml:"fee_token_address" comment:"Hex address of the fee token contract"`
	L2GasPrice       uint64 `mapstructure:"l2_gas_price" yaml:"l2_gas_price" comment:"L2 gas price of produced blocks, in fee token units"`
}

// GetSequencerAddress returns the decoded sequencer address.
func (c ChainConfig) GetSequencerAddress() types.Address {
	return common.HexToAddress(c.SequencerAddress)
}

// GetFeeTokenAddress returns the decoded fee token address.
func (c ChainConfig) GetFeeTokenAddress() types.Address {
	return common.HexToAddress(c.FeeTokenAddress)
}

// MempoolConfig contains the mempool parameters
type MempoolConfig struct {
	MaxSize int `mapstructure:"max_size" yaml:"max_size" comment:"Maximum number of pending transactions. Use 0 for no limit."`
}

// NodeConfig contains the node driver parameters
type NodeConfig struct {
	BlockTime        DurationWrapper `mapstructure:"block_time" yaml:"block_time" comment:"Block time (duration). Examples: \"500ms\", \"1s\", \"5s\"."`
	TxIngressAddress string          `mapstructure:"tx_ingress_address" yaml:"tx_ingress_address" comment:"Address of the HTTP endpoint accepting transactions (host:port). Empty disables it."`

	RecoveryHistoryDepth uint64 `mapstructure:"recovery_history_depth" yaml:"recovery_history_depth" comment:"Number of latest blocks whose revert data is kept. Older revert data is pruned. 0 keeps everything."`
}

// LogConfig contains all logging configuration parameters
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" comment:"Log level (debug, info, warn, error)"`
	Format string `mapstructure:"format" yaml:"format" comment:"Log format (text, json)"`
	Trace  bool   `mapstructure:"trace" yaml:"trace" comment:"Enable stack traces in error logs"`
}

// Validate validates the config and ensures that the root directory exists.
// It creates the directory if it does not exist.
func (c *Config) Validate() error {
	if c.RootDir == "" {
		return fmt.Errorf("root directory cannot be empty")
	}

	fullDir := filepath.Dir(c.ConfigPath())
	if err := os.MkdirAll(fullDir, 0o750); err != nil {
		return fmt.Errorf("could not create directory %q: %w", fullDir, err)
	}

	var multiErr error
	if c.Batcher.OutputContentChunkSize <= 0 {
		multiErr = errors.Join(multiErr, fmt.Errorf("output content chunk size must be positive"))
	}
	if c.Builder.ProposalDeadline.Duration <= 0 {
		multiErr = errors.Join(multiErr, fmt.Errorf("proposal deadline must be positive"))
	}
	if c.Builder.ValidationDeadline.Duration < c.Builder.ProposalDeadline.Duration {
		multiErr = errors.Join(multiErr, fmt.Errorf("validation deadline (%v) must not be smaller than proposal deadline (%v)",
			c.Builder.ValidationDeadline.Duration, c.Builder.ProposalDeadline.Duration))
	}
	if c.Builder.NConcurrentTxs <= 0 {
		multiErr = errors.Join(multiErr, fmt.Errorf("n_concurrent_txs must be positive"))
	}
	if c.Builder.NWorkers <= 0 {
		multiErr = errors.Join(multiErr, fmt.Errorf("n_workers must be positive"))
	}
	if c.Bouncer.NTxs == 0 {
		multiErr = errors.Join(multiErr, fmt.Errorf("bouncer n_txs must be positive"))
	}
	if c.Chain.SequencerAddress != "" && !common.IsHexAddress(c.Chain.SequencerAddress) {
		multiErr = errors.Join(multiErr, fmt.Errorf("invalid sequencer address %q", c.Chain.SequencerAddress))
	}
	if c.Chain.FeeTokenAddress != "" && !common.IsHexAddress(c.Chain.FeeTokenAddress) {
		multiErr = errors.Join(multiErr, fmt.Errorf("invalid fee token address %q", c.Chain.FeeTokenAddress))
	}
	if c.Mempool.MaxSize < 0 {
		multiErr = errors.Join(multiErr, fmt.Errorf("mempool max size can't be negative"))
	}
	if c.Node.BlockTime.Duration <= c.Builder.ProposalDeadline.Duration {
		multiErr = errors.Join(multiErr, fmt.Errorf("block time (%v) must be greater than proposal deadline (%v)",
			c.Node.BlockTime.Duration, c.Builder.ProposalDeadline.Duration))
	}
	if c.Instrumentation != nil {
		if err := c.Instrumentation.ValidateBasic(); err != nil {
			multiErr = errors.Join(multiErr, err)
		}
	}
	return multiErr
}

// ConfigPath returns the path to the configuration file.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.RootDir, AppConfigDir, ConfigName)
}

// DBDir returns the absolute path of the database directory.
func (c *Config) DBDir() string {
	if filepath.IsAbs(c.DBPath) {
		return c.DBPath
	}
	return filepath.Join(c.RootDir, c.DBPath)
}

// AddGlobalFlags registers the basic configuration flags that are common across applications.
// This includes logging configuration and root directory settings.
func AddGlobalFlags(cmd *cobra.Command, defaultHome string) {
	def := DefaultConfig()

	cmd.PersistentFlags().String(FlagLogLevel, def.Log.Level, "Set the log level (debug, info, warn, error)")
	cmd.PersistentFlags().String(FlagLogFormat, def.Log.Format, "Set the log format (text, json)")
	cmd.PersistentFlags().Bool(FlagLogTrace, def.Log.Trace, "Enable stack traces in error logs")
	cmd.PersistentFlags().String(FlagRootDir, DefaultRootDirWithName(defaultHome), "Root directory for application data")
}

// AddFlags adds batcher specific configuration options to cobra Command.
func AddFlags(cmd *cobra.Command) {
	def := DefaultConfig()

	// Add base flags
	cmd.Flags().String(FlagDBPath, def.DBPath, "path for the node database")

	// Batcher configuration flags
	cmd.Flags().Int(FlagOutputContentChunkSize, def.Batcher.OutputContentChunkSize, "maximum number of transactions per proposal content chunk")
	cmd.Flags().Uint64(FlagStoredBlockHashBuffer, def.Batcher.StoredBlockHashBuffer, "distance to the block whose hash a proposer must supply")
	cmd.Flags().Int(FlagMaxL1HandlerTxsPerBlock, def.Batcher.MaxL1HandlerTxsPerBlock, "maximum number of L1 handler transactions per proposed block")

	// Builder configuration flags
	cmd.Flags().Duration(FlagProposalDeadline, def.Builder.ProposalDeadline.Duration, "time a proposer may spend building a block")
	cmd.Flags().Duration(FlagValidationDeadline, def.Builder.ValidationDeadline.Duration, "time a validator may spend re-executing a block")
	cmd.Flags().Int(FlagNConcurrentTxs, def.Builder.NConcurrentTxs, "number of transactions in flight during a build")
	cmd.Flags().Int(FlagNWorkers, def.Builder.NWorkers, "number of execution workers per block")
	cmd.Flags().Duration(FlagTxPollingInterval, def.Builder.TxPollingInterval.Duration, "wait between transaction fetches that returned nothing")

	// Bouncer configuration flags
	cmd.Flags().Uint64(FlagBouncerL1Gas, def.Bouncer.L1Gas, "L1 gas capacity of a block")
	cmd.Flags().Uint64(FlagBouncerMessageSegmentLength, def.Bouncer.MessageSegmentLength, "L2 to L1 message segment capacity of a block")
	cmd.Flags().Uint64(FlagBouncerNEvents, def.Bouncer.NEvents, "event capacity of a block")
	cmd.Flags().Uint64(FlagBouncerNTxs, def.Bouncer.NTxs, "transaction capacity of a block")
	cmd.Flags().Uint64(FlagBouncerStateDiffSize, def.Bouncer.StateDiffSize, "state diff capacity of a block")
	cmd.Flags().Uint64(FlagBouncerSierraGas, def.Bouncer.SierraGas, "execution gas capacity of a block")
	cmd.Flags().Uint64(FlagBouncerProvingGas, def.Bouncer.ProvingGas, "proving gas capacity of a block")

	// Chain configuration flags
	cmd.Flags().String(FlagSequencerAddress, def.Chain.SequencerAddress, "hex address credited with transaction fees")
	cmd.Flags().String(FlagFeeTokenAddress, def.Chain.FeeTokenAddress, "hex address of the fee token contract")
	cmd.Flags().Uint64(FlagL2GasPrice, def.Chain.L2GasPrice, "L2 gas price of produced blocks")

	// Mempool configuration flags
	cmd.Flags().Int(FlagMempoolMaxSize, def.Mempool.MaxSize, "maximum number of pending transactions (0 for no limit)")

	// Node configuration flags
	cmd.Flags().Duration(FlagBlockTime, def.Node.BlockTime.Duration, "block time")
	cmd.Flags().String(FlagTxIngressAddress, def.Node.TxIngressAddress, "HTTP transaction endpoint address (host:port)")
	cmd.Flags().Uint64(FlagRecoveryHistoryDepth, def.Node.RecoveryHistoryDepth, "number of latest blocks that can be reverted (0 keeps all)")

	// Instrumentation configuration flags
	instrDef := DefaultInstrumentationConfig()
	cmd.Flags().Bool(FlagPrometheus, instrDef.Prometheus, "enable Prometheus metrics")
	cmd.Flags().String(FlagPrometheusListenAddr, instrDef.PrometheusListenAddr, "Prometheus metrics listen address")
	cmd.Flags().Int(FlagMaxOpenConnections, instrDef.MaxOpenConnections, "maximum number of simultaneous connections for metrics")
	cmd.Flags().Bool(FlagPprof, instrDef.Pprof, "enable pprof HTTP endpoint")
	cmd.Flags().String(FlagPprofListenAddr, instrDef.PprofListenAddr, "pprof HTTP server listening address")
	cmd.Flags().Bool(FlagTracing, instrDef.Tracing, "enable OpenTelemetry tracing")
	cmd.Flags().String(FlagTracingEndpoint, instrDef.TracingEndpoint, "OTLP endpoint for traces (host:port)")
	cmd.Flags().String(FlagTracingServiceName, instrDef.TracingServiceName, "OpenTelemetry service.name")
	cmd.Flags().Float64(FlagTracingSampleRate, instrDef.TracingSampleRate, "trace sampling rate (0.0-1.0)")
}

// Load loads the node configuration in the following order of precedence:
// 1. DefaultConfig() (lowest priority)
// 2. YAML configuration file
// 3. Environment variables
// 4. Command line flags (highest priority)
func Load(cmd *cobra.Command) (Config, error) {
	home, _ := cmd.Flags().GetString(FlagRootDir)
	if home == "" {
		home = DefaultRootDir
	} else if !filepath.IsAbs(home) {
		// Convert relative path to absolute path
		absHome, err := filepath.Abs(home)
		if err != nil {
			return Config{}, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		home = absHome
	}

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType(ConfigExtension)
	v.AddConfigPath(filepath.Join(home, AppConfigDir))
	v.SetConfigFile(filepath.Join(home, AppConfigDir, ConfigName))
	_ = v.BindPFlags(cmd.Flags())
	_ = v.BindPFlags(cmd.PersistentFlags())
	v.AutomaticEnv()

	// get the executable name
	executableName, err := os.Executable()
	if err != nil {
		return Config{}, err
	}

	if err := bindFlags(path.Base(executableName), cmd, v); err != nil {
		return Config{}, err
	}

	// read the configuration file
	// if the configuration file does not exist, we ignore the error
	// it will use the defaults
	_ = v.ReadInConfig()

	return loadFromViper(v, home)
}

// loadFromViper processes a viper instance and returns a Config.
func loadFromViper(v *viper.Viper, home string) (Config, error) {
	cfg := DefaultConfig()
	cfg.RootDir = home

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			func(f reflect.Type, t reflect.Type, data any) (any, error) {
				if t == reflect.TypeFor[DurationWrapper]() && f.Kind() == reflect.String {
					if str, ok := data.(string); ok {
						duration, err := time.ParseDuration(str)
						if err != nil {
							return nil, err
						}
						return DurationWrapper{Duration: duration}, nil
					}
				}
				return data, nil
			},
		),
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return cfg, errors.Join(ErrReadYaml, fmt.Errorf("failed creating decoder: %w", err))
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return cfg, errors.Join(ErrReadYaml, fmt.Errorf("failed decoding viper: %w", err))
	}

	return cfg, nil
}

func bindFlags(basename string, cmd *cobra.Command, v *viper.Viper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bindFlags failed: %v", r)
		}
	}()

	visit := func(f *pflag.Flag) {
		flagName := strings.TrimPrefix(f.Name, FlagPrefixEvbatcher)

		// Environment variables can't have dots or dashes in them, e.g.
		// --evbatcher.node.block_time is read from EVBATCHER_NODE_BLOCK_TIME
		env := strings.NewReplacer(".", "_", "-", "_").Replace(flagName)
		err = v.BindEnv(flagName, fmt.Sprintf("%s_%s", strings.ToUpper(basename), strings.ToUpper(env)))
		if err != nil {
			panic(err)
		}

		err = v.BindPFlag(flagName, f)
		if err != nil {
			panic(err)
		}

		// Apply the viper config value to the flag when the flag is not set and
		// viper has a value.
		if !f.Changed && v.IsSet(flagName) {
			val := v.Get(flagName)
			err = f.Value.Set(fmt.Sprintf("%v", val))
			if err != nil {
				panic(err)
			}
		}
	}
	cmd.Flags().VisitAll(visit)
	cmd.PersistentFlags().VisitAll(visit)

	return err
}
