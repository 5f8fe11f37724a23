package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ipfs/go-datastore"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/evstack/ev-batcher/core/execution"
	"github.com/evstack/ev-batcher/node"
	batcherconf "github.com/evstack/ev-batcher/pkg/config"
	"github.com/evstack/ev-batcher/pkg/telemetry"
)

// ParseConfig is an helpers that loads the node configuration and validates it.
func ParseConfig(cmd *cobra.Command) (batcherconf.Config, error) {
	nodeConfig, err := batcherconf.Load(cmd)
	if err != nil {
		return batcherconf.Config{}, fmt.Errorf("failed to load node config: %w", err)
	}

	if err := nodeConfig.Validate(); err != nil {
		return batcherconf.Config{}, fmt.Errorf("failed to validate node config: %w", err)
	}

	return nodeConfig, nil
}

// SetupLogger creates a zerolog logger writing to stderr.
//
// Configuration options:
//   - Output format (text or JSON)
//   - Log level (debug, info, warn, error)
//   - Stack traces for error logs
func SetupLogger(config batcherconf.LogConfig) zerolog.Logger {
	var output = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	var logger zerolog.Logger
	if config.Format == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(output)
	}

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || config.Level == "" {
		level = zerolog.InfoLevel
	}

	ctx := logger.Level(level).With().Timestamp()
	if config.Trace {
		ctx = ctx.Stack()
	}
	return ctx.Logger()
}

// StartNode handles the node startup logic
func StartNode(
	logger zerolog.Logger,
	cmd *cobra.Command,
	txExecutor execution.TxExecutor,
	datastore datastore.Batching,
	nodeConfig batcherconf.Config,
) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if nodeConfig.Instrumentation.IsTracingEnabled() {
		shutdownTracing, err := telemetry.InitTracing(ctx, nodeConfig.Instrumentation, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error().Err(err).Msg("failed to shut down tracing")
			}
		}()
	}

	batcherNode, err := node.NewNode(
		ctx,
		nodeConfig,
		datastore,
		txExecutor,
		node.DefaultMetricsProvider(nodeConfig.Instrumentation),
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}

	// Run the node with graceful shutdown
	errCh := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("node panicked: %v", r)
				logger.Error().Interface("panic", r).Msg("Recovered from panic in node")
				select {
				case errCh <- err:
				default:
					logger.Error().Err(err).Msg("Error channel full")
				}
			}
		}()

		err := batcherNode.Run(ctx)
		select {
		case errCh <- err:
		default:
			logger.Error().Err(err).Msg("Error channel full")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info().Msg("shutting down node...")
		cancel()
	case err := <-errCh:
		logger.Error().Err(err).Msg("node error")
		cancel()
		return err
	}

	// Wait for node to finish shutting down
	select {
	case <-time.After(10 * time.Second):
		logger.Info().Msg("Node shutdown timed out")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Error during shutdown")
			return err
		}
	}

	return nil
}
