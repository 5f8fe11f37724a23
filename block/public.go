package block

import (
	"github.com/evstack/ev-batcher/block/internal/batching"
	"github.com/evstack/ev-batcher/block/internal/common"
)

// Expose Metrics for constructor
type Metrics = common.Metrics

// PrometheusMetrics creates a new PrometheusMetrics instance with the given namespace and labelsAndValues.
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	return common.PrometheusMetrics(namespace, labelsAndValues...)
}

// NopMetrics creates a new NopMetrics instance.
func NopMetrics() *Metrics {
	return common.NopMetrics()
}

// Collaborators of the batcher.
type (
	Storage              = common.Storage
	MempoolClient        = common.MempoolClient
	L1ProviderClient     = common.L1ProviderClient
	TransactionConverter = common.TransactionConverter
)

// Batcher drives the height and proposal lifecycle of the sequencer.
type Batcher = batching.Batcher

// BatcherConfig configures a Batcher.
type BatcherConfig = batching.Config

// DefaultBatcherConfig returns the default batcher configuration.
func DefaultBatcherConfig() BatcherConfig {
	return batching.DefaultConfig()
}

// FailOnError is a build failure that makes a proposal invalid.
type FailOnError = common.FailOnError

// FailOnErrorCause is the reason a proposal was found invalid.
type FailOnErrorCause = common.FailOnErrorCause

const (
	CauseBlockFull                            = common.CauseBlockFull
	CauseDeadlineReached                      = common.CauseDeadlineReached
	CauseL1HandlerTransactionValidationFailed = common.CauseL1HandlerTransactionValidationFailed
	CauseTransactionFailed                    = common.CauseTransactionFailed
)

// Errors returned by the Batcher.
var (
	ErrNoActiveHeight                = common.ErrNoActiveHeight
	ErrHeightInProgress              = common.ErrHeightInProgress
	ErrStorageHeightMarkerMismatch   = common.ErrStorageHeightMarkerMismatch
	ErrProposalNotFound              = common.ErrProposalNotFound
	ErrAnotherProposalInProgress     = common.ErrAnotherProposalInProgress
	ErrMissingRetrospectiveBlockHash = common.ErrMissingRetrospectiveBlockHash
	ErrExecutedProposalNotFound      = common.ErrExecutedProposalNotFound
	ErrNotReady                      = common.ErrNotReady
	ErrInternal                      = common.ErrInternal
	ErrBlockBuildAborted             = common.ErrBlockBuildAborted
	ErrProposalFailed                = common.ErrProposalFailed
	ErrFailOnError                   = common.ErrFailOnError
)
