package building

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/evstack/ev-batcher/types"
)

var _ Builder = (*tracedBuilder)(nil)

// tracedBuilder decorates a Builder with OpenTelemetry spans.
type tracedBuilder struct {
	inner      Builder
	tracer     trace.Tracer
	height     uint64
	proposalID types.ProposalID
	validator  bool
}

// WithTracingBuilder decorates the provided Builder with tracing spans.
func WithTracingBuilder(inner Builder, height uint64, proposalID types.ProposalID, validator bool) Builder {
	return &tracedBuilder{
		inner:      inner,
		tracer:     otel.Tracer("ev-batcher/block-builder"),
		height:     height,
		proposalID: proposalID,
		validator:  validator,
	}
}

func (t *tracedBuilder) Build(ctx context.Context) (*types.BlockExecutionArtifacts, error) {
	ctx, span := t.tracer.Start(ctx, "BlockBuilder.Build",
		trace.WithAttributes(
			attribute.Int64("block.height", int64(t.height)),
			attribute.Int64("proposal.id", int64(t.proposalID)),
			attribute.Bool("validator", t.validator),
		),
	)
	defer span.End()

	artifacts, err := t.inner.Build(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("tx.count", len(artifacts.TxHashes)),
		attribute.Int("tx.rejected", artifacts.RejectedTxHashes.Cardinality()),
		attribute.Int("final_n_executed_txs", artifacts.FinalNExecutedTxs),
		attribute.String("close_reason", string(artifacts.CloseReason)),
	)
	return artifacts, nil
}
