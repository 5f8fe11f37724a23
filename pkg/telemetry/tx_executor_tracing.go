package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/evstack/ev-batcher/core/execution"
	"github.com/evstack/ev-batcher/types"
)

var _ execution.TxExecutor = (*tracedTxExecutor)(nil)

// tracedTxExecutor records a span per executed transaction.
type tracedTxExecutor struct {
	inner  execution.TxExecutor
	tracer trace.Tracer
}

// WithTracingTxExecutor decorates a TxExecutor with OpenTelemetry spans.
func WithTracingTxExecutor(inner execution.TxExecutor) execution.TxExecutor {
	return &tracedTxExecutor{
		inner:  inner,
		tracer: otel.Tracer("ev-batcher/execution"),
	}
}

func (t *tracedTxExecutor) ExecuteTx(ctx context.Context, tx *types.Transaction, state execution.State, blockCtx execution.BlockContext) (*types.ExecutionInfo, error) {
	attrs := []attribute.KeyValue{
		attribute.String("tx.hash", tx.Hash().Hex()),
		attribute.String("tx.kind", tx.Kind.String()),
		attribute.Int64("block.height", int64(blockCtx.BlockInfo.Height)),
		attribute.Bool("concurrency_mode", blockCtx.ConcurrencyMode),
	}
	if index, ok := execution.TxIndexFromContext(ctx); ok {
		attrs = append(attrs, attribute.Int("tx.index", index))
	}
	ctx, span := t.tracer.Start(ctx, "TxExecutor.ExecuteTx", trace.WithAttributes(attrs...))
	defer span.End()

	info, err := t.inner.ExecuteTx(ctx, tx, state, blockCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return info, err
	}

	span.SetAttributes(attribute.Bool("tx.reverted", info.Reverted))
	return info, nil
}
