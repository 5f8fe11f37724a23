package store

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/evstack/ev-batcher/types"
)

var _ Store = (*tracedStore)(nil)

type tracedStore struct {
	inner  Store
	tracer trace.Tracer
}

// WithTracingStore wraps a Store with OpenTelemetry tracing. State reads are
// not traced; they happen once per executed transaction.
func WithTracingStore(inner Store) Store {
	return &tracedStore{
		inner:  inner,
		tracer: otel.Tracer("ev-batcher/store"),
	}
}

func (t *tracedStore) Height(ctx context.Context) (uint64, error) {
	ctx, span := t.tracer.Start(ctx, "Store.Height")
	defer span.End()

	height, err := t.inner.Height(ctx)
	if err != nil {
		recordError(span, err)
		return height, err
	}

	span.SetAttributes(attribute.Int64("height", int64(height)))
	return height, nil
}

func (t *tracedStore) Get(ctx context.Context, key types.StateKey) (types.Felt, error) {
	return t.inner.Get(ctx, key)
}

func (t *tracedStore) GetStateDiff(ctx context.Context, height uint64) (*types.StateDiff, error) {
	ctx, span := t.tracer.Start(ctx, "Store.GetStateDiff",
		trace.WithAttributes(attribute.Int64("height", int64(height))),
	)
	defer span.End()

	diff, err := t.inner.GetStateDiff(ctx, height)
	if err != nil {
		recordError(span, err)
		return diff, err
	}
	span.SetAttributes(attribute.Int("diff.entries", diff.Len()))
	return diff, nil
}

func (t *tracedStore) CommitProposal(ctx context.Context, height uint64, diff *types.StateDiff) error {
	entries := 0
	if diff != nil {
		entries = diff.Len()
	}
	ctx, span := t.tracer.Start(ctx, "Store.CommitProposal",
		trace.WithAttributes(
			attribute.Int64("height", int64(height)),
			attribute.Int("diff.entries", entries),
		),
	)
	defer span.End()

	if err := t.inner.CommitProposal(ctx, height, diff); err != nil {
		recordError(span, err)
		return err
	}
	return nil
}

func (t *tracedStore) RevertBlock(ctx context.Context, height uint64) error {
	ctx, span := t.tracer.Start(ctx, "Store.RevertBlock",
		trace.WithAttributes(attribute.Int64("height", int64(height))),
	)
	defer span.End()

	if err := t.inner.RevertBlock(ctx, height); err != nil {
		recordError(span, err)
		return err
	}
	return nil
}

func (t *tracedStore) DeleteRevertDataAtHeight(ctx context.Context, height uint64) error {
	ctx, span := t.tracer.Start(ctx, "Store.DeleteRevertDataAtHeight",
		trace.WithAttributes(attribute.Int64("height", int64(height))),
	)
	defer span.End()

	if err := t.inner.DeleteRevertDataAtHeight(ctx, height); err != nil {
		recordError(span, err)
		return err
	}
	return nil
}

func (t *tracedStore) SetMetadata(ctx context.Context, key string, value []byte) error {
	ctx, span := t.tracer.Start(ctx, "Store.SetMetadata",
		trace.WithAttributes(
			attribute.String("key", key),
			attribute.Int("value.size", len(value)),
		),
	)
	defer span.End()

	if err := t.inner.SetMetadata(ctx, key, value); err != nil {
		recordError(span, err)
		return err
	}
	return nil
}

func (t *tracedStore) GetMetadata(ctx context.Context, key string) ([]byte, error) {
	ctx, span := t.tracer.Start(ctx, "Store.GetMetadata",
		trace.WithAttributes(attribute.String("key", key)),
	)
	defer span.End()

	value, err := t.inner.GetMetadata(ctx, key)
	if err != nil {
		recordError(span, err)
		return value, err
	}
	return value, nil
}

func (t *tracedStore) Close() error {
	return t.inner.Close()
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
