package execution

import "context"

type txIndexContextKey struct{}

// WithTxIndex adds the position of the executed transaction within its block
// to the context.
func WithTxIndex(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, txIndexContextKey{}, index)
}

// TxIndexFromContext retrieves the transaction position from the context.
// Returns false if no index is present.
func TxIndexFromContext(ctx context.Context) (int, bool) {
	index, ok := ctx.Value(txIndexContextKey{}).(int)
	return index, ok
}
