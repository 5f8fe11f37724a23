package execution_test

import (
	"context"
	"testing"

	"github.com/evstack/ev-batcher/core/execution"
)

func TestWithTxIndex_ContextRoundtrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		index int
	}{
		{name: "first", index: 0},
		{name: "middle", index: 17},
		{name: "large", index: 1 << 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := execution.WithTxIndex(context.Background(), tt.index)
			got, ok := execution.TxIndexFromContext(ctx)
			if !ok {
				t.Fatal("expected index to be present")
			}
			if got != tt.index {
				t.Errorf("expected %d, got %d", tt.index, got)
			}
		})
	}
}

func TestTxIndexFromContext_Missing(t *testing.T) {
	t.Parallel()

	if _, ok := execution.TxIndexFromContext(context.Background()); ok {
		t.Error("expected no index on a bare context")
	}
}
