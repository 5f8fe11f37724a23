// Package testutil holds assertions shared by the tracing tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// RequireAttribute fails the test unless attrs carry key with the expected
// value. Integers of any width are compared as int64.
func RequireAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expected any) {
	t.Helper()
	value, ok := lookup(attrs, key)
	require.True(t, ok, "attribute %s not found", key)
	require.Equal(t, normalize(expected), value.AsInterface(), "attribute %s", key)
}

// RequireNoAttribute fails the test if attrs carry any of keys.
func RequireNoAttribute(t *testing.T, attrs []attribute.KeyValue, keys ...string) {
	t.Helper()
	for _, key := range keys {
		_, ok := lookup(attrs, key)
		require.False(t, ok, "unexpected attribute %s", key)
	}
}

// SpanNamed returns the single ended span called name.
func SpanNamed(t *testing.T, spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	var found []sdktrace.ReadOnlySpan
	for _, span := range spans {
		if span.Name() == name {
			found = append(found, span)
		}
	}
	require.Len(t, found, 1, "spans named %s", name)
	return found[0]
}

func lookup(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value, true
		}
	}
	return attribute.Value{}, false
}

func normalize(v any) any {
	switch v := v.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case float32:
		return float64(v)
	default:
		return v
	}
}
