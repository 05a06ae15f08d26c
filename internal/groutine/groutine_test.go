package groutine

import (
	"context"
	"runtime/pprof"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGoPropagatesName(t *testing.T) {
	type observed struct {
		name  string
		label string
		value any
	}
	done := make(chan observed, 1)

	type key struct{}
	parent := context.WithValue(context.Background(), key{}, "parent-value")

	Go(parent, "worker-42", func(ctx context.Context) {
		label, _ := pprof.Label(ctx, "goroutine_name")
		done <- observed{name: GetName(ctx), label: label, value: ctx.Value(key{})}
	})

	got := <-done
	assert.Equal(t, "worker-42", got.name, "GetName MUST return the goroutine name")
	assert.Equal(t, "worker-42", got.label, "pprof label MUST carry the goroutine name")
	assert.Equal(t, "parent-value", got.value, "parent context values MUST be inherited")
}

func TestGoNilParent(t *testing.T) {
	done := make(chan string, 1)
	//nolint:staticcheck // nil parent is part of the contract
	Go(nil, "nil-parent", func(ctx context.Context) {
		done <- GetName(ctx)
	})
	assert.Equal(t, "nil-parent", <-done)
}

func TestGetNameWithoutName(t *testing.T) {
	assert.Empty(t, GetName(context.Background()))
	//nolint:staticcheck // nil context is part of the contract
	assert.Empty(t, GetName(nil))
}
