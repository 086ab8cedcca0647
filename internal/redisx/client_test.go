package redisx

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopAlwaysMisses(t *testing.T) {
	ctx := context.Background()
	var n Noop

	require.NoError(t, n.RememberRegistration(ctx, "ev", "key-1", "order-1"))
	id, ok, err := n.LookupRegistration(ctx, "ev", "key-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)

	require.NoError(t, n.MarkSeen(ctx, "pay-1"))
	seen, err := n.Seen(ctx, "pay-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestKeysAreScoped(t *testing.T) {
	assert.Equal(t, "idem:registration:ev-1:abc", fmt.Sprintf(KeyIdemRegistration, "ev-1", "abc"))
	assert.NotEqual(t,
		fmt.Sprintf(KeyIdemRegistration, "ev-1", "abc"),
		fmt.Sprintf(KeyIdemRegistration, "ev-2", "abc"))
	assert.Equal(t, "dedup:payment:tx-9", fmt.Sprintf(KeyPaymentDedup, "tx-9"))
	assert.Greater(t, TTLDedup, TTLIdempotency)
}
