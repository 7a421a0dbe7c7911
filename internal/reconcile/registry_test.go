package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RecordAndLookup(t *testing.T) {
	r := NewRegistry(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	require.NoError(t, r.RecordConfirmed(ctx, RefKey("order_1"), 100, 25.00, "approved"))

	entry, ok := r.Lookup(ctx, RefKey("order_1"))
	require.True(t, ok)
	assert.Equal(t, int64(100), entry.PaymentID)
	assert.Equal(t, 25.00, entry.Amount)

	_, ok = r.Lookup(ctx, RefKey("order_2"))
	assert.False(t, ok)
}

func TestRegistry_RecordIsIdempotent(t *testing.T) {
	r := NewRegistry(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	require.NoError(t, r.RecordConfirmed(ctx, AmountKey(10.00), 100, 10.00, "approved"))
	require.NoError(t, r.RecordConfirmed(ctx, AmountKey(10.00), 100, 10.00, "authorized"))

	entry, ok := r.Lookup(ctx, AmountKey(10.00))
	require.True(t, ok)
	// Second record overwrote the first, no duplicate.
	assert.Equal(t, "authorized", entry.Status)
}

func TestRegistry_SweepBoundary(t *testing.T) {
	r := NewRegistry(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }
	require.NoError(t, r.RecordConfirmed(ctx, RefKey("order_1"), 100, 25.00, "approved"))

	// Just inside the retention window: lookup still finds it, sweep keeps it.
	r.now = func() time.Time { return base.Add(time.Hour - time.Second) }
	removed, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
	_, ok := r.Lookup(ctx, RefKey("order_1"))
	assert.True(t, ok)

	// Just past it: sweep evicts.
	r.now = func() time.Time { return base.Add(time.Hour + time.Second) }
	removed, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, ok = r.Lookup(ctx, RefKey("order_1"))
	assert.False(t, ok)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "ref:order_1", RefKey("order_1"))
	assert.Equal(t, "amount:2550", AmountKey(25.50))
	// Rounded to centavos, so float noise maps to the same key.
	assert.Equal(t, AmountKey(25.50), AmountKey(25.499999999))
}
