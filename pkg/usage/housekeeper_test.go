package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archestra-ai/gateway/pkg/collab"
	"github.com/archestra-ai/gateway/pkg/collab/memstore"
)

func TestHousekeeper_SweepResetsStaleLimitsOnly(t *testing.T) {
	t.Parallel()
	store := memstore.New()

	store.PutLimit(&collab.Limit{ID: "lim-stale", EntityType: collab.EntityAgent, EntityID: "agent1", Models: []string{"gpt-4o"}})
	recent := time.Now()
	store.PutLimit(&collab.Limit{ID: "lim-fresh", EntityType: collab.EntityAgent, EntityID: "agent2", Models: []string{"gpt-4o"}, LastCleanup: &recent})

	require.NoError(t, store.IncrementModelCounter(context.Background(), "lim-stale", "gpt-4o", 10, 20))
	require.NoError(t, store.IncrementModelCounter(context.Background(), "lim-fresh", "gpt-4o", 10, 20))

	hk := NewHousekeeper(store)
	n, err := hk.Sweep(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	staleCounter, err := store.GetOrCreateModelCounter(context.Background(), "lim-stale", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, int64(0), staleCounter.CurrentUsageTokensIn)

	freshCounter, err := store.GetOrCreateModelCounter(context.Background(), "lim-fresh", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, int64(10), freshCounter.CurrentUsageTokensIn, "fresh limit should not be reset")
}
