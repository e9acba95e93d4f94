package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/craftwatch/internal/crawler"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewRunStore()

	_, err := store.LatestRun(ctx)
	require.ErrorIs(t, err, crawler.ErrRunNotFound)

	base := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	first := crawler.RunRecord{RunID: "r1", AsOf: "2024-05-01", CapturedAt: base, Items: 3,
		Stats: map[string]crawler.Stats{"pillars": {NumRawItems: 3}}}
	second := crawler.RunRecord{RunID: "r2", AsOf: "2024-05-02", CapturedAt: base.Add(24 * time.Hour), Items: 5}

	require.NoError(t, store.RecordRun(ctx, second))
	require.NoError(t, store.RecordRun(ctx, first))
	require.Error(t, store.RecordRun(ctx, first))
	require.Error(t, store.RecordRun(ctx, crawler.RunRecord{}))

	latest, err := store.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r2", latest.RunID)

	runs := store.Runs()
	require.Len(t, runs, 2)
	runs[1].Stats["pillars"] = crawler.Stats{}
	assert.Equal(t, 3, store.Runs()[1].Stats["pillars"].NumRawItems)
}
