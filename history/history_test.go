package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper: create a test run store
func createTestStore(t *testing.T) *Store {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	store, err := NewStore(dbPath)
	require.NoError(t, err, "should create run store")
	t.Cleanup(func() { store.Close() })
	return store
}

// Test helper: a finished run starting at start
func createTestRun(start time.Time) *Run {
	return &Run{
		Mode:       ModeArticles,
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		MaxPages:   2,
		DelaySec:   0.4,
		Pages:      2,
		Links:      5,
		Succeeded:  4,
		Failed:     1,
		Partial:    true,
	}
}

// TestNewStore_ExistingDatabase verifies reopening keeps runs
func TestNewStore_ExistingDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	store1, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store1.Record(ctx, createTestRun(time.Now())))
	store1.Close()

	store2, err := NewStore(dbPath)
	require.NoError(t, err)
	defer store2.Close()

	runs, err := store2.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

// TestRecordAndGet verifies a run round-trips through the store
func TestRecordAndGet(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	start := time.Date(2025, 8, 29, 10, 0, 0, 123000000, time.UTC)
	run := createTestRun(start)
	msg := "listing page 2: HTTP 503"
	run.Error = &msg

	require.NoError(t, store.Record(ctx, run))
	assert.NotEqual(t, uuid.Nil, run.RunID, "should assign a run ID")

	got, err := store.Get(ctx, run.RunID)
	require.NoError(t, err)

	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, ModeArticles, got.Mode)
	assert.True(t, start.Equal(got.StartedAt))
	assert.Equal(t, 1500*time.Millisecond, got.Duration())
	assert.Equal(t, 2, got.MaxPages)
	assert.Equal(t, 0.4, got.DelaySec)
	assert.Equal(t, 2, got.Pages)
	assert.Equal(t, 5, got.Links)
	assert.Equal(t, 4, got.Succeeded)
	assert.Equal(t, 1, got.Failed)
	assert.True(t, got.Partial)
	require.NotNil(t, got.Error)
	assert.Equal(t, msg, *got.Error)
}

// TestGet_NotFound verifies unknown IDs
func TestGet_NotFound(t *testing.T) {
	store := createTestStore(t)

	_, err := store.Get(context.Background(), uuid.New())

	assert.ErrorIs(t, err, ErrRunNotFound)
}

// TestList_MostRecentFirst verifies ordering and limit
func TestList_MostRecentFirst(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 8, 29, 10, 0, 0, 0, time.UTC)
	for i := range 3 {
		run := createTestRun(base.Add(time.Duration(i) * time.Minute))
		run.Links = i
		require.NoError(t, store.Record(ctx, run))
	}
	// Sub-second start times must still sort after whole seconds
	late := createTestRun(base.Add(2*time.Minute + 500*time.Millisecond))
	late.Links = 99
	require.NoError(t, store.Record(ctx, late))

	runs, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 99, runs[0].Links)
	assert.Equal(t, 2, runs[1].Links)
	assert.Nil(t, runs[0].Error)
}

// TestList_Empty verifies an empty store returns an empty slice
func TestList_Empty(t *testing.T) {
	store := createTestStore(t)

	runs, err := store.List(context.Background(), 10)

	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

// TestPrune verifies only the newest runs are kept
func TestPrune(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 8, 29, 10, 0, 0, 0, time.UTC)
	for i := range 5 {
		run := createTestRun(base.Add(time.Duration(i) * time.Hour))
		run.Links = i
		require.NoError(t, store.Record(ctx, run))
	}

	removed, err := store.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	runs, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 4, runs[0].Links)
	assert.Equal(t, 3, runs[1].Links)
}
