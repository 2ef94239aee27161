package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genens/internal/model"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Init(context.Background()))
	exerciseStore(t, store)
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	assert.ErrorIs(t, store.SaveRun(ctx, model.RunRecord{ID: "r"}), ErrNotInitialized)
	_, _, err := store.GetLineage(ctx, "r")
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = store.ListRuns(ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Init(ctx))

	lineage := []model.LineageRecord{{IndividualID: "a", ParentIDs: []string{"p"}}}
	require.NoError(t, store.SaveLineage(ctx, "run", lineage))
	lineage[0].ParentIDs[0] = "changed"

	got, _, err := store.GetLineage(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, "p", got[0].ParentIDs[0])

	got[0].ParentIDs[0] = "changed again"
	again, _, err := store.GetLineage(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, "p", again[0].ParentIDs[0])
}
