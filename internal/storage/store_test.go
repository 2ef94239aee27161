package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genens/internal/model"
)

func sampleRun(id string, created time.Time) model.RunRecord {
	return model.RunRecord{
		VersionedRecord:  CurrentVersion(),
		ID:               id,
		CreatedAt:        created.UTC(),
		Dataset:          "iris.csv",
		Strategy:         "crossval",
		Scorer:           "accuracy",
		Seed:             3,
		PopulationSize:   10,
		Generations:      2,
		BestScore:        0.93,
		BestValid:        true,
		BestTree:         "cPipe(KNeighbors[n_neighbors=3], dTerm)",
		BestByGeneration: []float64{0.8, 0.9, 0.93},
	}
}

// exerciseStore runs the behaviour every backend shares against an
// initialized store.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := sampleRun("run-b", base.Add(time.Hour))
	earlier := sampleRun("run-a", base)
	require.NoError(t, store.SaveRun(ctx, later))
	require.NoError(t, store.SaveRun(ctx, earlier))

	got, ok, err := store.GetRun(ctx, "run-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, earlier.CreatedAt.Equal(got.CreatedAt))
	got.CreatedAt = earlier.CreatedAt
	assert.Equal(t, earlier, got)

	_, ok, err = store.GetRun(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-a", runs[0].ID)
	assert.Equal(t, "run-b", runs[1].ID)

	updated := earlier
	updated.BestScore = 0.97
	require.NoError(t, store.SaveRun(ctx, updated))
	got, _, err = store.GetRun(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, 0.97, got.BestScore)

	diagnostics := []model.GenerationDiagnostics{
		{Generation: 0, BestScore: 0.8, MeanScore: 0.6, ValidCount: 9, FailedCount: 1, Evaluated: 10},
		{Generation: 1, BestScore: 0.9, MeanScore: 0.7, ValidCount: 10, Evaluated: 4},
	}
	require.NoError(t, store.SaveDiagnostics(ctx, "run-a", diagnostics))
	gotDiag, ok, err := store.GetDiagnostics(ctx, "run-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, diagnostics, gotDiag)

	members := []model.IndividualRecord{{
		VersionedRecord: CurrentVersion(),
		ID:              "ind-1",
		Rank:            0,
		Notation:        "cPipe(gaussianNB, dTerm)",
		Tree:            json.RawMessage(`{"name":"cPipe","out":"out"}`),
		Valid:           true,
		Score:           0.9,
		LogElapsed:      -3.2,
	}}
	require.NoError(t, store.SaveHallOfFame(ctx, "run-a", members))
	gotMembers, ok, err := store.GetHallOfFame(ctx, "run-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, gotMembers, 1)
	assert.Equal(t, "ind-1", gotMembers[0].ID)
	assert.JSONEq(t, string(members[0].Tree), string(gotMembers[0].Tree))

	lineage := []model.LineageRecord{{
		VersionedRecord: CurrentVersion(),
		IndividualID:    "ind-2",
		ParentIDs:       []string{"ind-1", "ind-0"},
		Generation:      1,
		Operation:       "one_point+args",
	}}
	require.NoError(t, store.SaveLineage(ctx, "run-a", lineage))
	gotLineage, ok, err := store.GetLineage(ctx, "run-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, lineage, gotLineage)

	_, ok, err = store.GetLineage(ctx, "run-b")
	require.NoError(t, err)
	assert.False(t, ok)
}
