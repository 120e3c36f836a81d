package runstate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faizol/loyalty-migration/internal/importer"
	"github.com/faizol/loyalty-migration/internal/runstate"
)

func TestRecorderTracksRunLifecycle(t *testing.T) {
	store := runstate.NewStore(nil) // in-memory fallback
	rec := runstate.NewRecorder(store, "run-1")

	st, ok := store.Get(context.Background(), "run-1")
	require.True(t, ok)
	assert.Equal(t, runstate.StatusRunning, st.Status)

	rec.Init(50, "processing 50 rows")
	rec.Progress(25, 50, 50, 20, 5, "processed 25 of 50 rows")

	st, _ = store.Get(context.Background(), "run-1")
	assert.Equal(t, 50, st.Total)
	assert.Equal(t, 25, st.Processed)
	assert.Equal(t, float64(50), st.Percent)
	assert.Equal(t, 20, st.SuccessCount)
	assert.Equal(t, 5, st.ErrorCount)

	rec.Complete(importer.RunSummary{Total: 50, SuccessCount: 45, ErrorCount: 5})
	st, _ = store.Get(context.Background(), "run-1")
	assert.Equal(t, runstate.StatusCompleted, st.Status)
	assert.Equal(t, float64(100), st.Percent)
	assert.Equal(t, 45, st.SuccessCount)
}

func TestRecorderMarksFailure(t *testing.T) {
	store := runstate.NewStore(nil)
	rec := runstate.NewRecorder(store, "run-2")
	rec.Error("could not parse csv file")

	st, ok := store.Get(context.Background(), "run-2")
	require.True(t, ok)
	assert.Equal(t, runstate.StatusFailed, st.Status)
	assert.Equal(t, "could not parse csv file", st.Message)
}

func TestGetUnknownRun(t *testing.T) {
	store := runstate.NewStore(nil)
	_, ok := store.Get(context.Background(), "nope")
	assert.False(t, ok)
}
