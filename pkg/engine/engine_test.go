package engine

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruggierom/affindb/pkg/core/distance"
	"github.com/ruggierom/affindb/pkg/core/nsw"
	"github.com/ruggierom/affindb/pkg/core/tuner"
	"github.com/ruggierom/affindb/pkg/core/types"
)

func randVec(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()
	}
	return v
}

func seedCorpus(t *testing.T, e *Engine, n int, seed int64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < n; i++ {
		require.NoError(t, e.Upsert(fmt.Sprintf("p-%d", i), randVec(rng, e.DB.Dim()), rng.Float64()))
	}
}

func TestOpenDefaults(t *testing.T) {
	e, err := Open(Options{})
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, distance.DefaultDim, e.DB.Dim())
	assert.Equal(t, types.IndexConfig{M: 16, EfConstruction: 64, EfSearch: 64}, e.ActiveConfig())
	assert.Equal(t, 0, e.Len())
}

func TestOpenRejectsBadConfig(t *testing.T) {
	_, err := Open(Options{Index: types.IndexConfig{M: 16, EfConstruction: 4, EfSearch: 4}})
	assert.Error(t, err)
}

func TestCloseIdempotent(t *testing.T) {
	e, err := Open(DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}

func TestUpsertSearchRoundtrip(t *testing.T) {
	e, err := Open(DefaultOptions())
	require.NoError(t, err)
	defer e.Close()

	seedCorpus(t, e, 50, 1)
	assert.Equal(t, 50, e.Len())

	target, found := e.Get("p-3")
	require.True(t, found)

	matches, err := e.Search(target.Vector, 5, 100)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "p-3", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-5)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Similarity, matches[i].Similarity)
	}
}

func TestSearchEmptyEngine(t *testing.T) {
	e, err := Open(DefaultOptions())
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Search([]float32{1, 0, 0, 0, 0}, 3, 0)
	assert.ErrorIs(t, err, nsw.ErrEmptyIndex)
}

func TestSearchFilteredHonorsFloor(t *testing.T) {
	e, err := Open(DefaultOptions())
	require.NoError(t, err)
	defer e.Close()

	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 30; i++ {
		conf := 0.3
		if i%3 == 0 {
			conf = 0.8
		}
		require.NoError(t, e.Upsert(fmt.Sprintf("p-%d", i), randVec(rng, 5), conf))
	}

	matches, err := e.SearchFiltered(randVec(rng, 5), 10, 100, 0.5)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	for _, m := range matches {
		p, found := e.Get(m.ID)
		require.True(t, found)
		assert.GreaterOrEqual(t, p.Confidence, 0.5)
	}
}

func TestRemoveAndGet(t *testing.T) {
	e, err := Open(DefaultOptions())
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Upsert("a", []float32{1, 0, 0, 0, 0}, 0.7))
	assert.True(t, e.Remove("a"))
	assert.False(t, e.Remove("a"))
	_, found := e.Get("a")
	assert.False(t, found)
}

func TestRunBenchmarkEmptyCorpus(t *testing.T) {
	e, err := Open(DefaultOptions())
	require.NoError(t, err)
	defer e.Close()

	_, err = e.RunBenchmark(context.Background(), tuner.DefaultCatalog(), 10, 5)
	assert.ErrorIs(t, err, tuner.ErrBenchmarkUnavailable)
}

func TestRunBenchmarkAndSelect(t *testing.T) {
	e, err := Open(DefaultOptions())
	require.NoError(t, err)
	defer e.Close()

	seedCorpus(t, e, 100, 3)

	catalog := []types.IndexConfig{
		{M: 4, EfConstruction: 8, EfSearch: 8},
		{M: 16, EfConstruction: 64, EfSearch: 128},
	}
	results, err := e.RunBenchmark(context.Background(), catalog, 15, 5)
	require.NoError(t, err)
	require.Len(t, results, len(catalog))
	for i, r := range results {
		assert.Equal(t, catalog[i], r.Config, "results must come back in catalog order")
		assert.Empty(t, r.Err)
		assert.GreaterOrEqual(t, r.Recall, 0.0)
		assert.LessOrEqual(t, r.Recall, 1.0)
		assert.GreaterOrEqual(t, r.P95LatencyMs, r.AvgLatencyMs)
	}

	best, err := e.SelectConfig(results, 1000)
	require.NoError(t, err)
	for _, r := range results {
		assert.GreaterOrEqual(t, best.Recall, r.Recall, "budget winner must carry the top recall")
	}
}

func TestAutoTuneAdoptsWinner(t *testing.T) {
	// Start from a deliberately weak config that is not in the default
	// catalog, so the sweep winner always differs and must be adopted.
	opts := DefaultOptions()
	opts.Index = types.IndexConfig{M: 2, EfConstruction: 4, EfSearch: 4}
	opts.SampleSize = 10
	e, err := Open(opts)
	require.NoError(t, err)
	defer e.Close()

	seedCorpus(t, e, 80, 4)
	require.NotZero(t, e.DB.MutationsSinceBuild())

	best, err := e.AutoTune(context.Background())
	require.NoError(t, err)
	assert.False(t, best.Failed())
	assert.NotEqual(t, types.IndexConfig{M: 2, EfConstruction: 4, EfSearch: 4}, best.Config)
	assert.Equal(t, best.Config, e.ActiveConfig(), "winner was not adopted")
	assert.Zero(t, e.DB.MutationsSinceBuild(), "adoption must rebuild the index")

	// A second pass converges: the winner already serves, no rebuild needed.
	again, err := e.AutoTune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, best.Config, again.Config)
	assert.Equal(t, best.Config, e.ActiveConfig())
}

func TestAutoTuneEmptyCorpus(t *testing.T) {
	e, err := Open(DefaultOptions())
	require.NoError(t, err)
	defer e.Close()

	_, err = e.AutoTune(context.Background())
	assert.ErrorIs(t, err, tuner.ErrBenchmarkUnavailable)
}

func TestAsyncBenchmarkLifecycle(t *testing.T) {
	e, err := Open(DefaultOptions())
	require.NoError(t, err)
	defer e.Close()

	seedCorpus(t, e, 60, 5)

	catalog := []types.IndexConfig{
		{M: 4, EfConstruction: 8, EfSearch: 8},
		{M: 8, EfConstruction: 32, EfSearch: 32},
	}
	id := e.RunBenchmarkAsync(catalog, 10, 5)
	require.NotEmpty(t, id)

	task, found := e.Task(id)
	require.True(t, found)
	assert.Contains(t, []TaskStatus{TaskStatusPending, TaskStatusRunning, TaskStatusCompleted}, task.Status())

	require.Eventually(t, func() bool {
		return task.Status() == TaskStatusCompleted
	}, 5*time.Second, 10*time.Millisecond, "task never completed: status=%s err=%s", task.Status(), task.Err())

	report := task.Report()
	require.Len(t, report, len(catalog))
	for i, r := range report {
		assert.Equal(t, catalog[i], r.Config)
	}
	assert.Empty(t, task.Err())

	_, found = e.Task("no-such-task")
	assert.False(t, found)
}

func TestAsyncBenchmarkFailure(t *testing.T) {
	e, err := Open(DefaultOptions())
	require.NoError(t, err)
	defer e.Close()

	// Empty corpus: the sweep fails and the task must absorb the error.
	id := e.RunBenchmarkAsync(tuner.DefaultCatalog(), 10, 5)
	task, found := e.Task(id)
	require.True(t, found)

	require.Eventually(t, func() bool {
		return task.Status() == TaskStatusFailed
	}, 5*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, task.Err())
	assert.Nil(t, task.Report())
}

func TestBackgroundRebuildHealsDrift(t *testing.T) {
	opts := DefaultOptions()
	opts.RebuildInterval = 20 * time.Millisecond
	e, err := Open(opts)
	require.NoError(t, err)
	defer e.Close()

	seedCorpus(t, e, 40, 6)
	require.NotZero(t, e.DB.MutationsSinceBuild())

	require.Eventually(t, func() bool {
		return e.DB.MutationsSinceBuild() == 0
	}, 5*time.Second, 10*time.Millisecond, "background rebuild never ran")

	// Quiet index stays quiet: no spurious rebuild churn to wait out on Close.
	require.NoError(t, e.Close())
}

func TestBackgroundAutoTune(t *testing.T) {
	opts := DefaultOptions()
	opts.Index = types.IndexConfig{M: 2, EfConstruction: 4, EfSearch: 4}
	opts.AutoTuneInterval = 25 * time.Millisecond
	opts.SampleSize = 10
	e, err := Open(opts)
	require.NoError(t, err)
	defer e.Close()

	// Ticks on an empty corpus are silently skipped.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, types.IndexConfig{M: 2, EfConstruction: 4, EfSearch: 4}, e.ActiveConfig())

	seedCorpus(t, e, 60, 7)

	require.Eventually(t, func() bool {
		return e.ActiveConfig() != types.IndexConfig{M: 2, EfConstruction: 4, EfSearch: 4}
	}, 5*time.Second, 10*time.Millisecond, "auto-tune never adopted a config")
}
