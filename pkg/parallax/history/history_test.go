package history

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

func features(job string) types.JobFeatures {
	return types.JobFeatures{
		JobName:     job,
		TotalItems:  10000,
		SizeBucket:  types.SizeBucket(10000),
		Fingerprint: "abcdef0123456789",
		Workload:    types.WorkloadCompute,
	}
}

func result(workers, chunk int, backend types.Backend, speedup float64) *types.Result {
	return &types.Result{
		Workers:          workers,
		ChunkSize:        chunk,
		Backend:          backend,
		EstimatedSpeedup: speedup,
		Reason:           "test",
		Diagnostics: &types.Diagnostics{
			Stats: &types.SampleStats{MeanItemTime: 0.05},
		},
	}
}

// newTestStore returns a store whose clock advances one second per record.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "history"), DefaultOptions())
	require.NoError(t, err)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var tick int
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates store with valid directory", func(t *testing.T) {
		t.Parallel()
		s, err := New(t.TempDir(), Options{})
		require.NoError(t, err)
		assert.Equal(t, DefaultMinRecords, s.opts.MinRecords)
		assert.Equal(t, DefaultWindow, s.opts.Window)
	})

	t.Run("returns error for empty directory", func(t *testing.T) {
		t.Parallel()
		_, err := New("", Options{})
		assert.Error(t, err)
	})

	t.Run("window is never smaller than min records", func(t *testing.T) {
		t.Parallel()
		s, err := New(t.TempDir(), Options{MinRecords: 6, Window: 2})
		require.NoError(t, err)
		assert.Equal(t, 6, s.opts.Window)
	})
}

func TestStore_RecordAndList(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.Record(features("a"), result(4, 4, types.BackendProcessPool, 3.9)))
	require.NoError(t, s.Record(features("b"), result(1, 3, types.BackendSerial, 1)))
	require.NoError(t, s.Record(features("a"), result(2, 8, types.BackendThreadPool, 1.9)))

	all, err := s.List("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 2, all[0].Decision.Workers, "newest first")
	assert.Equal(t, "b", all[1].Features.JobName)
	assert.Equal(t, 0.05, all[2].Decision.MeanItemTime)

	onlyA, err := s.List("a", 0)
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)

	limited, err := s.List("", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_ListMissingDirectory(t *testing.T) {
	t.Parallel()
	s, err := New(filepath.Join(t.TempDir(), "absent"), DefaultOptions())
	require.NoError(t, err)

	records, err := s.List("", 0)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestStore_SkipsCorruptFiles(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Record(features("a"), result(4, 4, types.BackendProcessPool, 3.9)))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "broken.json"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0o644))

	records, err := s.List("", 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStore_Get(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Record(features("a"), result(4, 4, types.BackendProcessPool, 3.9)))

	records, err := s.List("", 0)
	require.NoError(t, err)
	id := records[0].ID

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	got, err = s.Get(id[:8])
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	_, err = s.Get("zzzz")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get("")
	assert.Error(t, err)
}

func TestStore_GetAmbiguousPrefix(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	for range 20 {
		require.NoError(t, s.Record(features("a"), result(1, 1, types.BackendSerial, 1)))
	}

	// 20 IDs over 16 leading hex digits must share at least one.
	var ambiguous int
	for _, c := range "0123456789abcdef" {
		if _, err := s.Get(string(c)); errors.Is(err, ErrAmbiguousID) {
			ambiguous++
		}
	}
	assert.Positive(t, ambiguous)
}

func TestStore_Cleanup(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	s.now = time.Now
	require.NoError(t, s.Record(features("old"), result(1, 1, types.BackendSerial, 1)))
	require.NoError(t, s.Record(features("new"), result(1, 1, types.BackendSerial, 1)))

	records, err := s.List("old", 0)
	require.NoError(t, err)
	old := filepath.Join(s.Dir(), recordFilename(&records[0]))
	past := time.Now().AddDate(0, 0, -40)
	require.NoError(t, os.Chtimes(old, past, past))

	removed, err := s.Cleanup(30)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	left, err := s.List("", 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].Features.JobName)
}

func TestStore_CleanupMissingDirectory(t *testing.T) {
	t.Parallel()
	s, err := New(filepath.Join(t.TempDir(), "absent"), DefaultOptions())
	require.NoError(t, err)

	removed, err := s.Cleanup(1)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestStore_ConcurrentRecords(t *testing.T) {
	t.Parallel()
	s, err := New(t.TempDir(), DefaultOptions())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Record(features("a"), result(2, 2, types.BackendThreadPool, 1.8)))
		}()
	}
	wg.Wait()

	records, err := s.List("", 0)
	require.NoError(t, err)
	assert.Len(t, records, 10)
}

func TestStore_Predict(t *testing.T) {
	t.Parallel()

	t.Run("needs minimum records", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)
		for range 2 {
			require.NoError(t, s.Record(features("a"), result(4, 4, types.BackendProcessPool, 3.9)))
		}
		_, ok := s.Predict(features("a"))
		assert.False(t, ok)
	})

	t.Run("unanimous records", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)
		for _, sp := range []float64{3.8, 3.9, 4.0, 4.1, 4.2} {
			require.NoError(t, s.Record(features("a"), result(4, 4, types.BackendProcessPool, sp)))
		}

		p, ok := s.Predict(features("a"))
		require.True(t, ok)
		assert.Equal(t, 4, p.Workers)
		assert.Equal(t, 4, p.ChunkSize)
		assert.Equal(t, types.BackendProcessPool, p.Backend)
		assert.InDelta(t, 1.0, p.Confidence, 1e-9)
		assert.InDelta(t, 4.0, p.Speedup, 1e-9)
		assert.Equal(t, 5, p.Samples)
	})

	t.Run("few records lower confidence", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)
		for range 3 {
			require.NoError(t, s.Record(features("a"), result(4, 4, types.BackendProcessPool, 3.9)))
		}

		p, ok := s.Predict(features("a"))
		require.True(t, ok)
		assert.InDelta(t, 0.6, p.Confidence, 1e-9)
	})

	t.Run("majority wins", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)
		require.NoError(t, s.Record(features("a"), result(2, 8, types.BackendThreadPool, 1.9)))
		for range 3 {
			require.NoError(t, s.Record(features("a"), result(4, 4, types.BackendProcessPool, 3.9)))
		}
		require.NoError(t, s.Record(features("a"), result(3, 5, types.BackendProcessPool, 2.9)))

		p, ok := s.Predict(features("a"))
		require.True(t, ok)
		assert.Equal(t, 4, p.Workers)
		assert.InDelta(t, 0.6, p.Confidence, 1e-9)
	})

	t.Run("ignores other jobs and machines", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)
		other := features("a")
		other.Fingerprint = "ffffffffffffffff"
		bigger := features("a")
		bigger.SizeBucket++
		for range 5 {
			require.NoError(t, s.Record(features("b"), result(4, 4, types.BackendProcessPool, 3.9)))
			require.NoError(t, s.Record(other, result(4, 4, types.BackendProcessPool, 3.9)))
			require.NoError(t, s.Record(bigger, result(4, 4, types.BackendProcessPool, 3.9)))
		}

		_, ok := s.Predict(features("a"))
		assert.False(t, ok)
	})

	t.Run("only the recent window votes", func(t *testing.T) {
		t.Parallel()
		s, err := New(t.TempDir(), Options{MinRecords: 3, Window: 4})
		require.NoError(t, err)
		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		var tick int
		s.now = func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Minute)
		}
		for range 6 {
			require.NoError(t, s.Record(features("a"), result(2, 8, types.BackendThreadPool, 1.9)))
		}
		for range 4 {
			require.NoError(t, s.Record(features("a"), result(4, 4, types.BackendProcessPool, 3.9)))
		}

		p, ok := s.Predict(features("a"))
		require.True(t, ok)
		assert.Equal(t, 4, p.Workers)
		assert.Equal(t, 4, p.Samples)
	})
}
