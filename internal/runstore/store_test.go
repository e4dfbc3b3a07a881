package runstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivergen/internal/driver"
)

func sampleRecord(id string, at time.Time) Record {
	return Record{
		RunID:     id,
		Target:    "driver.go",
		CreatedAt: at,
		Result: driver.SupervisorResult{
			Success:            true,
			Outcome:            driver.OutcomeSucceeded,
			Explanation:        "driver accepted after 1 supervisor cycle(s)",
			SupervisorAttempts: 1,
		},
	}
}

func TestFileStorePutGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	s := New(path)

	rec := sampleRecord("run-1", time.Now().UTC())
	require.NoError(t, s.Put(rec))

	got, ok := s.Get("run-1")
	require.True(t, ok)
	assert.Equal(t, rec.Target, got.Target)
	assert.Equal(t, driver.OutcomeSucceeded, got.Result.Outcome)
}

func TestFileStoreSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")

	s := New(path)
	require.NoError(t, s.Put(sampleRecord("run-1", time.Now().UTC())))

	// A fresh store over the same path must see the persisted record.
	s2 := New(path)
	got, ok := s2.Get("run-1")
	require.True(t, ok)
	assert.True(t, got.Result.Success)
}

func TestFileStoreListNewestFirst(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "runs.json"))
	base := time.Now().UTC()
	require.NoError(t, s.Put(sampleRecord("run-old", base.Add(-time.Hour))))
	require.NoError(t, s.Put(sampleRecord("run-new", base)))

	out := s.List(0)
	require.Len(t, out, 2)
	assert.Equal(t, "run-new", out[0].RunID)

	assert.Len(t, s.List(1), 1)
}

func TestStoreIgnoresBlankRunID(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "runs.json"))
	require.NoError(t, s.Put(Record{RunID: "  "}))
	assert.Empty(t, s.List(0))
}
