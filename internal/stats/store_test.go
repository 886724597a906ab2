package stats

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "stats.json"), nil)
	require.NoError(t, err)
	return s
}

func TestOpenMissingFile(t *testing.T) {
	s := openTestStore(t)
	assert.Empty(t, s.Accounts())
	assert.Equal(t, Snapshot{}, s.AccountStats("unknown"))
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Open(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing stats file")
}

func TestWindowedCounts(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	// One import per window, oldest first.
	s.RecordImportAt("work", now.Add(-300*24*time.Hour))
	s.RecordImportAt("work", now.Add(-20*24*time.Hour))
	s.RecordImportAt("work", now.Add(-3*24*time.Hour))
	s.RecordImportAt("work", now.Add(-time.Hour))

	snap := s.AccountStats("work")
	assert.Equal(t, 1, snap.Day)
	assert.Equal(t, 2, snap.Week)
	assert.Equal(t, 3, snap.Month)
	assert.Equal(t, 4, snap.Year)
	assert.Equal(t, 4, snap.Total)

	// The windows are monotonic by construction.
	assert.LessOrEqual(t, snap.Day, snap.Week)
	assert.LessOrEqual(t, snap.Week, snap.Month)
	assert.LessOrEqual(t, snap.Month, snap.Year)
	assert.LessOrEqual(t, snap.Year, snap.Total)
}

func TestRetentionPruning(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.RecordImportAt("work", now.Add(-500*24*time.Hour))
	s.RecordImportAt("work", now.Add(-390*24*time.Hour))
	s.RecordImportAt("work", now)

	snap := s.AccountStats("work")
	// The 500-day entry fell out of retention; the 390-day one is kept
	// but counts in no window.
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 1, snap.Year)
}

func TestRecordSyncStatusOverwrites(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.RecordSyncStatus("work", StatusStarted, "")
	snap := s.AccountStats("work")
	require.NotNil(t, snap.LastSync)
	assert.Equal(t, StatusStarted, snap.LastSync.Status)

	s.RecordSyncStatus("work", StatusSuccess, "imported 3 of 3 messages")
	snap = s.AccountStats("work")
	require.NotNil(t, snap.LastSync)
	assert.Equal(t, StatusSuccess, snap.LastSync.Status)
	assert.Equal(t, "imported 3 of 3 messages", snap.LastSync.Message)
	assert.Equal(t, now.UnixMilli(), snap.LastSync.Time)
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")

	s, err := Open(path, nil)
	require.NoError(t, err)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.RecordImportAt("work", now.Add(-time.Hour))
	s.RecordSyncStatus("work", StatusSuccess, "ok")

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	reopened.now = s.now

	snap := reopened.AccountStats("work")
	assert.Equal(t, 1, snap.Total)
	assert.Equal(t, 1, snap.Day)
	require.NotNil(t, snap.LastSync)
	assert.Equal(t, StatusSuccess, snap.LastSync.Status)
}

func TestFileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")

	s, err := Open(path, nil)
	require.NoError(t, err)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.RecordImportAt("work", now)
	s.RecordSyncStatus("work", StatusFail, "connect timed out")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw struct {
		UpdatedAt int64 `json:"updatedAt"`
		Accounts  map[string]struct {
			Imports  []int64 `json:"imports"`
			LastSync *struct {
				Time    int64  `json:"time"`
				Status  string `json:"status"`
				Message string `json:"message"`
			} `json:"last_sync"`
		} `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, now.UnixMilli(), raw.UpdatedAt)
	work, ok := raw.Accounts["work"]
	require.True(t, ok)
	assert.Equal(t, []int64{now.UnixMilli()}, work.Imports)
	require.NotNil(t, work.LastSync)
	assert.Equal(t, "fail", work.LastSync.Status)
	assert.Equal(t, "connect timed out", work.LastSync.Message)
}

func TestAccountsSorted(t *testing.T) {
	s := openTestStore(t)
	s.RecordImport("zebra")
	s.RecordImport("alpha")
	s.RecordImport("mid")

	assert.Equal(t, []string{"alpha", "mid", "zebra"}, s.Accounts())
}

func TestAllStats(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.RecordImportAt("a", now)
	s.RecordImportAt("a", now)
	s.RecordImportAt("b", now)

	all := s.AllStats()
	require.Len(t, all, 2)
	assert.Equal(t, 2, all["a"].Total)
	assert.Equal(t, 1, all["b"].Total)
}
