// Package stats keeps the durable per-account import history: an
// append-only log of import timestamps plus the outcome of the last
// sync cycle, queryable as time-windowed counts.
package stats

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/teemow/mailferry/internal/logging"
)

// Status of an account's last sync cycle. "started" is overwritten by
// "success" or "fail" at the end of the cycle.
type Status string

// Sync statuses.
const (
	StatusStarted Status = "started"
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
)

// Retention horizon for import log entries.
const retention = 400 * 24 * time.Hour

// Aggregation windows for the snapshot counts.
const (
	windowDay   = 24 * time.Hour
	windowWeek  = 7 * 24 * time.Hour
	windowMonth = 30 * 24 * time.Hour
	windowYear  = 365 * 24 * time.Hour
)

// LastSync records the outcome of an account's most recent cycle.
// Time is epoch milliseconds.
type LastSync struct {
	Time    int64  `json:"time"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Snapshot is the derived windowed view of one account. Never stored;
// always recomputed against wall-clock now, so two snapshots taken at
// different instants may disagree with no new imports.
type Snapshot struct {
	Day   int
	Week  int
	Month int
	Year  int
	Total int

	LastSync *LastSync
}

type accountRecord struct {
	Imports  []int64   `json:"imports"`
	LastSync *LastSync `json:"last_sync,omitempty"`
}

type fileFormat struct {
	UpdatedAt int64                     `json:"updatedAt"`
	Accounts  map[string]*accountRecord `json:"accounts"`
}

// Store is the durable import history. Persistence is best-effort:
// every mutation rewrites the whole file atomically, and a failed
// write is logged and swallowed. The in-memory state stays
// authoritative for the rest of the process lifetime.
type Store struct {
	mu       sync.Mutex
	path     string
	accounts map[string]*accountRecord
	logger   *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// Open loads the store from path. A missing file yields an empty
// store; a corrupt file is a startup error.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:     path,
		accounts: make(map[string]*accountRecord),
		logger:   logging.WithOperation(logger, "stats"),
		now:      time.Now,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading stats file %s: %w", path, err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parsing stats file %s: %w", path, err)
	}
	if ff.Accounts != nil {
		s.accounts = ff.Accounts
	}
	return s, nil
}

// RecordImport appends an import timestamp of now for the account,
// prunes entries older than the retention horizon and persists.
func (s *Store) RecordImport(account string) {
	s.RecordImportAt(account, s.now())
}

// RecordImportAt is RecordImport with an explicit timestamp.
func (s *Store) RecordImportAt(account string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(account)
	rec.Imports = append(rec.Imports, t.UnixMilli())
	s.prune(rec)
	s.persist()
}

// RecordSyncStatus overwrites the account's last_sync field and persists.
func (s *Store) RecordSyncStatus(account string, status Status, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(account)
	rec.LastSync = &LastSync{
		Time:    s.now().UnixMilli(),
		Status:  status,
		Message: message,
	}
	s.persist()
}

// AccountStats computes the windowed counts for one account. Pure
// read; an unknown account yields a zero snapshot.
func (s *Store) AccountStats(account string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.accounts[account]
	if !ok {
		return Snapshot{}
	}
	return s.snapshot(rec)
}

// AllStats computes windowed counts for every known account.
func (s *Store) AllStats() map[string]Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Snapshot, len(s.accounts))
	for name, rec := range s.accounts {
		out[name] = s.snapshot(rec)
	}
	return out
}

// Accounts returns the known account names, sorted.
func (s *Store) Accounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.accounts))
	for name := range s.accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) record(account string) *accountRecord {
	rec, ok := s.accounts[account]
	if !ok {
		rec = &accountRecord{}
		s.accounts[account] = rec
	}
	return rec
}

func (s *Store) snapshot(rec *accountRecord) Snapshot {
	now := s.now()
	snap := Snapshot{
		Total:    len(rec.Imports),
		LastSync: rec.LastSync,
	}

	cutDay := now.Add(-windowDay).UnixMilli()
	cutWeek := now.Add(-windowWeek).UnixMilli()
	cutMonth := now.Add(-windowMonth).UnixMilli()
	cutYear := now.Add(-windowYear).UnixMilli()

	for _, ts := range rec.Imports {
		if ts > cutDay {
			snap.Day++
		}
		if ts > cutWeek {
			snap.Week++
		}
		if ts > cutMonth {
			snap.Month++
		}
		if ts > cutYear {
			snap.Year++
		}
	}
	return snap
}

// prune drops import entries older than the retention horizon.
func (s *Store) prune(rec *accountRecord) {
	cutoff := s.now().Add(-retention).UnixMilli()
	kept := rec.Imports[:0]
	for _, ts := range rec.Imports {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	rec.Imports = kept
}

// persist rewrites the whole file atomically. Failures are logged and
// swallowed; a crash before a successful persist loses only the most
// recent update, never corrupts the store. Callers hold s.mu.
func (s *Store) persist() {
	ff := fileFormat{
		UpdatedAt: s.now().UnixMilli(),
		Accounts:  s.accounts,
	}
	data, err := json.Marshal(ff)
	if err != nil {
		s.logger.Warn("encoding stats failed", logging.Err(err))
		return
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		s.logger.Warn("creating stats directory failed", logging.Err(err))
		return
	}

	tmp, err := os.CreateTemp(dir, ".stats-*")
	if err != nil {
		s.logger.Warn("creating temp stats file failed", logging.Err(err))
		return
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.logger.Warn("writing stats file failed", logging.Err(err))
		return
	}
	if err := tmp.Close(); err != nil {
		s.logger.Warn("closing stats file failed", logging.Err(err))
		return
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		s.logger.Warn("replacing stats file failed", logging.Err(err))
	}
}
