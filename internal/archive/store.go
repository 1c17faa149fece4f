// Package archive keeps exported reports on disk so finished recordings can
// be listed and fetched later.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("report not found")
	ErrInvalidID = errors.New("invalid report id")
)

const metaSuffix = ".meta.json"

// Meta describes an archived report.
type Meta struct {
	ID                   string    `json:"id"`
	SessionID            string    `json:"session_id,omitempty"`
	Label                string    `json:"label,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	Events               int       `json:"events"`
	TotalRequests        int       `json:"total_requests"`
	TotalResponses       int       `json:"total_responses"`
	TotalFailed          int       `json:"total_failed"`
	MonitoringDurationMS int64     `json:"monitoring_duration_ms"`
	ReportBytes          int       `json:"report_bytes"`
	CSVBytes             int       `json:"csv_bytes"`
}

// Store manages archived reports on disk. Each report is three files:
// <id>.json (report export), <id>.csv (event export) and <id>.meta.json.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates a Store and ensures the directory exists.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func validateID(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != id {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func (s *Store) path(id, ext string) string {
	return filepath.Join(s.dir, id+ext)
}

// Save writes the report, the CSV and the metadata sidecar. A missing ID
// or CreatedAt is filled in; the stored Meta is returned.
func (s *Store) Save(meta Meta, reportJSON, csv string) (Meta, error) {
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if err := validateID(meta.ID); err != nil {
		return Meta{}, err
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	meta.ReportBytes = len(reportJSON)
	meta.CSVBytes = len(csv)

	s.mu.Lock()
	defer s.mu.Unlock()

	reportPath := s.path(meta.ID, ".json")
	csvPath := s.path(meta.ID, ".csv")
	if err := os.WriteFile(reportPath, []byte(reportJSON), 0o644); err != nil {
		return Meta{}, fmt.Errorf("archive: write report: %w", err)
	}
	if err := os.WriteFile(csvPath, []byte(csv), 0o644); err != nil {
		s.removeLocked(reportPath)
		return Meta{}, fmt.Errorf("archive: write csv: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		s.removeLocked(reportPath, csvPath)
		return Meta{}, fmt.Errorf("archive: marshal meta: %w", err)
	}
	if err := os.WriteFile(s.path(meta.ID, metaSuffix), data, 0o644); err != nil {
		s.removeLocked(reportPath, csvPath)
		return Meta{}, fmt.Errorf("archive: write meta: %w", err)
	}

	slog.Info("report archived", "id", meta.ID, "session_id", meta.SessionID, "events", meta.Events)
	return meta, nil
}

// Get reads report metadata by ID.
func (s *Store) Get(id string) (Meta, error) {
	if err := validateID(id); err != nil {
		return Meta{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(id)
}

func (s *Store) getLocked(id string) (Meta, error) {
	data, err := os.ReadFile(s.path(id, metaSuffix))
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Meta{}, fmt.Errorf("archive: read meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("archive: unmarshal meta: %w", err)
	}
	return meta, nil
}

// List returns all archived reports sorted by creation time (newest first).
func (s *Store) List() ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+metaSuffix))
	if err != nil {
		return nil, fmt.Errorf("archive: glob: %w", err)
	}

	metas := make([]Meta, 0, len(matches))
	for _, path := range matches {
		id := strings.TrimSuffix(filepath.Base(path), metaSuffix)
		meta, err := s.getLocked(id)
		if err != nil {
			slog.Debug("archive: skipping unreadable meta", "path", path, "error", err)
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// ReadReport returns the archived JSON report.
func (s *Store) ReadReport(id string) ([]byte, error) {
	return s.read(id, ".json")
}

// ReadCSV returns the archived CSV event export.
func (s *Store) ReadCSV(id string) ([]byte, error) {
	return s.read(id, ".csv")
}

func (s *Store) read(id, ext string) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.getLocked(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(id, ext))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s%s", ErrNotFound, id, ext)
		}
		return nil, fmt.Errorf("archive: read %s: %w", ext, err)
	}
	return data, nil
}

// Delete removes the report, the CSV and the metadata sidecar.
func (s *Store) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.getLocked(id); err != nil {
		return err
	}
	s.removeLocked(s.path(id, ".json"), s.path(id, ".csv"))
	if err := os.Remove(s.path(id, metaSuffix)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("archive: remove meta: %w", err)
	}
	return nil
}

func (s *Store) removeLocked(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil {
			slog.Debug("archive file cleanup failed", "path", p, "error", err)
		}
	}
}
