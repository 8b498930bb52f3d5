package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Entity families persisted as one document each.
const (
	FamilyGoals       = "goals"
	FamilyJourneys    = "journeys"
	FamilyForecasting = "forecasting"
	FamilyMetrics     = "metrics"
	FamilyAlerts      = "alerts"
)

// Snapshots stores whole entity-family documents. Save replaces the previous
// document atomically; Load reports found=false when nothing was saved yet.
type Snapshots interface {
	Load(ctx context.Context, family string) (doc []byte, found bool, err error)
	Save(ctx context.Context, family string, doc []byte) error
}

// FileSnapshots keeps one <family>.json file per family under a directory.
type FileSnapshots struct {
	dir string
}

// NewFileSnapshots prepares dir for snapshot files.
func NewFileSnapshots(dir string) (*FileSnapshots, error) {
	if dir == "" {
		return nil, errors.New("storage: snapshot directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileSnapshots{dir: dir}, nil
}

func (f *FileSnapshots) path(family string) string {
	return filepath.Join(f.dir, family+".json")
}

// Load reads the family document.
func (f *FileSnapshots) Load(ctx context.Context, family string) ([]byte, bool, error) {
	doc, err := os.ReadFile(f.path(family))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read snapshot %s: %w", family, err)
	}
	return doc, true, nil
}

// Save writes doc to a temp file in the same directory, syncs it and renames it over
// the previous document so readers never observe a partial write.
func (f *FileSnapshots) Save(ctx context.Context, family string, doc []byte) error {
	if !json.Valid(doc) {
		return fmt.Errorf("snapshot %s: document is not valid JSON", family)
	}
	tmp, err := os.CreateTemp(f.dir, family+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path(family)); err != nil {
		cleanup()
		return fmt.Errorf("replace snapshot %s: %w", family, err)
	}
	return nil
}

// MemorySnapshots is a process-local Snapshots used when persistence is disabled and in tests.
type MemorySnapshots struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemorySnapshots returns an empty in-memory snapshot store.
func NewMemorySnapshots() *MemorySnapshots {
	return &MemorySnapshots{docs: make(map[string][]byte)}
}

// Load returns a copy of the stored document.
func (m *MemorySnapshots) Load(ctx context.Context, family string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[family]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), doc...), true, nil
}

// Save replaces the stored document.
func (m *MemorySnapshots) Save(ctx context.Context, family string, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[family] = append([]byte(nil), doc...)
	return nil
}

// Persister binds a Snapshots backend to one entity family and exposes the
// best-effort load/save contract: failures are logged and reported as false.
type Persister struct {
	store  Snapshots
	family string
	logger zerolog.Logger
}

// NewPersister returns nil when store is nil so callers can skip persistence with a nil check.
func NewPersister(store Snapshots, family string, logger zerolog.Logger) *Persister {
	if store == nil {
		return nil
	}
	return &Persister{
		store:  store,
		family: family,
		logger: logger.With().Str("component", "persister").Str("family", family).Logger(),
	}
}

// Load decodes the family document into v. A missing document leaves v untouched
// and returns false; a corrupt one is logged and also returns false.
func (p *Persister) Load(ctx context.Context, v any) bool {
	if p == nil {
		return false
	}
	doc, found, err := p.store.Load(ctx, p.family)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to load snapshot")
		return false
	}
	if !found {
		p.logger.Warn().Msg("snapshot not found; starting empty")
		return false
	}
	if err := json.Unmarshal(doc, v); err != nil {
		p.logger.Error().Err(err).Msg("failed to parse snapshot")
		return false
	}
	p.logger.Debug().Int("bytes", len(doc)).Msg("snapshot loaded")
	return true
}

// Save encodes v and replaces the family document.
func (p *Persister) Save(ctx context.Context, v any) bool {
	if p == nil {
		return false
	}
	doc, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to encode snapshot")
		return false
	}
	if err := p.store.Save(ctx, p.family, doc); err != nil {
		p.logger.Error().Err(err).Msg("failed to save snapshot")
		return false
	}
	return true
}

var (
	_ Snapshots = (*FileSnapshots)(nil)
	_ Snapshots = (*MemorySnapshots)(nil)
)
