package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestFileSnapshotsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileSnapshots(t.TempDir())
	if err != nil {
		t.Fatalf("new file snapshots: %v", err)
	}

	if _, found, err := store.Load(ctx, FamilyGoals); err != nil || found {
		t.Fatalf("expected missing document, found=%v err=%v", found, err)
	}

	if err := store.Save(ctx, FamilyGoals, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, FamilyGoals, []byte(`{"a":2}`)); err != nil {
		t.Fatalf("second save: %v", err)
	}

	doc, found, err := store.Load(ctx, FamilyGoals)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if string(doc) != `{"a":2}` {
		t.Fatalf("unexpected document %s", doc)
	}
}

func TestFileSnapshotsFailedWriteKeepsPreviousDocument(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileSnapshots(dir)
	if err != nil {
		t.Fatalf("new file snapshots: %v", err)
	}
	if err := store.Save(ctx, FamilyAlerts, []byte(`{"alerts":[]}`)); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := store.Save(ctx, FamilyAlerts, []byte(`{"alerts":[`)); err == nil {
		t.Fatalf("expected truncated document to be rejected")
	}

	doc, found, err := store.Load(ctx, FamilyAlerts)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if string(doc) != `{"alerts":[]}` {
		t.Fatalf("previous document was not preserved: %s", doc)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", entry.Name())
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "alerts.json")); err != nil {
		t.Fatalf("expected alerts.json: %v", err)
	}
}

func TestSQLiteSnapshotsUpsert(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLiteMemory()
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()

	if _, found, err := store.Load(ctx, FamilyMetrics); err != nil || found {
		t.Fatalf("expected missing document, found=%v err=%v", found, err)
	}
	for _, doc := range []string{`{"v":1}`, `{"v":2}`} {
		if err := store.Save(ctx, FamilyMetrics, []byte(doc)); err != nil {
			t.Fatalf("save %s: %v", doc, err)
		}
	}
	doc, found, err := store.Load(ctx, FamilyMetrics)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if string(doc) != `{"v":2}` {
		t.Fatalf("unexpected document %s", doc)
	}

	if err := store.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestPersisterDegradesOnCorruptDocument(t *testing.T) {
	ctx := context.Background()
	mem := NewMemorySnapshots()
	if err := mem.Save(ctx, FamilyGoals, []byte("not json")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	p := NewPersister(mem, FamilyGoals, zerolog.Nop())
	var state map[string]int
	if p.Load(ctx, &state) {
		t.Fatalf("expected corrupt document to fail load")
	}
	if state != nil {
		t.Fatalf("state should stay empty, got %v", state)
	}

	if !p.Save(ctx, map[string]int{"x": 1}) {
		t.Fatalf("save failed")
	}
	if !p.Load(ctx, &state) || state["x"] != 1 {
		t.Fatalf("unexpected state after reload: %v", state)
	}
}

func TestNilPersisterIsInert(t *testing.T) {
	p := NewPersister(nil, FamilyGoals, zerolog.Nop())
	if p != nil {
		t.Fatalf("expected nil persister without a store")
	}
	if p.Save(context.Background(), 1) || p.Load(context.Background(), new(int)) {
		t.Fatalf("nil persister must report false")
	}
}

func TestMemoryRepositoryKeepsInsertionOrder(t *testing.T) {
	repo := NewMemoryRepository[string]()
	repo.Put("b", "beta")
	repo.Put("a", "alpha")
	repo.Put("b", "beta2")

	items := repo.List()
	if len(items) != 2 || items[0] != "beta2" || items[1] != "alpha" {
		t.Fatalf("unexpected order %v", items)
	}
	if !repo.Delete("b") || repo.Delete("b") {
		t.Fatalf("delete should report presence once")
	}
	if repo.Len() != 1 {
		t.Fatalf("expected one item, got %d", repo.Len())
	}
}

func TestXactLockKeyRejectsTruncation(t *testing.T) {
	if got, err := xactLockKey(0x72657665); err != nil || got != 0x72657665 {
		t.Fatalf("expected key to pass through, got %d %v", got, err)
	}
	for _, key := range []int64{1 << 32, 0x172657665, -2147483649} {
		if _, err := xactLockKey(key); !errors.Is(err, ErrLockKeyRange) {
			t.Fatalf("key %d: expected ErrLockKeyRange, got %v", key, err)
		}
	}
}
