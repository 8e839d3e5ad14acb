package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/verdantlabs/leafid/internal/models"
	"github.com/verdantlabs/leafid/internal/records"
	"github.com/verdantlabs/leafid/internal/store"
)

func newTestWatcher(t *testing.T) (*Watcher, *store.SQLiteStore, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	root := filepath.Join(dir, "drop")
	svc := records.NewService(st, nil)
	w := NewWatcher(root, []string{".yaml", ".yml"}, svc, WithDebounce(20*time.Millisecond))
	return w, st, root
}

func waitForRecord(t *testing.T, st store.Store, key string) *models.Record {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := st.GetByNaturalKey(context.Background(), key)
		if err == nil {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("record %q never appeared", key)
	return nil
}

func waitForGone(t *testing.T, st store.Store, key string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := st.GetByNaturalKey(context.Background(), key); err == store.ErrNotFound {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("record %q never deleted", key)
}

func TestWatcher_DropFileUpserts(t *testing.T) {
	w, st, root := newTestWatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	content := []byte(`name: Monstera
care:
  light: bright indirect
`)
	if err := os.WriteFile(filepath.Join(root, "monstera.yaml"), content, 0644); err != nil {
		t.Fatal(err)
	}
	rec := waitForRecord(t, st, "monstera")
	if rec.Name != "Monstera" || rec.Care == nil {
		t.Errorf("record = %+v", rec)
	}
}

func TestWatcher_RemoveFileDeletes(t *testing.T) {
	w, st, root := newTestWatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	path := filepath.Join(root, "pothos.yaml")
	if err := os.WriteFile(path, []byte("name: Pothos\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitForRecord(t, st, "pothos")

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitForGone(t, st, "pothos")
}

func TestWatcher_RemoveUsesDeclaredNaturalKey(t *testing.T) {
	w, st, root := newTestWatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// The file name and the declared natural key disagree.
	path := filepath.Join(root, "swiss-cheese.yaml")
	content := []byte("name: Monstera\nnatural_key: monstera-deliciosa\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	waitForRecord(t, st, "monstera-deliciosa")

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitForGone(t, st, "monstera-deliciosa")
}

func TestWatcher_IgnoresOtherExtensions(t *testing.T) {
	w, st, root := newTestWatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("name: Decoy\n"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if n, _ := st.CountRecords(ctx); n != 0 {
		t.Errorf("record count = %d, want 0", n)
	}
}

func TestWatcher_SyncExisting(t *testing.T) {
	w, st, root := newTestWatcher(t)
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}
	// Present before the watcher starts.
	if err := os.WriteFile(filepath.Join(root, "fern.yaml"), []byte("name: Fern\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "skip.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	w.SyncExisting(ctx)
	if _, err := st.GetByNaturalKey(ctx, "fern"); err != nil {
		t.Errorf("existing file not synced: %v", err)
	}
	if n, _ := st.CountRecords(ctx); n != 1 {
		t.Errorf("record count = %d, want 1", n)
	}
}

func TestWatcher_ResolvesRelativeImagePath(t *testing.T) {
	w, st, root := newTestWatcher(t)
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "photo.bin"), []byte{1, 2, 3}, 0644); err != nil {
		t.Fatal(err)
	}
	content := []byte("name: Hoya\nimage_path: photo.bin\n")
	if err := os.WriteFile(filepath.Join(root, "hoya.yaml"), content, 0644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	w.SyncExisting(ctx)
	rec, err := st.GetByNaturalKey(ctx, "hoya")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Image) != 3 {
		t.Errorf("image bytes = %d, want 3", len(rec.Image))
	}
}

func TestNaturalKeyForPath(t *testing.T) {
	cases := map[string]string{
		"/drop/monstera_deliciosa.yaml": "monstera-deliciosa",
		"/drop/Snake Plant.yml":         "snake-plant",
		"fern.yaml":                     "fern",
	}
	for in, want := range cases {
		if got := naturalKeyForPath(in); got != want {
			t.Errorf("naturalKeyForPath(%q) = %q, want %q", in, got, want)
		}
	}
}
