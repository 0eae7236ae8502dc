package saves

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSave(t *testing.T, dir, name string, size int, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
}

func TestListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	writeSave(t, dir, "middle.zip", 20, base.Add(10*time.Minute))
	writeSave(t, dir, "oldest.zip", 10, base)
	writeSave(t, dir, "newest.zip", 30, base.Add(20*time.Minute))
	writeSave(t, dir, "notes.txt", 5, base.Add(30*time.Minute))
	if err := os.Mkdir(filepath.Join(dir, "folder.zip"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	records, err := NewStore(dir).List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	var names []string
	for _, r := range records {
		names = append(names, r.Name)
	}
	if strings.Join(names, ",") != "newest,middle,oldest" {
		t.Fatalf("order = %v", names)
	}
	if records[0].SizeBytes != 30 || !records[0].ModifiedAt.Equal(base.Add(20*time.Minute)) {
		t.Fatalf("unexpected metadata %+v", records[0])
	}
}

func TestListMissingDirectory(t *testing.T) {
	records, err := NewStore(filepath.Join(t.TempDir(), "absent")).List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty list, got %v", records)
	}
}

func TestGetMissingSave(t *testing.T) {
	dir := t.TempDir()
	writeSave(t, dir, "default.zip", 1, time.Now())
	store := NewStore(dir)

	if _, err := store.Get("default"); err != nil {
		t.Fatalf("get default: %v", err)
	}
	if _, err := store.Get("default.zip"); err != nil {
		t.Fatalf("get with extension: %v", err)
	}

	_, err := store.Get("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Name != "missing" {
		t.Fatalf("expected *NotFoundError for missing, got %#v", err)
	}

	if _, err := store.Get("../default"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("path traversal should be not found, got %v", err)
	}
}

func TestPutReplacesAtomically(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "saves")
	store := NewStore(dir)

	if _, err := store.Put("uploaded", strings.NewReader("first")); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec, err := store.Put("uploaded.zip", strings.NewReader("second version"))
	if err != nil {
		t.Fatalf("put again: %v", err)
	}
	if rec.Name != "uploaded" || rec.SizeBytes != int64(len("second version")) {
		t.Fatalf("unexpected record %+v", rec)
	}

	data, err := os.ReadFile(filepath.Join(dir, "uploaded.zip"))
	if err != nil || string(data) != "second version" {
		t.Fatalf("stored content %q err=%v", data, err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestPutRejectsInvalidNames(t *testing.T) {
	store := NewStore(t.TempDir())
	for _, name := range []string{"", "../escape", "a/b", ".hidden", "x..y"} {
		if _, err := store.Put(name, strings.NewReader("x")); !errors.Is(err, ErrInvalidName) {
			t.Errorf("name %q: expected ErrInvalidName, got %v", name, err)
		}
	}
}

func TestUsageAndFormatBytes(t *testing.T) {
	dir := t.TempDir()
	writeSave(t, dir, "a.zip", 1024, time.Now())
	writeSave(t, dir, "b.zip", 1024, time.Now())

	count, total, err := NewStore(dir).Usage()
	if err != nil || count != 2 || total != 2048 {
		t.Fatalf("usage = %d, %d, %v", count, total, err)
	}
	if got := FormatBytes(total); got != "2.00 KB" {
		t.Fatalf("FormatBytes = %q", got)
	}
	if got := FormatBytes(12); got != "12 B" {
		t.Fatalf("FormatBytes = %q", got)
	}
}
