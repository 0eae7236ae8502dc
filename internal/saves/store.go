// Package saves exposes the save directory: a flat folder of .zip world
// files addressed by name without the extension.
package saves

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Ext is the suffix every save file carries on disk.
const Ext = ".zip"

// ErrNotFound is the errors.Is target for NotFoundError.
var ErrNotFound = errors.New("save not found")

// ErrInvalidName rejects names that could escape the save directory.
var ErrInvalidName = errors.New("invalid save name")

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _.\-]{0,127}$`)

// NotFoundError reports a referenced save that does not exist.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("save %q not found", e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Record is the metadata of one save file.
type Record struct {
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Store reads and writes save files in one directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created lazily on
// the first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the save directory.
func (s *Store) Dir() string {
	return s.dir
}

// NormalizeName strips a trailing .zip and validates the result.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSuffix(strings.TrimSpace(name), Ext)
	if !validName.MatchString(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}

// Path returns the on-disk path for a save name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, strings.TrimSuffix(name, Ext)+Ext)
}

// List returns every save, newest-modified first. A missing directory is
// an empty list.
func (s *Store) List() ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("failed to read save directory: %w", err)
	}

	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		records = append(records, Record{
			Name:       strings.TrimSuffix(entry.Name(), Ext),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].ModifiedAt.Equal(records[j].ModifiedAt) {
			return records[i].Name < records[j].Name
		}
		return records[i].ModifiedAt.After(records[j].ModifiedAt)
	})
	return records, nil
}

// Get returns the record for name or a *NotFoundError.
func (s *Store) Get(name string) (Record, error) {
	norm, err := NormalizeName(name)
	if err != nil {
		return Record{}, &NotFoundError{Name: name}
	}

	info, err := os.Stat(s.Path(norm))
	if err != nil || info.IsDir() {
		return Record{}, &NotFoundError{Name: norm}
	}
	return Record{Name: norm, SizeBytes: info.Size(), ModifiedAt: info.ModTime()}, nil
}

// Put writes r under name, replacing any existing save atomically.
func (s *Store) Put(name string, r io.Reader) (Record, error) {
	norm, err := NormalizeName(name)
	if err != nil {
		return Record{}, err
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return Record{}, fmt.Errorf("failed to create save directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return Record{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return Record{}, fmt.Errorf("failed to write save: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Record{}, fmt.Errorf("failed to write save: %w", err)
	}

	dest := s.Path(norm)
	if err := os.Rename(tmpName, dest); err != nil {
		return Record{}, fmt.Errorf("failed to store save: %w", err)
	}

	log.Info().
		Str("save", norm).
		Str("size", FormatBytes(written)).
		Msg("save stored")

	return s.Get(norm)
}

// Usage returns the number of saves and their combined size.
func (s *Store) Usage() (int, int64, error) {
	records, err := s.List()
	if err != nil {
		return 0, 0, err
	}
	var total int64
	for _, r := range records {
		total += r.SizeBytes
	}
	return len(records), total, nil
}

// FormatBytes formats bytes into human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
