package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileJournal keeps all entries in memory and rewrites the backing file on
// every append. Writes go through a temp file and rename so a crash mid-write
// never corrupts the store.
type FileJournal struct {
	mu      sync.Mutex
	path    string
	entries []Entry
}

// OpenFile loads the journal at path, creating an empty one if the file does
// not exist yet.
func OpenFile(path string) (*FileJournal, error) {
	if path == "" {
		return nil, errors.New("journal path is required")
	}
	j := &FileJournal{path: path}
	if err := j.load(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *FileJournal) load() error {
	file, err := os.Open(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open journal file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&j.entries); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode journal file: %w", err)
	}
	return nil
}

// Append upserts the entry keyed by SessionID and persists the full journal.
func (j *FileJournal) Append(ctx context.Context, entry Entry) error {
	if entry.SessionID == "" {
		return errors.New("journal entry requires a session id")
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	replaced := false
	for i := range j.entries {
		if j.entries[i].SessionID == entry.SessionID {
			j.entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		j.entries = append(j.entries, entry)
	}
	return j.persist()
}

// Recent returns up to limit entries, most recently started first.
func (j *FileJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	sort.Slice(out, func(a, b int) bool {
		return out[a].StartedAt.After(out[b].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op for the file backend; every append is already durable.
func (j *FileJournal) Close(ctx context.Context) error { return nil }

func (j *FileJournal) persist() error {
	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "journal-*.json")
	if err != nil {
		return fmt.Errorf("create temp journal file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(j.entries); err != nil {
		return fmt.Errorf("encode journal file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush journal file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp journal file: %w", err)
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		return fmt.Errorf("replace journal file: %w", err)
	}
	success = true
	return nil
}
