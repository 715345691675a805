package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yaml "go.yaml.in/yaml/v3"
)

// DefaultPath is the state file used when none is configured.
const DefaultPath = ".state"

// File is a Store backed by a single YAML document mapping feed names to
// lists of delivered identifiers.
type File struct {
	path string
}

// NewFile returns a File store at path.
func NewFile(path string) *File {
	if path == "" {
		path = DefaultPath
	}
	return &File{path: path}
}

// Path returns the location of the state document.
func (f *File) Path() string { return f.path }

// Load reads the state document. A missing or empty file is an empty state.
func (f *File) Load(_ context.Context) (Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}

	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrStateCorrupt, f.path, err)
	}

	snap := make(Snapshot, len(raw))
	for feed, ids := range raw {
		snap[feed] = ids
	}
	return snap, nil
}

// Save writes the document to a temporary file in the same directory,
// renames it over the previous one and syncs the directory.
func (f *File) Save(_ context.Context, snap Snapshot) error {
	data, err := yaml.Marshal(map[string][]string(snap))
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("sync state directory: %w", err)
	}
	return nil
}

var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return err
	}
	return d.Close()
}

// Close is a no-op; File holds no open handles between calls.
func (f *File) Close() error { return nil }
