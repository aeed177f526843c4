package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DecisionStore persists decision logs. Entries are append-only.
type DecisionStore interface {
	Append(ctx context.Context, d *DecisionLog) error
	// List returns every entry ordered by LoggedAt.
	List(ctx context.Context) ([]*DecisionLog, error)
	Close() error
}

// FileStore writes one JSON file per decision into a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("decision log directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create decision log dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory the store writes to.
func (s *FileStore) Dir() string { return s.dir }

func decisionKey(d *DecisionLog) string {
	return fmt.Sprintf("%020d_%s", d.LoggedAt.UnixNano(), d.ID)
}

func (s *FileStore) Append(ctx context.Context, d *DecisionLog) error {
	if d == nil {
		return ErrNilInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	path := filepath.Join(s.dir, decisionKey(d)+".json")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrDuplicateEntry, d.ID)
		}
		return fmt.Errorf("write decision: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return fmt.Errorf("write decision: %w", err)
	}
	return f.Close()
}

func (s *FileStore) List(ctx context.Context) ([]*DecisionLog, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read decision log dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	out := make([]*DecisionLog, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read decision %s: %w", name, err)
		}
		var d DecisionLog
		if err := json.Unmarshal(b, &d); err != nil {
			return nil, fmt.Errorf("parse decision %s: %w", name, err)
		}
		out = append(out, &d)
	}
	return out, nil
}

func (s *FileStore) Close() error { return nil }
