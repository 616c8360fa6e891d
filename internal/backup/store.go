package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store is one persistence target for serialized snapshots. Object
// names embed the creation timestamp so rotation can order them
// lexically.
type Store interface {
	Save(ctx context.Context, name string, data []byte) error
	// List returns snapshot names in lexical (and therefore
	// chronological) order.
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
}

const (
	objectPrefix = "backup-"
	objectSuffix = ".json"
)

// objectName builds a zero-padded-unixnano name so lexical order
// matches creation order.
func objectName(ts time.Time) string {
	return fmt.Sprintf("%s%020d%s", objectPrefix, ts.UnixNano(), objectSuffix)
}

func isObjectName(name string) bool {
	return strings.HasPrefix(name, objectPrefix) && strings.HasSuffix(name, objectSuffix)
}

// LocalStore keeps snapshots as files in one directory. Writes go
// through a temp file and rename, so a cancelled or crashed backup
// never leaves a partial snapshot behind.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, name+".tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

func (s *LocalStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isObjectName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	// ReadDir already sorts by filename.
	return names, nil
}

func (s *LocalStore) Delete(_ context.Context, name string) error {
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Read returns a stored snapshot, for verification tooling.
func (s *LocalStore) Read(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.dir, name))
}
