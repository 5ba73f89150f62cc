package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dvloznov/audible-pipeline/internal/domain"
)

// LocalStore keeps artifacts as CSV files in a directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates the directory if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("NewLocalStore: creating %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

// Location implements Store.
func (s *LocalStore) Location(name string) string {
	return filepath.Join(s.dir, name)
}

// Write encodes t into a temp file next to the target, fsyncs it and renames
// it over the target. The temp file is removed on any failure.
func (s *LocalStore) Write(ctx context.Context, name string, t domain.Table) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := s.Location(name)
	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("LocalStore.Write: creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = EncodeCSV(tmp, t); err != nil {
		return fmt.Errorf("LocalStore.Write: %s: %w", name, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("LocalStore.Write: syncing %s: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("LocalStore.Write: closing %s: %w", name, err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("LocalStore.Write: chmod %s: %w", name, err)
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("LocalStore.Write: replacing %s: %w", target, err)
	}
	return nil
}

// Read implements Store. A missing artifact wraps fs.ErrNotExist.
func (s *LocalStore) Read(ctx context.Context, name string) (domain.Table, error) {
	if err := ctx.Err(); err != nil {
		return domain.Table{}, err
	}

	f, err := os.Open(s.Location(name))
	if err != nil {
		return domain.Table{}, fmt.Errorf("LocalStore.Read: %w", err)
	}
	defer f.Close()

	t, err := DecodeCSV(f)
	if err != nil {
		return domain.Table{}, fmt.Errorf("LocalStore.Read: %s: %w", name, err)
	}
	return t, nil
}

// Close implements Store.
func (s *LocalStore) Close() error {
	return nil
}

var _ Store = (*LocalStore)(nil)
