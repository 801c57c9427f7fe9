package vectorindex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrSnapshotNotFound is returned by a SnapshotStore for a missing snapshot.
var ErrSnapshotNotFound = errors.New("vectorindex: snapshot not found")

// SnapshotStore keeps persisted index snapshots by name.
type SnapshotStore interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
}

// Save persists x with codec and stores it under name.
func Save(ctx context.Context, store SnapshotStore, name string, x *Index, codec Codec) error {
	var buf bytes.Buffer
	if err := x.Persist(&buf, codec); err != nil {
		return err
	}
	if err := store.Put(ctx, name, buf.Bytes()); err != nil {
		return fmt.Errorf("vectorindex: save %s: %w", name, err)
	}
	return nil
}

// Restore loads the snapshot stored under name into x.
func Restore(ctx context.Context, store SnapshotStore, name string, x *Index) error {
	data, err := store.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("vectorindex: restore %s: %w", name, err)
	}
	return x.Load(bytes.NewReader(data))
}

// FileStore stores snapshots as files under a root directory.
type FileStore struct {
	root string
}

// NewFileStore creates a FileStore rooted at root.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

// Put writes the snapshot through a temporary file and renames it into place.
func (s *FileStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.root, "."+name+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(s.root, name))
}

func (s *FileStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSnapshotNotFound
	}
	return data, err
}
