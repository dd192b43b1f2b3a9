// Package checkpoint is the file-backed record of completed work: a JSON
// map of completed (entity, chunk) keys that survives restarts and makes
// resumed runs skip chunks already fetched and persisted.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"voltio/internal/chunk"
	"voltio/internal/store"
)

const keyLayout = "2006-01-02T15:04:05Z07:00"

type FileStore struct {
	path string

	mu   sync.Mutex
	done map[string]string // key -> completion time, RFC3339
}

// NewFileStore loads (or starts) the checkpoint file at path. The file is
// rewritten via temp-file rename on every MarkDone so an interrupted
// process never leaves a corrupt checkpoint behind.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("checkpoint: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	fs := &FileStore{path: path, done: make(map[string]string)}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fs, nil
		}
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fs.done); err != nil {
			return nil, fmt.Errorf("checkpoint: corrupt file %s: %w", path, err)
		}
	}
	return fs, nil
}

func (fs *FileStore) IsDone(ctx context.Context, entityID string, r chunk.Range) (bool, error) {
	_ = ctx
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.done[key(entityID, r)]
	return ok, nil
}

// MarkDone records completion; repeating a key is a no-op with no extra
// write.
func (fs *FileStore) MarkDone(ctx context.Context, entityID string, r chunk.Range) error {
	_ = ctx
	fs.mu.Lock()
	defer fs.mu.Unlock()

	k := key(entityID, r)
	if _, ok := fs.done[k]; ok {
		return nil
	}
	fs.done[k] = time.Now().UTC().Format(keyLayout)
	return fs.flushLocked()
}

func (fs *FileStore) AllDone(ctx context.Context, entityID string, ranges []chunk.Range) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, r := range ranges {
		if _, ok := fs.done[key(entityID, r)]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// Reset drops every checkpoint. Only ever called on explicit user request.
func (fs *FileStore) Reset(ctx context.Context) error {
	_ = ctx
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.done = make(map[string]string)
	return fs.flushLocked()
}

func (fs *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(fs.done, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(fs.path), filepath.Base(fs.path)+".tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), fs.path)
}

func key(entityID string, r chunk.Range) string {
	return fmt.Sprintf("%s|%s|%s", entityID, r.Start.UTC().Format(keyLayout), r.End.UTC().Format(keyLayout))
}

var _ store.Checkpoints = (*FileStore)(nil)
