package persistence

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"receipt-reconciliation-service/pkg/errors"
)

// FileAdapter stores snapshots as an indented JSON document at a path.
type FileAdapter struct {
	path string
}

// NewFileAdapter returns an adapter for the JSON file at path.
func NewFileAdapter(path string) *FileAdapter {
	return &FileAdapter{path: path}
}

func (a *FileAdapter) String() string { return a.path }

// Close is a no-op; every read and write opens and releases its own handle.
func (a *FileAdapter) Close() error { return nil }

// Read decodes the snapshot file. A missing file yields ErrNoSnapshot.
func (a *FileAdapter) Read(ctx context.Context) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(a.path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoSnapshot
		}
		if stderrors.Is(err, fs.ErrPermission) {
			return nil, errors.FileError(errors.CodeFilePermission, a.path, err)
		}
		return nil, errors.FileError(errors.CodeFileNotFound, a.path, err)
	}
	defer f.Close()

	var doc Document
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return nil, errors.SerializationError(errors.CodeCorruptSnapshot, a.path, err)
	}
	return &doc, nil
}

// Write replaces the snapshot file. The document is written to a temporary
// file in the same directory and renamed into place.
func (a *FileAdapter) Write(ctx context.Context, doc *Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.SerializationError(errors.CodeEncodeFailed, a.path, err)
	}

	dir := filepath.Dir(a.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return errors.FileError(errors.CodeFileWrite, a.path, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(a.path)+".*.tmp")
	if err != nil {
		return errors.FileError(errors.CodeFileWrite, a.path, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		return sinkError(a, err)
	}
	if err := tmp.Sync(); err != nil {
		return sinkError(a, err)
	}
	if err := tmp.Close(); err != nil {
		return sinkError(a, err)
	}
	if err := os.Rename(tmpName, a.path); err != nil {
		return sinkError(a, fmt.Errorf("rename %s: %w", tmpName, err))
	}
	committed = true
	return nil
}
