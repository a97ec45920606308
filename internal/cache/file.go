package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileExt is the extension of serialised tables.
const FileExt = ".bcrfile"

// FileStore keeps each slot as two files in a directory: the compressed
// table and a YAML sidecar with the request parameters.
type FileStore struct {
	dir   string
	codec *Codec
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, codec: codec}, nil
}

// TablePath returns the table file of slot.
func (s *FileStore) TablePath(slot Slot) string {
	return filepath.Join(s.dir, "cache-"+string(slot)+FileExt)
}

// ParamsPath returns the parameter sidecar of slot.
func (s *FileStore) ParamsPath(slot Slot) string {
	return filepath.Join(s.dir, "cache-"+string(slot)+".params.yaml")
}

// Read loads a slot. A slot is present only when both files exist.
func (s *FileStore) Read(_ context.Context, slot Slot) (*Entry, error) {
	data, err := os.ReadFile(s.TablePath(slot))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read cached table: %w", err)
	}
	meta, err := os.ReadFile(s.ParamsPath(slot))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read cache params: %w", err)
	}

	e := &Entry{}
	if e.Table, err = s.codec.DecodeTable(data); err != nil {
		return nil, err
	}
	if err := s.codec.DecodeMeta(meta, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Write replaces the slot. Each file is written to a temporary name and
// renamed into place.
func (s *FileStore) Write(_ context.Context, slot Slot, e *Entry) error {
	data, err := s.codec.EncodeTable(e.Table)
	if err != nil {
		return err
	}
	meta, err := s.codec.EncodeMeta(e)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.TablePath(slot), data); err != nil {
		return fmt.Errorf("write cached table: %w", err)
	}
	if err := writeFileAtomic(s.ParamsPath(slot), meta); err != nil {
		return fmt.Errorf("write cache params: %w", err)
	}
	return nil
}

// Delete removes both files; a missing slot is not an error.
func (s *FileStore) Delete(_ context.Context, slot Slot) error {
	for _, p := range []string{s.TablePath(slot), s.ParamsPath(slot)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

// Close releases the codec.
func (s *FileStore) Close() error {
	s.codec.Close()
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
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
	return os.Rename(tmp.Name(), path)
}
