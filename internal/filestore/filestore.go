// Package filestore serves segments of published files from a local root.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MaxSegment caps one segment so it fits field 48.
const MaxSegment = 999

var (
	ErrNotFound       = errors.New("filestore: file not found")
	ErrOffsetRange    = errors.New("filestore: offset out of range")
	ErrSegmentMissing = errors.New("filestore: segment missing")
)

type Store struct {
	root string
}

func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + strings.ReplaceAll(path, "\\", "/"))
	if clean == "/" {
		return "", ErrNotFound
	}
	return filepath.Join(s.root, clean), nil
}

// Size returns the size of path in bytes.
func (s *Store) Size(path string) (int64, error) {
	full, err := s.resolve(path)
	if err != nil {
		return 0, err
	}
	fi, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("filestore -> stat %s: %w", path, err)
	}
	if fi.IsDir() {
		return 0, ErrNotFound
	}
	return fi.Size(), nil
}

// ReadSegment reads up to length bytes of path starting at offset. A short
// segment is returned at the end of the file.
func (s *Store) ReadSegment(path string, offset int64, length int) ([]byte, error) {
	if length <= 0 || length > MaxSegment {
		length = MaxSegment
	}
	size, err := s.Size(path)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset >= size {
		return nil, ErrOffsetRange
	}

	full, _ := s.resolve(path)
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrSegmentMissing
		}
		return nil, fmt.Errorf("filestore -> open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("filestore -> read %s@%d: %w", path, offset, err)
	}
	if n == 0 {
		return nil, ErrSegmentMissing
	}
	return buf[:n], nil
}
