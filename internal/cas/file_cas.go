package cas

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// FileCAS implements CAS using file system storage. Objects are written
// zstd-compressed; the digest is always computed over the uncompressed bytes.
type FileCAS struct {
	root string
}

// NewFileCAS creates a new file-based CAS in the given directory.
func NewFileCAS(root string) (*FileCAS, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create CAS directory: %w", err)
	}

	return &FileCAS{root: root}, nil
}

// getPath returns the file path for a given hash.
// Uses a two-level directory structure to avoid too many files in one directory.
func (f *FileCAS) getPath(hash Hash) string {
	hexStr := hex.EncodeToString(hash[:])
	// e.g., ab/cdef1234...
	return filepath.Join(f.root, hexStr[:2], hexStr[2:])
}

// Put implements CAS.Put.
func (f *FileCAS) Put(hash Hash, data []byte) error {
	computed := Sum(data)
	if computed != hash {
		return &MismatchError{Expected: hash, Computed: computed}
	}

	path := f.getPath(hash)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Content-addressed, so an existing file never needs rewriting.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	compressed, err := compress(data)
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	_, err = tmpFile.Write(compressed)
	closeErr := tmpFile.Close()

	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write data: %w", err)
	}

	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// Get implements CAS.Get.
func (f *FileCAS) Get(hash Hash) ([]byte, error) {
	path := f.getPath(hash)

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Hash: hash}
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	dec, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	computed := Sum(data)
	if computed != hash {
		return nil, &MismatchError{Expected: hash, Computed: computed}
	}

	return data, nil
}

// Has implements CAS.Has.
func (f *FileCAS) Has(hash Hash) (bool, error) {
	path := f.getPath(hash)

	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file: %w", err)
	}

	return true, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd write: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("zstd close: %w", err)
	}
	return buf.Bytes(), nil
}
