package cas

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSum(t *testing.T) {
	data := []byte("hello world")
	hash1 := Sum(data)
	hash2 := Sum(data)

	if hash1 != hash2 {
		t.Error("Same data should produce same hash")
	}

	hash3 := Sum([]byte("hello world!"))
	if hash1 == hash3 {
		t.Error("Different data should produce different hashes")
	}
}

func TestParseHash(t *testing.T) {
	h := Sum([]byte("parse me"))

	fromHex, err := ParseHash(h.String())
	if err != nil {
		t.Fatalf("ParseHash(hex) failed: %v", err)
	}
	if fromHex != h {
		t.Errorf("hex round trip: got %s, want %s", fromHex, h)
	}

	cid, err := h.CID()
	if err != nil {
		t.Fatalf("CID failed: %v", err)
	}
	fromCID, err := ParseHash(cid)
	if err != nil {
		t.Fatalf("ParseHash(cid) failed: %v", err)
	}
	if fromCID != h {
		t.Errorf("cid round trip: got %s, want %s", fromCID, h)
	}

	if _, err := ParseHash("not-a-hash"); err == nil {
		t.Error("ParseHash should reject garbage")
	}
}

func TestMemoryCAS(t *testing.T) {
	cas := NewMemoryCAS()
	data := []byte("test data")
	hash := Sum(data)

	has, err := cas.Has(hash)
	if err != nil {
		t.Fatalf("Has failed: %v", err)
	}
	if has {
		t.Error("Empty CAS should not have any data")
	}

	_, err = cas.Get(hash)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("Get on missing hash should return NotFoundError, got %v", err)
	}

	if err := cas.Put(hash, data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	retrieved, err := cas.Get(hash)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(data, retrieved) {
		t.Error("Retrieved data should match original")
	}

	wrongHash := Sum([]byte("different data"))
	err = cas.Put(wrongHash, data)
	var mm *MismatchError
	if !errors.As(err, &mm) {
		t.Errorf("Put with wrong hash should return MismatchError, got %v", err)
	}
	if cas.Len() != 1 {
		t.Errorf("Len = %d, want 1", cas.Len())
	}
}

func TestFileCAS(t *testing.T) {
	dir := t.TempDir()
	fc, err := NewFileCAS(dir)
	if err != nil {
		t.Fatalf("NewFileCAS failed: %v", err)
	}

	data := bytes.Repeat([]byte("compressible "), 200)
	hash := Sum(data)

	if err := fc.Put(hash, data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	// Idempotent write.
	if err := fc.Put(hash, data); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	has, err := fc.Has(hash)
	if err != nil || !has {
		t.Fatalf("Has = %v, %v; want true, nil", has, err)
	}

	got, err := fc.Get(hash)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("Retrieved data should match original")
	}

	info, err := os.Stat(fc.getPath(hash))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() >= int64(len(data)) {
		t.Errorf("stored size %d should be smaller than raw size %d", info.Size(), len(data))
	}
}

func TestFileCASDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	fc, err := NewFileCAS(dir)
	if err != nil {
		t.Fatalf("NewFileCAS failed: %v", err)
	}

	data := []byte("original content")
	hash := Sum(data)
	if err := fc.Put(hash, data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Overwrite the object with a valid zstd stream of other bytes.
	other, err := compress([]byte("tampered content"))
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := os.WriteFile(filepath.Join(fc.getPath(hash)), other, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err = fc.Get(hash)
	var mm *MismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("Get should detect corruption, got %v", err)
	}
	if mm.Expected != hash {
		t.Errorf("Expected = %s, want %s", mm.Expected, hash)
	}
}

func TestMemoryCASConcurrency(t *testing.T) {
	cas := NewMemoryCAS()
	data := []byte("concurrent test data")
	hash := Sum(data)

	done := make(chan bool, 10)

	for i := 0; i < 5; i++ {
		go func() {
			defer func() { done <- true }()
			if err := cas.Put(hash, data); err != nil {
				t.Errorf("Concurrent Put failed: %v", err)
			}
		}()
	}

	for i := 0; i < 5; i++ {
		go func() {
			defer func() { done <- true }()
			_, _ = cas.Has(hash)
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	if got, err := cas.Get(hash); err != nil || !bytes.Equal(got, data) {
		t.Errorf("Get after concurrent puts = %q, %v", got, err)
	}
}

func BenchmarkSum(b *testing.B) {
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i % 256)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Sum(data)
	}
}
