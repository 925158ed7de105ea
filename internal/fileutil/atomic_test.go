package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")

	if err := WriteAtomic(path, []byte(`{"a":1}`), 0o640); err != nil {
		t.Fatalf("WriteAtomic returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Fatalf("unexpected content: %s", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}

	if err := WriteAtomic(path, []byte("second"), 0o640); err != nil {
		t.Fatalf("overwrite returned error: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "second" {
		t.Fatalf("overwrite not applied: %s", data)
	}
}

func TestWriteAtomicEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	if err := WriteAtomic(path, nil, 0o600); err != nil {
		t.Fatalf("WriteAtomic returned error: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected empty file, got %d bytes", info.Size())
	}
}
