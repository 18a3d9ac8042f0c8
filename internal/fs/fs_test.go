package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMemMapFs(t *testing.T) {
	SetFS(NewMemMapFs())
	defer ResetFS()

	err := WriteFile("/test/file.txt", []byte("hello world"), 0644)
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	content, err := ReadFile("/test/file.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(content) != "hello world" {
		t.Errorf("expected 'hello world', got '%s'", string(content))
	}

	exists, err := Exists("/test/file.txt")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("file should exist")
	}

	exists, err = Exists("/nonexistent.txt")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("file should not exist")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	SetFS(NewMemMapFs())
	defer ResetFS()

	if err := MkdirAll("/data", 0755); err != nil {
		t.Fatal(err)
	}

	if err := WriteFileAtomic("/data/manifest.json", []byte(`{"v":1}`), 0644); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}

	content, err := ReadFile("/data/manifest.json")
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != `{"v":1}` {
		t.Errorf("unexpected content: %s", content)
	}

	// No temporary sibling left behind
	exists, _ := Exists("/data/manifest.json.tmp")
	if exists {
		t.Error("temp file should have been renamed away")
	}

	// Overwrite replaces the old content
	if err := WriteFileAtomic("/data/manifest.json", []byte(`{"v":2}`), 0644); err != nil {
		t.Fatal(err)
	}
	content, _ = ReadFile("/data/manifest.json")
	if string(content) != `{"v":2}` {
		t.Errorf("overwrite failed, got %s", content)
	}
}

func TestCopyFile(t *testing.T) {
	SetFS(NewMemMapFs())
	defer ResetFS()

	if err := WriteFile("/src.txt", []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := CopyFile("/src.txt", "/dst.txt"); err != nil {
		t.Fatalf("CopyFile failed: %v", err)
	}

	content, err := ReadFile("/dst.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "payload" {
		t.Errorf("expected 'payload', got %s", content)
	}
}

func TestCopyTree(t *testing.T) {
	SetFS(NewMemMapFs())
	defer ResetFS()

	files := map[string]string{
		"/snap/PG_VERSION":   "16",
		"/snap/base/1/2654":  "table data",
		"/snap/global/a.dat": "global data",
	}
	for path, content := range files {
		if err := MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	if err := CopyTree("/snap", "/target"); err != nil {
		t.Fatalf("CopyTree failed: %v", err)
	}

	for path, want := range files {
		rel, _ := filepath.Rel("/snap", path)
		got, err := ReadFile(filepath.Join("/target", rel))
		if err != nil {
			t.Fatalf("missing copied file %s: %v", rel, err)
		}
		if string(got) != want {
			t.Errorf("file %s = %q, want %q", rel, got, want)
		}
	}
}

func TestTreeSize(t *testing.T) {
	SetFS(NewMemMapFs())
	defer ResetFS()

	if err := MkdirAll("/snap/base", 0755); err != nil {
		t.Fatal(err)
	}
	if err := WriteFile("/snap/a", make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}
	if err := WriteFile("/snap/base/b", make([]byte, 50), 0644); err != nil {
		t.Fatal(err)
	}

	size, err := TreeSize("/snap")
	if err != nil {
		t.Fatal(err)
	}
	if size != 150 {
		t.Errorf("TreeSize = %d, want 150", size)
	}
}

func TestCheckWriteAccess(t *testing.T) {
	dir := t.TempDir()
	if err := CheckWriteAccess(dir); err != nil {
		t.Errorf("CheckWriteAccess on temp dir failed: %v", err)
	}

	if err := os.Chmod(dir, 0500); err != nil {
		t.Skip("cannot chmod temp dir")
	}
	defer func() { _ = os.Chmod(dir, 0700) }()

	if os.Geteuid() != 0 {
		if err := CheckWriteAccess(dir); err == nil {
			t.Error("CheckWriteAccess should fail on read-only dir")
		}
	}
}
