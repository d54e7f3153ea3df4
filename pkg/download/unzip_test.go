package download

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
)

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create archive: %v", err)
	}
	defer out.Close()

	w := zip.NewWriter(out)
	for name, content := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatalf("Failed to add %s: %v", name, err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close archive: %v", err)
	}
}

func TestUnzip(t *testing.T) {
	tmpDir := t.TempDir()
	archive := filepath.Join(tmpDir, "0.1.0.zip")
	writeZip(t, archive, map[string]string{
		"moon.mod.json":         `{"name":"moonbitlang/x"}`,
		"src/lib/lib.mbt":       "pub fn f() -> Int { 1 }",
		"src/lib/moon.pkg.json": "{}",
	})

	dst := filepath.Join(tmpDir, "0.1.0")
	if err := Unzip(archive, dst); err != nil {
		t.Fatalf("Unzip failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dst, "src", "lib", "lib.mbt"))
	if err != nil {
		t.Fatalf("extracted file missing: %v", err)
	}
	if string(content) != "pub fn f() -> Int { 1 }" {
		t.Errorf("content = %q", content)
	}
	if _, err := os.Stat(filepath.Join(dst, "moon.mod.json")); err != nil {
		t.Errorf("moon.mod.json missing: %v", err)
	}
}

func TestUnzip_RejectsEscapingEntries(t *testing.T) {
	tmpDir := t.TempDir()
	archive := filepath.Join(tmpDir, "evil.zip")
	writeZip(t, archive, map[string]string{"../evil.txt": "x"})

	if err := Unzip(archive, filepath.Join(tmpDir, "out")); err == nil {
		t.Error("Expected error for entry outside destination")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "evil.txt")); err == nil {
		t.Error("escaping entry was written")
	}
}

func TestUnzip_NotAnArchive(t *testing.T) {
	tmpDir := t.TempDir()
	bogus := filepath.Join(tmpDir, "bogus.zip")
	if err := os.WriteFile(bogus, []byte("<Error>NoSuchKey</Error>"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Unzip(bogus, filepath.Join(tmpDir, "out")); err == nil {
		t.Error("Expected error for non-zip file")
	}
}
