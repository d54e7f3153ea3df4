package checksum

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// FileChecksum represents a file's checksum and metadata
type FileChecksum struct {
	Path      string `json:"path"`
	CRC32     uint32 `json:"crc32"`
	SizeBytes int64  `json:"size_bytes"`
}

// Hex returns the checksum as 8 lowercase hex digits
func (cs *FileChecksum) Hex() string {
	return fmt.Sprintf("%08x", cs.CRC32)
}

// ComputeFile computes the CRC32 checksum for a single file
func ComputeFile(path string) (*FileChecksum, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	hash := crc32.NewIEEE()
	if _, err := io.Copy(hash, file); err != nil {
		return nil, fmt.Errorf("failed to compute checksum: %w", err)
	}

	return &FileChecksum{
		Path:      path,
		CRC32:     hash.Sum32(),
		SizeBytes: info.Size(),
	}, nil
}

// ComputeDirectory recursively computes checksums for all files in a directory.
// It skips .git and the toolchain's target/ build output.
func ComputeDirectory(dir string) ([]*FileChecksum, error) {
	var checksums []*FileChecksum

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if path != dir && (info.Name() == ".git" || info.Name() == "target") {
				return filepath.SkipDir
			}
			return nil
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		cs, err := ComputeFile(path)
		if err != nil {
			return fmt.Errorf("failed to compute checksum for %s: %w", path, err)
		}

		relPath, err := filepath.Rel(dir, path)
		if err != nil {
			relPath = path
		}
		cs.Path = filepath.ToSlash(relPath)

		checksums = append(checksums, cs)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	// Sort by path for consistent ordering
	sort.Slice(checksums, func(i, j int) bool {
		return checksums[i].Path < checksums[j].Path
	})

	return checksums, nil
}

// TreeDigest folds a sorted checksum list into a single CRC32 fingerprint.
// Two checkouts with the same files and contents get the same digest.
func TreeDigest(checksums []*FileChecksum) *FileChecksum {
	hash := crc32.NewIEEE()
	var total int64
	for _, cs := range checksums {
		fmt.Fprintf(hash, "%s\x00%08x\x00%d\n", cs.Path, cs.CRC32, cs.SizeBytes)
		total += cs.SizeBytes
	}
	return &FileChecksum{Path: ".", CRC32: hash.Sum32(), SizeBytes: total}
}

// ComputeTree is ComputeDirectory followed by TreeDigest
func ComputeTree(dir string) (*FileChecksum, error) {
	checksums, err := ComputeDirectory(dir)
	if err != nil {
		return nil, err
	}
	return TreeDigest(checksums), nil
}

// FormatSize formats bytes in human-readable format
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
