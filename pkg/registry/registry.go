// Package registry reads the local mooncakes index that `moon update`
// maintains under $MOON_HOME/registry/index/user.
package registry

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrUnknownPackage is returned for names missing from the index
var ErrUnknownPackage = errors.New("unknown package")

// FixtureKeyword marks index records published only for registry tests
const FixtureKeyword = "test-fixture"

// FixturePublisher is the account whose packages are all test fixtures
const FixturePublisher = "moonbit-test-fixtures"

// Record is one line of an index file
type Record struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Keywords  []string `json:"keywords,omitempty"`
	Checksum  string   `json:"checksum,omitempty"`
	CreatedAt string   `json:"created_at,omitempty"`
}

// IsFixture reports whether the record is a test fixture
func (r Record) IsFixture() bool {
	for _, k := range r.Keywords {
		if k == FixtureKeyword {
			return true
		}
	}
	return strings.HasPrefix(r.Name, FixturePublisher+"/")
}

// Index maps "{publisher}/{package}" to its published records, in file order
type Index struct {
	packages map[string][]Record
}

// Load walks dir and reads every "<publisher>/<package>.index" file
func Load(dir string) (*Index, error) {
	idx := &Index{packages: make(map[string][]Record)}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".index" {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(strings.TrimSuffix(rel, ".index"))
		records, err := readIndexFile(path)
		if err != nil {
			return err
		}
		for _, r := range records {
			if r.Name == "" {
				r.Name = key
			}
			if r.IsFixture() {
				continue
			}
			idx.packages[r.Name] = append(idx.packages[r.Name], r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load registry index %s: %w", dir, err)
	}

	return idx, nil
}

func readIndexFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return records, nil
}

// Names returns every package name, sorted
func (idx *Index) Names() []string {
	names := make([]string, 0, len(idx.packages))
	for name := range idx.packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Versions returns the published versions of name in ascending order
func (idx *Index) Versions(name string) ([]string, error) {
	records, ok := idx.packages[name]
	if !ok || len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPackage, name)
	}
	versions := make([]string, len(records))
	for i, r := range records {
		versions[i] = r.Version
	}
	sortVersions(versions)
	return versions, nil
}

// LatestVersion returns the highest published version of name
func (idx *Index) LatestVersion(name string) (string, error) {
	versions, err := idx.Versions(name)
	if err != nil {
		return "", err
	}
	return versions[len(versions)-1], nil
}

// sortVersions orders semver versions by precedence, with anything that does
// not parse placed before them in lexical order.
func sortVersions(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, ei := semver.NewVersion(versions[i])
		vj, ej := semver.NewVersion(versions[j])
		switch {
		case ei != nil && ej != nil:
			return versions[i] < versions[j]
		case ei != nil:
			return true
		case ej != nil:
			return false
		}
		return vi.LessThan(vj)
	})
}
