package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

var (
	// ErrInput means the source list file could not be read
	ErrInput = errors.New("cannot read source list")
	// ErrVersionResolution means a "latest" selector could not be resolved
	ErrVersionResolution = errors.New("cannot resolve latest version")
)

// LatestVersioner looks up the newest published version of a mooncake
type LatestVersioner interface {
	LatestVersion(name string) (string, error)
}

// Resolve builds the source list from an optional --repo-url and an optional
// source list file. The position in the returned list is each source's index.
func Resolve(repoURL, file string, index LatestVersioner) (List, error) {
	var list List
	if repoURL != "" {
		list = append(list, &GitSource{URL: repoURL, Position: 0})
	}

	if file == "" {
		return list, nil
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrInput, file, err)
	}
	defer f.Close()

	return parse(f, list, index)
}

// ParseLines parses a source list. A nil index leaves "latest" unresolved.
func ParseLines(r io.Reader, index LatestVersioner) (List, error) {
	return parse(r, nil, index)
}

func parse(r io.Reader, list List, index LatestVersioner) (List, error) {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if strings.HasPrefix(line, "https://") {
			revs := fields[1:]
			if len(revs) == 0 {
				revs = []string{HeadRevision}
			}
			list = append(list, &GitSource{
				URL:       fields[0],
				Revisions: append([]string(nil), revs...),
				Position:  len(list),
			})
			continue
		}

		name := fields[0]
		versions, err := resolveVersions(name, fields[1:], index)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		list = append(list, &RegistrySource{
			Name:     name,
			Versions: versions,
			Position: len(list),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInput, err)
	}
	return list, nil
}

func resolveVersions(name string, selectors []string, index LatestVersioner) ([]string, error) {
	if len(selectors) == 0 {
		selectors = []string{LatestVersion}
	}
	if index == nil {
		return append([]string(nil), selectors...), nil
	}

	versions := make([]string, 0, len(selectors))
	for _, sel := range selectors {
		if sel != LatestVersion {
			versions = append(versions, sel)
			continue
		}
		v, err := index.LatestVersion(name)
		if err != nil {
			return nil, fmt.Errorf("%w for %s: %v", ErrVersionResolution, name, err)
		}
		versions = append(versions, v)
	}

	sort.Strings(versions)
	return dedupSorted(versions), nil
}

func dedupSorted(xs []string) []string {
	if len(xs) == 0 {
		return xs
	}
	out := xs[:1]
	for _, x := range xs[1:] {
		if x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}
