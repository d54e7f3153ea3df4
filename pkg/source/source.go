// Package source describes the units of work a dashboard run builds and
// resolves them from command line flags and source list files.
package source

import (
	"encoding/json"
	"fmt"
)

// HeadRevision is the sentinel for the default branch tip of a fresh clone
const HeadRevision = "HEAD"

// LatestVersion is the selector resolved through the registry index
const LatestVersion = "latest"

// Source is either a *RegistrySource or a *GitSource.
type Source interface {
	// Index is the position of the source in the resolved list
	Index() int
	// Targets lists the revisions or versions to build, in declared order
	Targets() []string
	// Label is a short human readable name for logs
	Label() string

	isSource()
}

// RegistrySource is a mooncake fetched from the registry
type RegistrySource struct {
	Name     string   `json:"name"`
	Versions []string `json:"version"`
	Position int      `json:"index"`
}

// GitSource is a repository cloned over git
type GitSource struct {
	URL       string   `json:"url"`
	Revisions []string `json:"rev"`
	Position  int      `json:"index"`
}

func (s *RegistrySource) Index() int        { return s.Position }
func (s *RegistrySource) Targets() []string { return s.Versions }
func (s *RegistrySource) Label() string     { return s.Name }
func (s *RegistrySource) isSource()         {}

func (s *GitSource) Index() int        { return s.Position }
func (s *GitSource) Targets() []string { return s.Revisions }
func (s *GitSource) Label() string     { return s.URL }
func (s *GitSource) isSource()         {}

const (
	tagRegistry = "MooncakesIO"
	tagGit      = "Git"
)

// List is an ordered source list. Its JSON form tags every element with its
// kind: {"MooncakesIO":{...}} or {"Git":{...}}.
type List []Source

// MarshalJSON implements json.Marshaler
func (l List) MarshalJSON() ([]byte, error) {
	out := make([]map[string]Source, 0, len(l))
	for _, s := range l {
		switch v := s.(type) {
		case *RegistrySource:
			out = append(out, map[string]Source{tagRegistry: normalizedRegistry(v)})
		case *GitSource:
			out = append(out, map[string]Source{tagGit: normalizedGit(v)})
		default:
			return nil, fmt.Errorf("unknown source type %T", s)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler
func (l *List) UnmarshalJSON(data []byte) error {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	list := make(List, 0, len(raw))
	for i, entry := range raw {
		if len(entry) != 1 {
			return fmt.Errorf("source %d: expected exactly one kind tag, got %d", i, len(entry))
		}
		for tag, body := range entry {
			switch tag {
			case tagRegistry:
				var s RegistrySource
				if err := json.Unmarshal(body, &s); err != nil {
					return fmt.Errorf("source %d: %w", i, err)
				}
				list = append(list, &s)
			case tagGit:
				var s GitSource
				if err := json.Unmarshal(body, &s); err != nil {
					return fmt.Errorf("source %d: %w", i, err)
				}
				list = append(list, &s)
			default:
				return fmt.Errorf("source %d: unknown kind %q", i, tag)
			}
		}
	}
	*l = list
	return nil
}

// empty lists encode as [] rather than null
func normalizedRegistry(s *RegistrySource) *RegistrySource {
	if s.Versions != nil {
		return s
	}
	c := *s
	c.Versions = []string{}
	return &c
}

func normalizedGit(s *GitSource) *GitSource {
	if s.Revisions != nil {
		return s
	}
	c := *s
	c.Revisions = []string{}
	return &c
}

// EffectiveTargets returns the targets a run actually builds. An empty list
// stands for the default state of the checkout and yields a single HEAD
// target, so every source contributes at least one cell list entry.
func EffectiveTargets(s Source) []string {
	targets := s.Targets()
	if len(targets) == 0 {
		return []string{HeadRevision}
	}
	return targets
}
