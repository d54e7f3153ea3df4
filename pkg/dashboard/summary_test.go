package dashboard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mslinn/moon_dashboard/pkg/source"
)

func TestSummary(t *testing.T) {
	mixed := allCells(Success)
	mixed.Test.JS.Status = Failure

	d := &MoonBuildDashboard{
		RunID:     "5",
		RunNumber: "2",
		StartTime: "2025-01-01T00:00:00Z",
		Sources: source.List{
			&source.GitSource{URL: "https://example.com/x.git", Revisions: []string{"a", "b"}, Position: 0},
		},
		StableToolchainVersion:   ToolChainVersion{Label: Stable, MoonVersion: "moon 1"},
		StableReleaseData:        []BuildState{{Source: 0, CBTs: []*CBT{mixed, nil}}},
		BleedingToolchainVersion: ToolChainVersion{Label: Bleeding, MoonVersion: "moon 2"},
		BleedingReleaseData:      []BuildState{{Source: 0, CBTs: []*CBT{allCells(Success), allCells(Failure)}}},
	}

	s := d.Summary()
	assert.Equal(t, "5", s.RunID)
	assert.Equal(t, 1, s.Sources)
	assert.Equal(t, ChannelSummary{Label: Stable, MoonVersion: "moon 1", Succeeded: 8, Failed: 1, Missing: 1}, s.Stable)
	assert.Equal(t, ChannelSummary{Label: Bleeding, MoonVersion: "moon 2", Succeeded: 9, Failed: 9}, s.Bleeding)
}
