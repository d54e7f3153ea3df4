package dashboard

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mslinn/moon_dashboard/pkg/source"
)

func allCells(status Status) *CBT {
	r := ExecuteResult{Status: status, StartTime: "2024-01-01 08:00:00.000", Elapsed: 10}
	row := BackendState{Wasm: r, WasmGC: r, JS: r}
	return &CBT{Check: row, Build: row, Test: row}
}

func TestOperationArgs(t *testing.T) {
	assert.Equal(t, []string{"check", "-q", "--target", "wasm"}, Check.Args(Wasm))
	assert.Equal(t, []string{"build", "-q", "--target", "wasm-gc"}, Build.Args(WasmGC))
	assert.Equal(t, []string{"test", "-q", "--build-only", "--target", "js"}, Test.Args(JS))
}

func TestFormatStartTime(t *testing.T) {
	ts := time.Date(2024, 3, 1, 0, 0, 1, 234_000_000, time.UTC)
	assert.Equal(t, "2024-03-01 08:00:01.234", FormatStartTime(ts))
}

func TestCBT_GetAndCounts(t *testing.T) {
	cbt := allCells(Success)
	cbt.Get(Build).Get(WasmGC).Status = Failure

	assert.Equal(t, Failure, cbt.Cell(Build, WasmGC).Status)
	assert.Equal(t, Success, cbt.Cell(Build, Wasm).Status)

	ok, failed := cbt.Counts()
	assert.Equal(t, 8, ok)
	assert.Equal(t, 1, failed)
}

func TestBuildState_JSON(t *testing.T) {
	bs := BuildState{Source: 2, CBTs: []*CBT{nil, allCells(Failure)}}
	data, err := json.Marshal(bs)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	cbts := raw["cbts"].([]any)
	require.Len(t, cbts, 2)
	assert.Nil(t, cbts[0], "failed checkout encodes as null")
	assert.Equal(t, "Failure", cbts[1].(map[string]any)["check"].(map[string]any)["wasm_gc"].(map[string]any)["status"])
}

func sampleDashboard() *MoonBuildDashboard {
	return &MoonBuildDashboard{
		RunID:     "42",
		RunNumber: "7",
		StartTime: "2024-03-01T08:00:00+08:00",
		Sources: source.List{
			&source.GitSource{URL: "https://example.com/x.git", Revisions: []string{"badrev"}, Position: 0},
			&source.RegistrySource{Name: "moonbitlang/core", Versions: []string{"0.5.0"}, Position: 1},
		},
		StableToolchainVersion:   ToolChainVersion{Label: Stable, MoonVersion: "moon 0.1", MooncVersion: "v0.1"},
		StableReleaseData:        []BuildState{{Source: 0, CBTs: []*CBT{nil}}, {Source: 1, CBTs: []*CBT{allCells(Success)}}},
		BleedingToolchainVersion: ToolChainVersion{Label: Bleeding, MoonVersion: "moon 0.2", MooncVersion: "v0.2"},
		BleedingReleaseData:      []BuildState{{Source: 0, CBTs: []*CBT{nil}}, {Source: 1, CBTs: []*CBT{allCells(Failure)}}},
	}
}

func TestDashboard_Validate(t *testing.T) {
	d := sampleDashboard()
	require.NoError(t, d.Validate())

	d.BleedingReleaseData = d.BleedingReleaseData[:1]
	assert.Error(t, d.Validate())

	d = sampleDashboard()
	d.StableReleaseData[1].Source = 0
	assert.Error(t, d.Validate())

	d = sampleDashboard()
	d.Sources[1].(*source.RegistrySource).Position = 5
	assert.Error(t, d.Validate())
}

func TestDashboard_Marshal(t *testing.T) {
	d := &MoonBuildDashboard{RunID: "0", RunNumber: "0"}
	data, err := d.Marshal()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, []any{}, raw["sources"])
	assert.Equal(t, []any{}, raw["stable_release_data"])
	assert.Equal(t, []any{}, raw["bleeding_release_data"])
	assert.Nil(t, d.Sources, "Marshal does not mutate the receiver")
}

func TestDashboard_Channel(t *testing.T) {
	d := sampleDashboard()
	tc, data := d.Channel(Bleeding)
	assert.Equal(t, "moon 0.2", tc.MoonVersion)
	assert.Equal(t, Failure, data[1].CBTs[0].Cell(Check, Wasm).Status)

	tc, _ = d.Channel(Stable)
	assert.Equal(t, Stable, tc.Label)
}
