// Package dashboard holds the snapshot record produced by one run and its
// JSON-Lines log.
package dashboard

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mslinn/moon_dashboard/pkg/source"
)

// Status of one matrix cell
type Status string

const (
	Success Status = "Success"
	Failure Status = "Failure"
)

// StartTimeLayout is the format of ExecuteResult.StartTime
const StartTimeLayout = "2006-01-02 15:04:05.000"

// startZone is the fixed UTC+8 zone cell start times are reported in
var startZone = time.FixedZone("UTC+8", 8*3600)

// FormatStartTime renders t the way cells record it
func FormatStartTime(t time.Time) string {
	return t.In(startZone).Format(StartTimeLayout)
}

// Backend is a compilation target of the toolchain
type Backend string

const (
	Wasm   Backend = "wasm"
	WasmGC Backend = "wasm-gc"
	JS     Backend = "js"
)

// Backends in matrix order
var Backends = []Backend{Wasm, WasmGC, JS}

// Operation is a toolchain subcommand exercised by the matrix
type Operation string

const (
	Check Operation = "check"
	Build Operation = "build"
	Test  Operation = "test"
)

// Operations in matrix order
var Operations = []Operation{Check, Build, Test}

// Args returns the toolchain arguments for op against backend
func (op Operation) Args(backend Backend) []string {
	switch op {
	case Test:
		return []string{"test", "-q", "--build-only", "--target", string(backend)}
	default:
		return []string{string(op), "-q", "--target", string(backend)}
	}
}

// ExecuteResult is the outcome of one toolchain invocation
type ExecuteResult struct {
	Status    Status `json:"status"`
	StartTime string `json:"start_time"`
	Elapsed   uint64 `json:"elapsed"` // milliseconds, 0 when the command never started
}

// BackendState holds one operation's result on every backend
type BackendState struct {
	Wasm   ExecuteResult `json:"wasm"`
	WasmGC ExecuteResult `json:"wasm_gc"`
	JS     ExecuteResult `json:"js"`
}

// Get returns the result for backend
func (b *BackendState) Get(backend Backend) *ExecuteResult {
	switch backend {
	case Wasm:
		return &b.Wasm
	case WasmGC:
		return &b.WasmGC
	case JS:
		return &b.JS
	}
	panic(fmt.Sprintf("unknown backend %q", backend))
}

// CBT is the check/build/test matrix of one working directory
type CBT struct {
	Check BackendState `json:"check"`
	Build BackendState `json:"build"`
	Test  BackendState `json:"test"`
}

// Get returns the row for op
func (c *CBT) Get(op Operation) *BackendState {
	switch op {
	case Check:
		return &c.Check
	case Build:
		return &c.Build
	case Test:
		return &c.Test
	}
	panic(fmt.Sprintf("unknown operation %q", op))
}

// Cell returns a single matrix cell
func (c *CBT) Cell(op Operation, backend Backend) ExecuteResult {
	return *c.Get(op).Get(backend)
}

// Counts returns how many cells succeeded and failed
func (c *CBT) Counts() (ok, failed int) {
	for _, op := range Operations {
		for _, b := range Backends {
			if c.Cell(op, b).Status == Success {
				ok++
			} else {
				failed++
			}
		}
	}
	return ok, failed
}

// BuildState is one source's results on one channel. A nil entry in CBTs
// means the checkout of that target failed.
type BuildState struct {
	Source int    `json:"source"`
	CBTs   []*CBT `json:"cbts"`
}

// ToolChainLabel names a toolchain channel
type ToolChainLabel string

const (
	Stable   ToolChainLabel = "Stable"
	Bleeding ToolChainLabel = "Bleeding"
)

// ToolChainVersion is captured once per channel before any source runs
type ToolChainVersion struct {
	Label        ToolChainLabel `json:"label"`
	MoonVersion  string         `json:"moon_version"`
	MooncVersion string         `json:"moonc_version"`
}

// MoonBuildDashboard is the snapshot of one complete run
type MoonBuildDashboard struct {
	RunID     string `json:"run_id"`
	RunNumber string `json:"run_number"`
	StartTime string `json:"start_time"`

	Sources source.List `json:"sources"`

	StableToolchainVersion ToolChainVersion `json:"stable_toolchain_version"`
	StableReleaseData      []BuildState     `json:"stable_release_data"`

	BleedingToolchainVersion ToolChainVersion `json:"bleeding_toolchain_version"`
	BleedingReleaseData      []BuildState     `json:"bleeding_release_data"`
}

// Channel returns the toolchain and data of one channel
func (d *MoonBuildDashboard) Channel(label ToolChainLabel) (ToolChainVersion, []BuildState) {
	if label == Bleeding {
		return d.BleedingToolchainVersion, d.BleedingReleaseData
	}
	return d.StableToolchainVersion, d.StableReleaseData
}

// Validate checks that every data list lines up with Sources
func (d *MoonBuildDashboard) Validate() error {
	for i, s := range d.Sources {
		if s.Index() != i {
			return fmt.Errorf("source %d has index %d", i, s.Index())
		}
	}
	for _, label := range []ToolChainLabel{Stable, Bleeding} {
		_, data := d.Channel(label)
		if len(data) != len(d.Sources) {
			return fmt.Errorf("%s data has %d entries for %d sources", label, len(data), len(d.Sources))
		}
		for i, bs := range data {
			if bs.Source != i {
				return fmt.Errorf("%s data entry %d refers to source %d", label, i, bs.Source)
			}
		}
	}
	return nil
}

// Marshal encodes the snapshot as a single JSON line without a trailing newline
func (d *MoonBuildDashboard) Marshal() ([]byte, error) {
	c := *d
	if c.Sources == nil {
		c.Sources = source.List{}
	}
	c.StableReleaseData = nonNilStates(c.StableReleaseData)
	c.BleedingReleaseData = nonNilStates(c.BleedingReleaseData)
	return json.Marshal(&c)
}

func nonNilStates(states []BuildState) []BuildState {
	out := make([]BuildState, len(states))
	for i, bs := range states {
		if bs.CBTs == nil {
			bs.CBTs = []*CBT{}
		}
		out[i] = bs
	}
	return out
}
