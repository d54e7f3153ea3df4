package database

import "time"

// Run represents one dashboard run
type Run struct {
	ID          int64
	RunKey      string // uuid, stable across imports
	RunID       string // CI run id, "0" outside CI
	RunNumber   string
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      string // 'running', 'completed', 'failed'
	Sources     int
	Snapshot    string // the appended JSON line, empty until completed
	Notes       string
}

// Toolchain is the version pair captured for one channel of a run
type Toolchain struct {
	ID           int64
	RunID        int64
	Label        string // 'Stable', 'Bleeding'
	MoonVersion  string
	MooncVersion string
}

// Cell is one (operation, backend) outcome for one target of one source
type Cell struct {
	ID          int64
	RunID       int64
	Channel     string
	SourceIndex int
	SourceLabel string
	TargetIndex int
	Target      string
	Operation   string // 'check', 'build', 'test'
	Backend     string // 'wasm', 'wasm-gc', 'js'
	Status      string // 'Success', 'Failure'
	StartTime   string
	ElapsedMs   int64
}

// Checkout represents a timed clone, checkout or archive download
type Checkout struct {
	ID          int64
	RunID       int64
	SourceIndex int
	Target      string
	Kind        string // 'clone', 'checkout', 'download', 'unpack'
	StartedAt   time.Time
	DurationMs  int64
	Status      string // 'success', 'failed'
	Error       string
	CommitHash  string
	Branch      string
	CRC32       string
	SizeBytes   *int64
}

// CellStat aggregates cells of one run by channel, operation and backend
type CellStat struct {
	Channel    string
	Operation  string
	Backend    string
	Total      int
	Succeeded  int
	AvgElapsed float64
}

// CellDiff pairs the stable and bleeding outcome of the same cell
type CellDiff struct {
	SourceIndex     int
	SourceLabel     string
	Target          string
	Operation       string
	Backend         string
	StableStatus    string
	BleedingStatus  string
	StableElapsed   int64
	BleedingElapsed int64
}

// Changed reports whether the two channels disagree on the outcome
func (d *CellDiff) Changed() bool {
	return d.StableStatus != d.BleedingStatus
}
