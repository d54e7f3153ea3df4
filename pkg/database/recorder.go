package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mslinn/moon_dashboard/pkg/dashboard"
	"github.com/mslinn/moon_dashboard/pkg/source"
)

// Recorder stores run progress as it happens. It satisfies engine.Observer.
// Write failures never interrupt a run; the first one is kept for Err.
type Recorder struct {
	db    *DB
	runID int64
	err   error
}

// NewRecorder returns a recorder writing into the run with the given ID
func NewRecorder(db *DB, runID int64) *Recorder {
	return &Recorder{db: db, runID: runID}
}

// Err returns the first write failure, if any
func (r *Recorder) Err() error {
	return r.err
}

func (r *Recorder) keep(err error) {
	if err != nil && r.err == nil {
		r.err = err
	}
}

// ChannelReady records the toolchain versions of a channel
func (r *Recorder) ChannelReady(version dashboard.ToolChainVersion) {
	r.keep(r.db.CreateToolchain(&Toolchain{
		RunID:        r.runID,
		Label:        string(version.Label),
		MoonVersion:  version.MoonVersion,
		MooncVersion: version.MooncVersion,
	}))
}

// SourceStarted is a no-op; sources are stored with the final snapshot
func (r *Recorder) SourceStarted(label dashboard.ToolChainLabel, src source.Source) {}

// TargetFinished records the nine cells of a target. Failed checkouts have
// no cells and are already in the checkouts table.
func (r *Recorder) TargetFinished(label dashboard.ToolChainLabel, src source.Source, targetIndex int, target string, cbt *dashboard.CBT, err error) {
	if cbt == nil {
		return
	}
	r.keep(r.db.insertCBT(r.runID, label, src, targetIndex, target, cbt))
}

func (db *DB) insertCBT(runID int64, label dashboard.ToolChainLabel, src source.Source, targetIndex int, target string, cbt *dashboard.CBT) error {
	for _, op := range dashboard.Operations {
		for _, b := range dashboard.Backends {
			res := cbt.Cell(op, b)
			err := db.CreateCell(&Cell{
				RunID:       runID,
				Channel:     string(label),
				SourceIndex: src.Index(),
				SourceLabel: src.Label(),
				TargetIndex: targetIndex,
				Target:      target,
				Operation:   string(op),
				Backend:     string(b),
				Status:      string(res.Status),
				StartTime:   res.StartTime,
				ElapsedMs:   int64(res.Elapsed),
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// ErrAlreadyImported is returned by ImportDashboard for a line seen before
var ErrAlreadyImported = errors.New("snapshot already imported")

// ImportDashboard stores a complete snapshot. The run key is derived from the
// JSON line itself, so importing the same log twice adds nothing.
func (db *DB) ImportDashboard(d *dashboard.MoonBuildDashboard, line []byte) (*Run, error) {
	key := uuid.NewSHA1(uuid.NameSpaceURL, line).String()
	if existing, err := db.GetRunByKey(key); err == nil {
		return existing, ErrAlreadyImported
	}

	started, err := time.Parse(time.RFC3339, d.StartTime)
	if err != nil {
		return nil, fmt.Errorf("invalid start_time %q: %w", d.StartTime, err)
	}

	run := &Run{
		RunKey:      key,
		RunID:       d.RunID,
		RunNumber:   d.RunNumber,
		StartedAt:   started,
		CompletedAt: &started,
		Status:      "completed",
		Sources:     len(d.Sources),
		Snapshot:    string(line),
		Notes:       "imported",
	}
	if err := db.CreateRun(run); err != nil {
		return nil, err
	}

	for _, label := range []dashboard.ToolChainLabel{dashboard.Stable, dashboard.Bleeding} {
		version, data := d.Channel(label)
		if version.Label == "" {
			version.Label = label
		}
		if err := db.CreateToolchain(&Toolchain{
			RunID:        run.ID,
			Label:        string(version.Label),
			MoonVersion:  version.MoonVersion,
			MooncVersion: version.MooncVersion,
		}); err != nil {
			return nil, err
		}
		for _, bs := range data {
			if bs.Source < 0 || bs.Source >= len(d.Sources) {
				return nil, fmt.Errorf("%s data refers to unknown source %d", label, bs.Source)
			}
			src := d.Sources[bs.Source]
			targets := source.EffectiveTargets(src)
			for i, cbt := range bs.CBTs {
				if cbt == nil {
					continue
				}
				target := source.HeadRevision
				if i < len(targets) {
					target = targets[i]
				}
				if err := db.insertCBT(run.ID, label, src, i, target, cbt); err != nil {
					return nil, err
				}
			}
		}
	}

	return run, nil
}
