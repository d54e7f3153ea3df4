package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mslinn/moon_dashboard/pkg/dashboard"
	"github.com/mslinn/moon_dashboard/pkg/database"
	"github.com/mslinn/moon_dashboard/pkg/source"
)

func cells(status dashboard.Status) *dashboard.CBT {
	r := dashboard.ExecuteResult{Status: status, StartTime: "2025-01-01 08:00:00.000", Elapsed: 4}
	row := dashboard.BackendState{Wasm: r, WasmGC: r, JS: r}
	return &dashboard.CBT{Check: row, Build: row, Test: row}
}

func snapshot(runID string) *dashboard.MoonBuildDashboard {
	return &dashboard.MoonBuildDashboard{
		RunID:                    runID,
		RunNumber:                "1",
		StartTime:                "2025-01-01T00:00:00Z",
		Sources:                  source.List{&source.RegistrySource{Name: "moonbitlang/core", Versions: []string{"0.1.0"}}},
		StableToolchainVersion:   dashboard.ToolChainVersion{Label: dashboard.Stable, MoonVersion: "s"},
		StableReleaseData:        []dashboard.BuildState{{Source: 0, CBTs: []*dashboard.CBT{cells(dashboard.Success)}}},
		BleedingToolchainVersion: dashboard.ToolChainVersion{Label: dashboard.Bleeding, MoonVersion: "b"},
		BleedingReleaseData:      []dashboard.BuildState{{Source: 0, CBTs: []*dashboard.CBT{cells(dashboard.Failure)}}},
	}
}

func newTestServer(t *testing.T, withDB bool, runs ...string) (*httptest.Server, *database.DB) {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "data.jsonl")
	for _, id := range runs {
		require.NoError(t, dashboard.AppendLog(logPath, snapshot(id)))
	}

	var db *database.DB
	if withDB {
		var err error
		db, err = database.Open(filepath.Join(dir, "test.db"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
	}

	s := New(":0", logPath, db, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, db
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, false)
	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestDataLog(t *testing.T) {
	ts, _ := newTestServer(t, false, "1", "2")

	resp, err := http.Get(ts.URL + "/data.jsonl")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(body), "\n"))
}

func TestDataLog_Missing(t *testing.T) {
	ts, _ := newTestServer(t, false)
	resp, err := http.Get(ts.URL + "/data.jsonl")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLatest(t *testing.T) {
	ts, _ := newTestServer(t, false, "1", "2")

	var body struct {
		Snapshot dashboard.MoonBuildDashboard `json:"snapshot"`
		Summary  dashboard.Summary            `json:"summary"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/latest", &body))
	assert.Equal(t, "2", body.Snapshot.RunID)
	assert.Equal(t, 9, body.Summary.Stable.Succeeded)
	assert.Equal(t, 9, body.Summary.Bleeding.Failed)
}

func TestLatest_Empty(t *testing.T) {
	ts, _ := newTestServer(t, false)
	var body map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/latest", &body))
	assert.Contains(t, body, "snapshot")
	assert.Nil(t, body["snapshot"])
}

func TestSnapshots_Limit(t *testing.T) {
	ts, _ := newTestServer(t, false, "1", "2", "3")

	var all []dashboard.Summary
	getJSON(t, ts.URL+"/api/snapshots", &all)
	assert.Len(t, all, 3)

	var last []dashboard.Summary
	getJSON(t, ts.URL+"/api/snapshots?limit=2", &last)
	require.Len(t, last, 2)
	assert.Equal(t, "2", last[0].RunID)
	assert.Equal(t, "3", last[1].RunID)
}

func TestRuns_WithoutDB(t *testing.T) {
	ts, _ := newTestServer(t, false)
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.URL+"/api/runs", nil))
}

func TestRuns(t *testing.T) {
	ts, db := newTestServer(t, true)

	d := snapshot("77")
	line, err := d.Marshal()
	require.NoError(t, err)
	run, err := db.ImportDashboard(d, line)
	require.NoError(t, err)

	var runs []map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/runs", &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "77", runs[0]["run_id"])

	base := fmt.Sprintf("%s/api/runs/%d", ts.URL, run.ID)

	var detail map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, base, &detail))
	assert.Len(t, detail["toolchains"], 2)

	var stable []database.Cell
	getJSON(t, base+"/cells?channel=Stable", &stable)
	assert.Len(t, stable, 9)

	var stats []database.CellStat
	getJSON(t, base+"/stats", &stats)
	assert.Len(t, stats, 18)

	var diffs []database.CellDiff
	getJSON(t, base+"/compare?changed=true", &diffs)
	assert.Len(t, diffs, 9)

	var cos []database.Checkout
	assert.Equal(t, http.StatusOK, getJSON(t, base+"/checkouts", &cos))
	assert.Empty(t, cos)

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/runs/999", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/runs/abc", nil))
}

func TestLatestWS(t *testing.T) {
	ts, _ := newTestServer(t, false, "1")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/latest"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg feedMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, 1, msg.Snapshots)
	require.NotNil(t, msg.Latest)
	assert.Equal(t, "1", msg.Latest.RunID)
}

func TestLatestWS_RejectsForeignOrigin(t *testing.T) {
	ts, _ := newTestServer(t, false)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/latest"
	header := http.Header{"Origin": []string{"http://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 200},
		{"limit=5", 5},
		{"limit=0", 200},
		{"limit=abc", 200},
		{"limit=5000", 200},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/runs?"+tt.query, nil)
		assert.Equal(t, tt.want, parseLimit(r, 200), tt.query)
	}
}
