package toolchain

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mslinn/moon_dashboard/pkg/config"
	"github.com/mslinn/moon_dashboard/pkg/dashboard"
	"github.com/mslinn/moon_dashboard/pkg/download"
	"github.com/mslinn/moon_dashboard/pkg/timing"
)

type call struct {
	command string
	args    []string
	env     []string
}

// fakeExec answers every command from outputs keyed by "command arg..."
type fakeExec struct {
	calls   []call
	outputs map[string]string
	fail    map[string]bool
}

func (f *fakeExec) run(ctx context.Context, command string, args []string, opts *timing.Options) *timing.Result {
	f.calls = append(f.calls, call{command: command, args: args, env: opts.Env})
	key := strings.TrimSpace(command + " " + strings.Join(args, " "))
	r := &timing.Result{Command: command, Args: args, Started: true, StartedAt: time.Now(), DurationMs: 3}
	if f.fail[key] || f.fail[command] {
		r.ExitCode = 1
		r.Error = errors.New("exit status 1")
		r.Stderr = "boom"
		return r
	}
	r.Stdout = f.outputs[key]
	return r
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.MoonHome = t.TempDir()
	cfg.WorkDir = t.TempDir()
	return cfg
}

func TestVersion(t *testing.T) {
	cfg := testConfig(t)
	fake := &fakeExec{outputs: map[string]string{
		"moon version": "moon 0.1.20250101 (abc 2025-01-01)\n",
		"moonc -v":     "v0.1.20250101+abc\n",
	}}
	m := &Manager{Config: cfg, Exec: fake.run}

	v, err := m.Version(context.Background(), dashboard.Bleeding)
	require.NoError(t, err)
	assert.Equal(t, dashboard.ToolChainVersion{
		Label:        dashboard.Bleeding,
		MoonVersion:  "moon 0.1.20250101 (abc 2025-01-01)",
		MooncVersion: "v0.1.20250101+abc",
	}, v)

	require.Len(t, fake.calls, 2)
	assert.Contains(t, fake.calls[0].env, "MOON_HOME="+cfg.MoonHome)
}

func TestVersion_NotUTF8(t *testing.T) {
	fake := &fakeExec{outputs: map[string]string{"moon version": "\xff\xfe"}}
	m := &Manager{Config: testConfig(t), Exec: fake.run}

	_, err := m.Version(context.Background(), dashboard.Stable)
	assert.ErrorIs(t, err, ErrToolchain)
	assert.ErrorIs(t, err, timing.ErrNotUTF8)
}

func TestUpdate_Failure(t *testing.T) {
	fake := &fakeExec{fail: map[string]bool{"moon update": true}}
	m := &Manager{Config: testConfig(t), Exec: fake.run}

	err := m.Update(context.Background())
	assert.ErrorIs(t, err, ErrToolchain)
	assert.Contains(t, err.Error(), "boom")
}

func TestInstall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#!/bin/bash\necho installed\n"))
	}))
	defer server.Close()

	cfg := testConfig(t)
	cfg.InstallScriptURL = server.URL + "/install/unix.sh"

	tests := []struct {
		label dashboard.ToolChainLabel
		extra []string
	}{
		{dashboard.Stable, nil},
		{dashboard.Bleeding, []string{"bleeding"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.label), func(t *testing.T) {
			fake := &fakeExec{}
			m := &Manager{Config: cfg, Exec: fake.run}
			require.NoError(t, m.Install(context.Background(), tt.label))

			require.Len(t, fake.calls, 1)
			assert.Equal(t, "bash", fake.calls[0].command)
			assert.Equal(t, tt.extra, fake.calls[0].args[1:])
			_, err := os.Stat(fake.calls[0].args[0])
			assert.True(t, os.IsNotExist(err), "installer should be removed afterwards")
		})
	}
}

func TestInstall_ScriptUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := testConfig(t)
	cfg.InstallScriptURL = server.URL
	fake := &fakeExec{}
	m := &Manager{Config: cfg, Exec: fake.run, Download: &download.Options{Backoff: time.Millisecond}}

	err := m.Install(context.Background(), dashboard.Stable)
	assert.ErrorIs(t, err, ErrToolchain)
	assert.Empty(t, fake.calls)
}

func TestSetup_Skips(t *testing.T) {
	fake := &fakeExec{outputs: map[string]string{"moon version": "moon 1", "moonc -v": "v1"}}
	m := &Manager{Config: testConfig(t), Exec: fake.run}

	v, err := m.Setup(context.Background(), dashboard.Stable, true, false)
	require.NoError(t, err)
	assert.Equal(t, "moon 1", v.MoonVersion)

	var commands []string
	for _, c := range fake.calls {
		commands = append(commands, c.command+" "+strings.Join(c.args, " "))
	}
	assert.Equal(t, []string{"moon update", "moon version", "moonc -v"}, commands)
}

func TestSetup_UpdateFailureIsFatal(t *testing.T) {
	fake := &fakeExec{fail: map[string]bool{"moon update": true}}
	m := &Manager{Config: testConfig(t), Exec: fake.run}

	_, err := m.Setup(context.Background(), dashboard.Stable, true, false)
	assert.ErrorIs(t, err, ErrToolchain)
	assert.Len(t, fake.calls, 1)
}
