package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeIndex(t *testing.T, root, key, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(key)+".index")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoad_LatestVersion(t *testing.T) {
	root := t.TempDir()
	writeIndex(t, root, "moonbitlang/core",
		`{"name":"moonbitlang/core","version":"0.4.10"}
{"name":"moonbitlang/core","version":"0.5.0"}
{"name":"moonbitlang/core","version":"0.4.9"}
`)
	writeIndex(t, root, "moonbitlang/x", `{"name":"moonbitlang/x","version":"0.1.0"}`+"\n")

	idx, err := Load(root)
	require.NoError(t, err)

	v, err := idx.LatestVersion("moonbitlang/core")
	require.NoError(t, err)
	assert.Equal(t, "0.5.0", v)

	versions, err := idx.Versions("moonbitlang/core")
	require.NoError(t, err)
	assert.Equal(t, []string{"0.4.9", "0.4.10", "0.5.0"}, versions, "semver order, not lexical")

	assert.Equal(t, []string{"moonbitlang/core", "moonbitlang/x"}, idx.Names())
}

func TestLoad_SkipsFixtures(t *testing.T) {
	root := t.TempDir()
	writeIndex(t, root, "alice/lib",
		`{"name":"alice/lib","version":"1.0.0"}
{"name":"alice/lib","version":"9.9.9","keywords":["test-fixture"]}
`)
	writeIndex(t, root, FixturePublisher+"/pkg", `{"version":"0.0.1"}`+"\n")

	idx, err := Load(root)
	require.NoError(t, err)

	v, err := idx.LatestVersion("alice/lib")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v)

	_, err = idx.LatestVersion(FixturePublisher + "/pkg")
	assert.True(t, errors.Is(err, ErrUnknownPackage))
}

func TestLoad_NameFromPath(t *testing.T) {
	root := t.TempDir()
	writeIndex(t, root, "bob/tool", `{"version":"0.2.0"}`+"\n\n")

	idx, err := Load(root)
	require.NoError(t, err)
	v, err := idx.LatestVersion("bob/tool")
	require.NoError(t, err)
	assert.Equal(t, "0.2.0", v)
}

func TestLoad_NonSemverSortsFirst(t *testing.T) {
	root := t.TempDir()
	writeIndex(t, root, "carol/odd",
		`{"version":"nightly"}
{"version":"0.1.0"}
`)
	idx, err := Load(root)
	require.NoError(t, err)
	v, err := idx.LatestVersion("carol/odd")
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", v)
}

func TestLoad_BadJSON(t *testing.T) {
	root := t.TempDir()
	writeIndex(t, root, "dave/broken", "{not json}\n")
	_, err := Load(root)
	assert.Error(t, err)
}

func TestLoad_MissingDir(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestLatestVersion_Unknown(t *testing.T) {
	idx, err := Load(t.TempDir())
	require.NoError(t, err)
	_, err = idx.LatestVersion("nobody/nothing")
	assert.True(t, errors.Is(err, ErrUnknownPackage))
}
