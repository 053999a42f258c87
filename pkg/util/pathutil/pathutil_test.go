package pathutil

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindConfigPath(t *testing.T) {
	dir, err := ioutil.TempDir("", "mdp-pathutil")
	require.NoError(t, err)
	defer os.RemoveAll(dir) // nolint: errcheck

	found := filepath.Join(dir, ConfigName)
	require.NoError(t, ioutil.WriteFile(found, []byte("{}"), 0600))
	defaults := ConfigPaths{
		WorkingDirLoc: filepath.Join(dir, "missing.json"),
		HomeLoc:       found,
	}

	assert.Equal(t, "a.json", FindConfigPath([]string{"a.json"}, 0, "", defaults))

	require.NoError(t, os.Setenv("MDP_TEST_CONFIG", "env.json"))
	defer os.Unsetenv("MDP_TEST_CONFIG") // nolint: errcheck
	assert.Equal(t, "env.json", FindConfigPath(nil, 0, "MDP_TEST_CONFIG", defaults))
	assert.Equal(t, found, FindConfigPath([]string{"ignored"}, -1, "", defaults))
}

func TestDefaults(t *testing.T) {
	paths := Defaults()
	for _, loc := range AllConfigLocationTypes() {
		assert.Equal(t, ConfigName, filepath.Base(paths.Get(loc)))
	}
}

func TestConfigLocationType_Set(t *testing.T) {
	var loc ConfigLocationType
	require.NoError(t, loc.Set("home"))
	assert.Equal(t, HomeLoc, loc)
	require.NoError(t, loc.Set("WD"))
	assert.Equal(t, WorkingDirLoc, loc)
	assert.Error(t, loc.Set("attic"))
	assert.Equal(t, WorkingDirLoc, loc)
}

func TestEnsureDirAndAtomicWrite(t *testing.T) {
	dir, err := ioutil.TempDir("", "mdp-pathutil")
	require.NoError(t, err)
	defer os.RemoveAll(dir) // nolint: errcheck

	sub, err := EnsureDir(filepath.Join(dir, "a", "b"))
	require.NoError(t, err)
	info, err := os.Stat(sub)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	name := filepath.Join(sub, "out.json")
	require.NoError(t, AtomicWriteFile(name, []byte("one")))
	require.NoError(t, AtomicWriteFile(name, []byte("two")))
	raw, err := ioutil.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "two", string(raw))

	entries, err := ioutil.ReadDir(sub)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestHomeExpansion(t *testing.T) {
	dir, err := ioutil.TempDir("", "mdp-home")
	require.NoError(t, err)
	defer os.RemoveAll(dir) // nolint: errcheck

	homedir.DisableCache = true
	defer func() { homedir.DisableCache = false }()
	home := os.Getenv("HOME")
	require.NoError(t, os.Setenv("HOME", dir))
	defer os.Setenv("HOME", home) // nolint: errcheck

	assert.Equal(t, dir, HomeDir())
	p, err := Expand("~/cache")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cache"), p)

	got, err := EnsureDir("~/.mdp/cache")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".mdp", "cache"), got)
	_, err = os.Stat(got)
	assert.NoError(t, err)
}
