package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javanhut/Ivaldi-objects/internal/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("defaults (-want +got):\n%s", diff)
	}
}

func TestLoadLayersRepoOverGlobal(t *testing.T) {
	dir := t.TempDir()
	global := filepath.Join(dir, "global.yaml")
	repo := filepath.Join(dir, "repo.json")
	writeFile(t, global, "user:\n  name: Uma\n  email: uma@example.com\nfetch:\n  batchsize: 8\n")
	writeFile(t, repo, `{"user": {"name": "Repo Uma"}, "fetch": {"concurrency": 2}}`)

	cfg, err := Load(global, repo)
	require.NoError(t, err)
	assert.Equal(t, "Repo Uma", cfg.User.Name)
	assert.Equal(t, "uma@example.com", cfg.User.Email)
	assert.Equal(t, 8, cfg.Fetch.BatchSize)
	assert.Equal(t, 2, cfg.Fetch.Concurrency)
	assert.Equal(t, 4, cfg.Fetch.MaxRounds)
	assert.Equal(t, DefaultStoreDir, cfg.Core.Store)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "user: [unclosed\n")
	_, err := Load(path, "")
	assert.True(t, errors.Is(err, errors.Configuration), "got %v", err)
}

func TestSetValueKeepsOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	require.NoError(t, SetValue(path, "user.name", "Uma"))
	require.NoError(t, SetValue(path, "fetch.batchsize", "16"))
	require.NoError(t, SetValue(path, "color.ui", "false"))

	cfg, err := Load("", path)
	require.NoError(t, err)
	assert.Equal(t, "Uma", cfg.User.Name)
	assert.Equal(t, 16, cfg.Fetch.BatchSize)
	assert.False(t, cfg.Color.UI)
	// untouched keys keep their defaults
	assert.Equal(t, 4, cfg.Fetch.Concurrency)
	assert.Equal(t, DefaultStoreDir, cfg.Core.Store)

	v, err := GetValue(cfg, "fetch.batchsize")
	require.NoError(t, err)
	assert.Equal(t, "16", v)
	v, err = GetValue(cfg, "user.name")
	require.NoError(t, err)
	assert.Equal(t, "Uma", v)
}

func TestSetValueValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := SetValue(path, "fetch.concurrency", "zero")
	assert.True(t, errors.Is(err, errors.Configuration), "got %v", err)
	err = SetValue(path, "fetch.concurrency", "0")
	assert.True(t, errors.Is(err, errors.Configuration), "got %v", err)
	err = SetValue(path, "nope.key", "x")
	assert.True(t, errors.Is(err, errors.NotFound), "got %v", err)
	err = SetValue(path, "user", "x")
	assert.True(t, errors.Is(err, errors.Configuration), "got %v", err)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "failed sets must not create the file")
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "user.email")
	assert.Contains(t, keys, "log.verbosity")
	assert.IsIncreasing(t, keys)
}
