package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vianexus/agentmemory/internal/storage"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendVolatile, cfg.Backend)
	assert.Equal(t, DefaultCacheCapacity, cfg.CacheCapacity)
	assert.Equal(t, DefaultFileRoot, cfg.File.Root)
	assert.Equal(t, DefaultObjectRetries, cfg.Object.MaxRetries)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: file
cache_capacity: 64
file:
  root: /var/lib/agentmemory
log:
  level: DEBUG
  pretty: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendFile, cfg.Backend)
	assert.Equal(t, 64, cfg.CacheCapacity)
	assert.Equal(t, "/var/lib/agentmemory", cfg.File.Root)
	assert.Equal(t, "DEBUG", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, BackendVolatile, cfg.Backend)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: file\ncache_capacity: 64\n"), 0o644))

	t.Setenv("AGENTMEMORY_BACKEND", "object")
	t.Setenv("AGENTMEMORY_OBJECT_BUCKET", "sessions-prod")
	t.Setenv("AGENTMEMORY_CACHE_CAPACITY", "256")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendObject, cfg.Backend)
	assert.Equal(t, "sessions-prod", cfg.Object.Bucket)
	assert.Equal(t, 256, cfg.CacheCapacity)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("AGENTMEMORY_BACKEND", "carrier-pigeon")
	_, err := Load("")
	assert.Error(t, err)

	t.Setenv("AGENTMEMORY_BACKEND", "object")
	_, err = Load("")
	assert.Error(t, err, "object backend without a bucket must fail validation")
}

func TestBuildBackend(t *testing.T) {
	ctx := context.Background()

	cfg := Default()
	backend, err := BuildBackend(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &storage.VolatileStore{}, backend)

	cfg = Default()
	cfg.Backend = BackendFile
	cfg.File.Root = t.TempDir()
	backend, err = BuildBackend(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &storage.FileStore{}, backend)

	cfg = Default()
	cfg.Backend = "carrier-pigeon"
	_, err = BuildBackend(ctx, cfg)
	assert.Error(t, err)
}
