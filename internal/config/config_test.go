package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, "mobilesam", cfg.Model.Family)
	assert.Equal(t, 15*time.Minute, cfg.Session.TTL)
	assert.Equal(t, 2, cfg.Inference.MaxConcurrent)
	assert.Equal(t, int64(20*1024*1024), cfg.Upload.MaxSize)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: ":9090"
  mode: release
model:
  family: sam2
  encoder_path: ./sam2_weights/vision_encoder.onnx
  use_cuda: true
session:
  ttl: 90s
inference:
  max_concurrent: 4
  queue_timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, "sam2", cfg.Model.Family)
	assert.True(t, cfg.Model.UseCuda)
	assert.Equal(t, 90*time.Second, cfg.Session.TTL)
	assert.Equal(t, 5*time.Second, cfg.Inference.QueueTimeout)
	assert.Equal(t, 4, cfg.Inference.MaxConcurrent)
	// 未出现的键保留默认值
	assert.Equal(t, 64, cfg.Session.MaxSessions)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadRejectsUnknownFamily(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model:\n  family: yolo\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)

	cfg, err := New(path)
	assert.Error(t, err)
	assert.Equal(t, "mobilesam", cfg.Model.Family)
}

func TestLoadRejectsNonPositiveLimits(t *testing.T) {
	cases := map[string]string{
		"session.ttl":              "session:\n  ttl: -1s\n",
		"session.sweep_interval":   "session:\n  sweep_interval: 0s\n",
		"inference.queue_timeout":  "inference:\n  queue_timeout: 0s\n",
		"inference.max_concurrent": "inference:\n  max_concurrent: 0\n",
		"session.max_sessions":     "session:\n  max_sessions: 0\n",
		"upload.max_size":          "upload:\n  max_size: -5\n",
	}
	for key, yaml := range cases {
		t.Run(key, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestNewReportsLoadError(t *testing.T) {
	cfg, err := New(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \":7000\"\n"), 0o644))
	cfg, err = New(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
