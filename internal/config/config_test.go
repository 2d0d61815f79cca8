package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0, cfg.Camera)
	assert.Equal(t, "cuda", cfg.Compute)
	assert.Equal(t, 3, cfg.Radius)
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "facemark.yaml")
	yamlData := `
camera: 2
compute: cpu
worker_timeout: 5s
concurrent: true
headless: true
radius: 4
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	want := Default()
	want.Camera = 2
	want.Compute = "cpu"
	want.WorkerTimeout = 5 * time.Second
	want.Concurrent = true
	want.Headless = true
	want.Radius = 4
	want.LogLevel = "debug"

	// Environment may carry FACEMARK_* on a developer machine; compare only if clean
	if _, set := os.LookupEnv(EnvPrefix + "COMPUTE"); !set {
		if diff := cmp.Diff(want, cfg); diff != "" {
			t.Errorf("Load() mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("camera: [not an int"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"FACEMARK_CAMERA":         "1",
		"FACEMARK_COMPUTE":        "CPU",
		"FACEMARK_WORKER_TIMEOUT": "250ms",
		"FACEMARK_HEADLESS":       "true",
		"FACEMARK_INPUT":          " rtsp://cam.local/stream ",
		"FACEMARK_LOG_FILE":       "",
		"FACEMARK_RADIUS":         "5",
		"FACEMARK_PROGRESS":       "1",
	}))
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Camera)
	assert.Equal(t, "cpu", cfg.Compute)
	assert.Equal(t, 250*time.Millisecond, cfg.WorkerTimeout)
	assert.True(t, cfg.Headless)
	assert.Equal(t, "rtsp://cam.local/stream", cfg.Input)
	assert.Empty(t, cfg.LogFile, "empty values do not override")
	assert.Equal(t, 5, cfg.Radius)
	assert.True(t, cfg.Progress)
}

func TestApplyEnv_BadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"Camera not a number", map[string]string{"FACEMARK_CAMERA": "front"}},
		{"Timeout not a duration", map[string]string{"FACEMARK_WORKER_TIMEOUT": "soon"}},
		{"Headless not a bool", map[string]string{"FACEMARK_HEADLESS": "maybe"}},
		{"Concurrent not a bool", map[string]string{"FACEMARK_CONCURRENT": "2"}},
		{"Radius not a number", map[string]string{"FACEMARK_RADIUS": "big"}},
		{"Progress not a bool", map[string]string{"FACEMARK_PROGRESS": "sometimes"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			assert.Error(t, cfg.ApplyEnv(envMap(tt.env)))
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"Unknown compute device", func(c *Config) { c.Compute = "tpu" }, "Compute"},
		{"Negative camera", func(c *Config) { c.Camera = -1 }, "Camera"},
		{"Zero radius", func(c *Config) { c.Radius = 0 }, "Radius"},
		{"Missing script", func(c *Config) { c.Script = "" }, "Script"},
		{"Bad log level", func(c *Config) { c.LogLevel = "loud" }, "LogLevel"},
		{"Negative timeout", func(c *Config) { c.WorkerTimeout = -time.Second }, "WorkerTimeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FACEMARK_TEST_DOTENV=cpu\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("FACEMARK_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "cpu", os.Getenv("FACEMARK_TEST_DOTENV"))
}
