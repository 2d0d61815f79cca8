// Package config resolves facemark settings from defaults, a YAML file, the
// environment (optionally seeded from .env) and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. FACEMARK_COMPUTE.
const EnvPrefix = "FACEMARK_"

// Config holds every startup setting. None of them change while the loop runs.
type Config struct {
	Camera        int           `yaml:"camera" validate:"gte=0"`
	Input         string        `yaml:"input"`
	Compute       string        `yaml:"compute" validate:"oneof=cuda cpu"`
	Python        string        `yaml:"python" validate:"required"`
	Script        string        `yaml:"script" validate:"required"`
	WorkerTimeout time.Duration `yaml:"worker_timeout" validate:"gte=0s"`
	Concurrent    bool          `yaml:"concurrent"`
	Headless      bool          `yaml:"headless"`
	Radius        int           `yaml:"radius" validate:"gte=1,lte=50"`
	Progress      bool          `yaml:"progress"`
	LogLevel      string        `yaml:"log_level" validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFile       string        `yaml:"log_file"`
}

// Default returns the built-in settings: camera 0, CUDA, the bundled worker script.
func Default() Config {
	return Config{
		Camera:   0,
		Compute:  "cuda",
		Python:   "python3",
		Script:   "python/landmark_worker.py",
		Radius:   3,
		LogLevel: "info",
	}
}

// Load layers the YAML file at path (skipped when empty) and the environment over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := LoadDotEnv(".env"); err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv exports the variables in file into the process environment.
// A missing file is not an error. Variables already set are left alone.
func LoadDotEnv(file string) error {
	if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", file, err)
	}
	return nil
}

// ApplyEnv overrides fields from FACEMARK_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	var err error
	if v, ok := get("CAMERA"); ok {
		if c.Camera, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("%sCAMERA: %w", EnvPrefix, err)
		}
	}
	if v, ok := get("INPUT"); ok {
		c.Input = v
	}
	if v, ok := get("COMPUTE"); ok {
		c.Compute = strings.ToLower(v)
	}
	if v, ok := get("PYTHON"); ok {
		c.Python = v
	}
	if v, ok := get("SCRIPT"); ok {
		c.Script = v
	}
	if v, ok := get("WORKER_TIMEOUT"); ok {
		if c.WorkerTimeout, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("%sWORKER_TIMEOUT: %w", EnvPrefix, err)
		}
	}
	if v, ok := get("CONCURRENT"); ok {
		if c.Concurrent, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("%sCONCURRENT: %w", EnvPrefix, err)
		}
	}
	if v, ok := get("HEADLESS"); ok {
		if c.Headless, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("%sHEADLESS: %w", EnvPrefix, err)
		}
	}
	if v, ok := get("RADIUS"); ok {
		if c.Radius, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("%sRADIUS: %w", EnvPrefix, err)
		}
	}
	if v, ok := get("PROGRESS"); ok {
		if c.Progress, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("%sPROGRESS: %w", EnvPrefix, err)
		}
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.LogLevel = strings.ToLower(v)
	}
	if v, ok := get("LOG_FILE"); ok {
		c.LogFile = v
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field and reports all violations at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
