package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that YAML decodes from strings like "3s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds gateway configuration. Values come from defaults, then an
// optional YAML file, then environment variables, in that order.
type Config struct {
	Env              string   `yaml:"env"`
	Port             string   `yaml:"port"`
	CORSAllowOrigins []string `yaml:"corsAllowOrigins"`
	DefaultRole      string   `yaml:"defaultRole"`

	Compute   ComputeConfig  `yaml:"compute"`
	Poll      PollConfig     `yaml:"poll"`
	Artifacts ArtifactConfig `yaml:"artifacts"`
	History   HistoryConfig  `yaml:"history"`
	Submit    SubmitConfig   `yaml:"submit"`
}

// ComputeConfig configures access to the remote analysis service.
type ComputeConfig struct {
	BaseURL string   `yaml:"baseURL"`
	Timeout Duration `yaml:"timeout"`
}

// PollConfig controls the job polling loop and the status endpoint throttle.
type PollConfig struct {
	Interval        Duration `yaml:"interval"`
	MaxAttempts     int      `yaml:"maxAttempts"`
	StatusWindow    Duration `yaml:"statusWindow"`
	SlotConcurrency int      `yaml:"slotConcurrency"`
}

// ArtifactConfig controls the local visualization payload store.
type ArtifactConfig struct {
	Dir           string   `yaml:"dir"`
	CapacityBytes int64    `yaml:"capacityBytes"`
	MaxEntryBytes int64    `yaml:"maxEntryBytes"`
	GCInterval    Duration `yaml:"gcInterval"`
	InMemory      bool     `yaml:"inMemory"`
}

// HistoryConfig controls history hydration from the analysis service.
type HistoryConfig struct {
	PageSize int `yaml:"pageSize"`
}

// SubmitConfig rate-limits analysis submissions per principal.
type SubmitConfig struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// Load builds the configuration: defaults, then the YAML file named by
// GATEWAY_CONFIG (if any), then environment variables.
func Load() (Config, error) {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	cfg := defaultConfig()

	if path := os.Getenv("GATEWAY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return cfg, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.Env = normalizeEnv(cfg.Env)
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Env:              "dev",
		Port:             "8080",
		CORSAllowOrigins: []string{"http://localhost:5173"},
		DefaultRole:      "viewer",
		Compute: ComputeConfig{
			BaseURL: "http://localhost:8000",
			Timeout: Duration(15 * time.Second),
		},
		Poll: PollConfig{
			Interval:        Duration(3 * time.Second),
			MaxAttempts:     60,
			StatusWindow:    Duration(time.Second),
			SlotConcurrency: 3,
		},
		Artifacts: ArtifactConfig{
			Dir:           "./data/artifacts",
			CapacityBytes: 4 << 20,
			MaxEntryBytes: 4 << 20,
			GCInterval:    Duration(5 * time.Minute),
		},
		History: HistoryConfig{PageSize: 50},
		Submit:  SubmitConfig{Rate: 0.5, Burst: 3},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("CORS_ALLOW_ORIGINS"); v != "" {
		cfg.CORSAllowOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("DEFAULT_ROLE"); v != "" {
		cfg.DefaultRole = v
	}
	if v := os.Getenv("COMPUTE_BASE_URL"); v != "" {
		cfg.Compute.BaseURL = v
	}
	setDuration(&cfg.Compute.Timeout, "COMPUTE_TIMEOUT")
	setDuration(&cfg.Poll.Interval, "POLL_INTERVAL")
	setInt(&cfg.Poll.MaxAttempts, "POLL_MAX_ATTEMPTS")
	setDuration(&cfg.Poll.StatusWindow, "POLL_STATUS_WINDOW")
	setInt(&cfg.Poll.SlotConcurrency, "SLOT_CONCURRENCY")
	if v := os.Getenv("ARTIFACT_DIR"); v != "" {
		cfg.Artifacts.Dir = v
	}
	setInt64(&cfg.Artifacts.CapacityBytes, "ARTIFACT_CAPACITY_BYTES")
	setInt64(&cfg.Artifacts.MaxEntryBytes, "ARTIFACT_MAX_ENTRY_BYTES")
	setDuration(&cfg.Artifacts.GCInterval, "ARTIFACT_GC_INTERVAL")
	if v := os.Getenv("ARTIFACT_IN_MEMORY"); v != "" {
		cfg.Artifacts.InMemory = strings.EqualFold(v, "true") || v == "1"
	}
	setInt(&cfg.History.PageSize, "HISTORY_PAGE_SIZE")
	if v := os.Getenv("SUBMIT_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Submit.Rate = f
		}
	}
	setInt(&cfg.Submit.Burst, "SUBMIT_BURST")
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

// loadEnvFiles loads simple KEY=VALUE pairs from the given files if they exist.
// It is a best-effort helper for local development; errors are ignored.
func loadEnvFiles(paths ...string) {
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.Trim(strings.TrimSpace(parts[1]), `"`)
			if key != "" {
				os.Setenv(key, val)
			}
		}
		_ = f.Close()
	}
}
