package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"wireframe/internal/vectorize"
)

type Config struct {
	Run       RunConfig       `yaml:"run"`
	Artifact  ArtifactConfig  `yaml:"artifact"`
	Transform TransformConfig `yaml:"transform"`
	Model     ModelConfig     `yaml:"model"`
	Convert   ConvertConfig   `yaml:"convert"`
	RunLog    RunLogConfig    `yaml:"runlog"`
	Serve     ServeConfig     `yaml:"serve"`
}

type RunConfig struct {
	MissionID  string `yaml:"mission_id"`
	SourceDir  string `yaml:"source_dir"`
	SaveDir    string `yaml:"save_dir"`
	ScratchDir string `yaml:"scratch_dir"`
	// Models maps model names (roof_edge, boundary) to weight keys.
	Models map[string]string `yaml:"models"`
}

type ArtifactConfig struct {
	// Backend is memory, disk or s3.
	Backend string      `yaml:"backend"`
	Root    string      `yaml:"root"`
	S3      S3Config    `yaml:"s3"`
	Cache   CacheConfig `yaml:"cache"`
	Retry   RetryConfig `yaml:"retry"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	MaxBytes   int64         `yaml:"max_bytes"`
}

type RetryConfig struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
}

type TransformConfig struct {
	// Backend is gdal or native.
	Backend      string `yaml:"backend"`
	TranslateBin string `yaml:"gdal_translate"`
	DemBin       string `yaml:"gdaldem"`
	InfoBin      string `yaml:"gdalinfo"`
}

type ModelConfig struct {
	// Backend is command or fake.
	Backend string   `yaml:"backend"`
	Command []string `yaml:"command"`
}

type ConvertConfig struct {
	// Backend is command or fake.
	Backend string             `yaml:"backend"`
	Command []string           `yaml:"command"`
	Thin    vectorize.ThinSpec `yaml:"thin"`
}

type RunLogConfig struct {
	// Backend is memory, artifact or postgres.
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

type ServeConfig struct {
	// Addr enables the status server when set, e.g. ":8090".
	Addr string `yaml:"addr"`
}

func Default() *Config {
	return &Config{
		Run: RunConfig{Models: map[string]string{}},
		Artifact: ArtifactConfig{
			Backend: "disk",
			Root:    "data",
			S3:      S3Config{Region: "us-east-1", UseSSL: true},
			Cache:   CacheConfig{Enabled: true, TTL: 10 * time.Minute, MaxEntries: 64, MaxBytes: 512 << 20},
			Retry:   RetryConfig{Attempts: 3, BaseDelay: 200 * time.Millisecond},
		},
		Transform: TransformConfig{Backend: "gdal"},
		Model:     ModelConfig{Backend: "command"},
		Convert:   ConvertConfig{Backend: "command", Thin: vectorize.DefaultThinSpec()},
		RunLog:    RunLogConfig{Backend: "artifact"},
	}
}

// Load builds the configuration from defaults, an optional YAML file, the
// environment (including a .env file) and finally command-line flags.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("wireframe", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file")
	mission := fs.String("mission", "", "mission id")
	source := fs.String("source", "", "source directory (path or s3://bucket/prefix)")
	save := fs.String("save", "", "save directory (path or s3://bucket/prefix)")
	edge := fs.String("edge-model", "", "roof edge model weights key")
	boundary := fs.String("boundary-model", "", "boundary model weights key")
	serve := fs.String("serve", "", "status server address, e.g. :8090")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if path := firstNonEmpty(*configPath, os.Getenv("WIREFRAME_CONFIG")); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.Run.MissionID = firstNonEmpty(*mission, cfg.Run.MissionID)
	cfg.Run.SourceDir = firstNonEmpty(*source, cfg.Run.SourceDir)
	cfg.Run.SaveDir = firstNonEmpty(*save, cfg.Run.SaveDir)
	setModel(cfg, "roof_edge", *edge)
	setModel(cfg, "boundary", *boundary)
	cfg.Serve.Addr = normalizeAddr(firstNonEmpty(*serve, cfg.Serve.Addr))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Run.Models == nil {
		cfg.Run.Models = map[string]string{}
	}
	return nil
}

func applyEnv(cfg *Config) error {
	env := func(key string) string { return strings.TrimSpace(os.Getenv(key)) }

	cfg.Run.MissionID = firstNonEmpty(env("WIREFRAME_MISSION_ID"), cfg.Run.MissionID)
	cfg.Run.SourceDir = firstNonEmpty(env("WIREFRAME_SOURCE_DIR"), cfg.Run.SourceDir)
	cfg.Run.SaveDir = firstNonEmpty(env("WIREFRAME_SAVE_DIR"), cfg.Run.SaveDir)
	cfg.Run.ScratchDir = firstNonEmpty(env("WIREFRAME_SCRATCH_DIR"), cfg.Run.ScratchDir)
	setModel(cfg, "roof_edge", env("WIREFRAME_EDGE_MODEL"))
	setModel(cfg, "boundary", env("WIREFRAME_BOUNDARY_MODEL"))

	a := &cfg.Artifact
	a.Backend = firstNonEmpty(env("WIREFRAME_ARTIFACT_BACKEND"), a.Backend)
	a.Root = firstNonEmpty(env("WIREFRAME_ARTIFACT_ROOT"), a.Root)
	a.S3.Endpoint = firstNonEmpty(env("ARTIFACT_S3_ENDPOINT"), a.S3.Endpoint)
	a.S3.Region = firstNonEmpty(env("ARTIFACT_S3_REGION"), a.S3.Region)
	a.S3.AccessKey = firstNonEmpty(env("ARTIFACT_S3_ACCESS_KEY"), env("MINIO_ROOT_USER"), a.S3.AccessKey)
	a.S3.SecretKey = firstNonEmpty(env("ARTIFACT_S3_SECRET_KEY"), env("MINIO_ROOT_PASSWORD"), a.S3.SecretKey)
	a.S3.Bucket = firstNonEmpty(env("ARTIFACT_S3_BUCKET"), a.S3.Bucket)
	var errs []error
	if raw := env("ARTIFACT_S3_USE_SSL"); raw != "" {
		v, err := strconv.ParseBool(raw)
		errs = append(errs, wrapEnv("ARTIFACT_S3_USE_SSL", err))
		if err == nil {
			a.S3.UseSSL = v
		}
	}
	if raw := env("WIREFRAME_ARTIFACT_CACHE"); raw != "" {
		v, err := strconv.ParseBool(raw)
		errs = append(errs, wrapEnv("WIREFRAME_ARTIFACT_CACHE", err))
		if err == nil {
			a.Cache.Enabled = v
		}
	}
	if raw := env("WIREFRAME_ARTIFACT_RETRIES"); raw != "" {
		v, err := strconv.Atoi(raw)
		errs = append(errs, wrapEnv("WIREFRAME_ARTIFACT_RETRIES", err))
		if err == nil {
			a.Retry.Attempts = v
		}
	}

	cfg.Transform.Backend = firstNonEmpty(env("WIREFRAME_TRANSFORM_BACKEND"), cfg.Transform.Backend)
	cfg.Transform.TranslateBin = firstNonEmpty(env("GDAL_TRANSLATE_BIN"), cfg.Transform.TranslateBin)
	cfg.Transform.DemBin = firstNonEmpty(env("GDALDEM_BIN"), cfg.Transform.DemBin)
	cfg.Transform.InfoBin = firstNonEmpty(env("GDALINFO_BIN"), cfg.Transform.InfoBin)

	cfg.Model.Backend = firstNonEmpty(env("WIREFRAME_MODEL_BACKEND"), cfg.Model.Backend)
	if cmd := env("WIREFRAME_MODEL_COMMAND"); cmd != "" {
		cfg.Model.Command = strings.Fields(cmd)
	}
	cfg.Convert.Backend = firstNonEmpty(env("WIREFRAME_CONVERT_BACKEND"), cfg.Convert.Backend)
	if cmd := env("WIREFRAME_CONVERT_COMMAND"); cmd != "" {
		cfg.Convert.Command = strings.Fields(cmd)
	}

	cfg.RunLog.Backend = firstNonEmpty(env("WIREFRAME_RUNLOG_BACKEND"), cfg.RunLog.Backend)
	cfg.RunLog.DSN = firstNonEmpty(env("RUNLOG_PG_DSN"), cfg.RunLog.DSN)
	if cfg.RunLog.DSN != "" && env("WIREFRAME_RUNLOG_BACKEND") == "" {
		cfg.RunLog.Backend = "postgres"
	}

	cfg.Serve.Addr = firstNonEmpty(env("WIREFRAME_SERVE_ADDR"), cfg.Serve.Addr)
	return errors.Join(errs...)
}

func wrapEnv(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("invalid %s: %w", key, err)
}

func setModel(cfg *Config, name, ref string) {
	if strings.TrimSpace(ref) == "" {
		return
	}
	if cfg.Run.Models == nil {
		cfg.Run.Models = map[string]string{}
	}
	cfg.Run.Models[name] = strings.TrimSpace(ref)
}

func normalizeAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" || strings.Contains(addr, ":") {
		return addr
	}
	return ":" + addr
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Run.MissionID) == "" {
		errs = append(errs, errors.New("mission id is required"))
	}
	if strings.TrimSpace(c.Run.SourceDir) == "" {
		errs = append(errs, errors.New("source directory is required"))
	}
	if strings.TrimSpace(c.Run.SaveDir) == "" {
		errs = append(errs, errors.New("save directory is required"))
	}
	switch c.Artifact.Backend {
	case "memory":
	case "disk":
		if strings.TrimSpace(c.Artifact.Root) == "" {
			errs = append(errs, errors.New("artifact.root is required for the disk backend"))
		}
	case "s3":
		if strings.TrimSpace(c.Artifact.S3.Endpoint) == "" {
			errs = append(errs, errors.New("artifact.s3.endpoint is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown artifact backend %q", c.Artifact.Backend))
	}
	if !oneOf(c.Transform.Backend, "gdal", "native") {
		errs = append(errs, fmt.Errorf("unknown transform backend %q", c.Transform.Backend))
	}
	errs = append(errs, checkCommandBackend("model", c.Model.Backend, c.Model.Command))
	errs = append(errs, checkCommandBackend("convert", c.Convert.Backend, c.Convert.Command))
	switch c.RunLog.Backend {
	case "memory", "artifact":
	case "postgres":
		if strings.TrimSpace(c.RunLog.DSN) == "" {
			errs = append(errs, errors.New("runlog.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown runlog backend %q", c.RunLog.Backend))
	}
	return errors.Join(errs...)
}

func checkCommandBackend(section, backend string, command []string) error {
	switch backend {
	case "fake":
		return nil
	case "command":
		if len(command) == 0 {
			return fmt.Errorf("%s.command is required for the command backend", section)
		}
		return nil
	default:
		return fmt.Errorf("unknown %s backend %q", section, backend)
	}
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
