// Package config loads Provify settings.
//
// Precedence, lowest first: defaults < user config (~/.provify/config.yaml)
// < project config (.provify/config.yaml, searched upward from the working
// directory) < PROVIFY_* environment variables < explicit overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	KeyStorageBackend = "storage.backend"
	KeyStorageDir     = "storage.dir"

	KeyServerAddr = "server.addr"

	KeyLogLevel  = "log.level"
	KeyLogFormat = "log.format"

	KeyOracleCommand       = "oracle.command"
	KeyOracleArgs          = "oracle.args"
	KeyOracleTimeout       = "oracle.timeout"
	KeyOracleMaxSteps      = "oracle.max_steps"
	KeyOracleMaxStepLength = "oracle.max_step_length"

	KeyDevicesCommand = "devices.command"
	KeyDevicesStatic  = "devices.static"

	KeyAIEnabled           = "ai.enabled"
	KeyAIModel             = "ai.model"
	KeyAITimeout           = "ai.timeout"
	KeyAIMaxRetries        = "ai.max_retries"
	KeyAIRequestsPerSecond = "ai.requests_per_second"
	KeyAIMaxConcurrent     = "ai.max_concurrent"
)

const (
	envPrefix = "PROVIFY"
	dirName   = ".provify"

	// APIKeyEnv holds the Anthropic key; it is never read from config files.
	APIKeyEnv = "ANTHROPIC_API_KEY"
)

// Storage backends
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Config is the fully resolved configuration
type Config struct {
	Storage StorageConfig
	Server  ServerConfig
	Log     LogConfig
	Oracle  OracleConfig
	Devices DevicesConfig
	AI      AIConfig
}

// StorageConfig selects and locates the bug store backend
type StorageConfig struct {
	Backend string
	Dir     string
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Addr string
}

// LogConfig configures slog output
type LogConfig struct {
	Level  string
	Format string
}

// OracleConfig configures the verification agent process
type OracleConfig struct {
	Command       string
	Args          []string
	Timeout       time.Duration
	MaxSteps      int
	MaxStepLength int
}

// DevicesConfig configures target discovery.
// When Static is non-empty discovery never shells out.
type DevicesConfig struct {
	Command string
	Static  []string
}

// AIConfig configures the LLM-backed resolvers
type AIConfig struct {
	Enabled           bool
	APIKey            string
	Model             string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	MaxConcurrent     int
}

type loadSettings struct {
	workingDir        string
	projectConfigPath string
	userConfigPath    string
	overrides         map[string]any
}

// Option configures Load behaviour
type Option func(*loadSettings)

// WithWorkingDir overrides the directory used for project config discovery.
func WithWorkingDir(dir string) Option {
	return func(s *loadSettings) {
		s.workingDir = dir
	}
}

// WithProjectConfig explicitly sets the project config path instead of discovery.
func WithProjectConfig(path string) Option {
	return func(s *loadSettings) {
		s.projectConfigPath = path
	}
}

// WithUserConfig overrides the default user config path.
func WithUserConfig(path string) Option {
	return func(s *loadSettings) {
		s.userConfigPath = path
	}
}

// WithOverrides injects values that win over every other source, typically CLI flags.
func WithOverrides(overrides map[string]any) Option {
	return func(s *loadSettings) {
		s.overrides = overrides
	}
}

// Load resolves the configuration and validates it.
func Load(opts ...Option) (*Config, error) {
	settings := loadSettings{}
	for _, opt := range opts {
		opt(&settings)
	}

	v, err := newViper(&settings)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Storage: StorageConfig{
			Backend: strings.ToLower(strings.TrimSpace(v.GetString(KeyStorageBackend))),
			Dir:     v.GetString(KeyStorageDir),
		},
		Server: ServerConfig{
			Addr: v.GetString(KeyServerAddr),
		},
		Log: LogConfig{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
		},
		Oracle: OracleConfig{
			Command:       v.GetString(KeyOracleCommand),
			Args:          v.GetStringSlice(KeyOracleArgs),
			Timeout:       v.GetDuration(KeyOracleTimeout),
			MaxSteps:      v.GetInt(KeyOracleMaxSteps),
			MaxStepLength: v.GetInt(KeyOracleMaxStepLength),
		},
		Devices: DevicesConfig{
			Command: v.GetString(KeyDevicesCommand),
			Static:  v.GetStringSlice(KeyDevicesStatic),
		},
		AI: AIConfig{
			Enabled:           v.GetBool(KeyAIEnabled),
			APIKey:            os.Getenv(APIKeyEnv),
			Model:             v.GetString(KeyAIModel),
			Timeout:           v.GetDuration(KeyAITimeout),
			MaxRetries:        v.GetInt(KeyAIMaxRetries),
			RequestsPerSecond: v.GetFloat64(KeyAIRequestsPerSecond),
			MaxConcurrent:     v.GetInt(KeyAIMaxConcurrent),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration has valid values
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendJSON, BackendSQLite, BackendBolt:
	default:
		return fmt.Errorf("storage.backend must be one of json, sqlite, bolt (got %q)", c.Storage.Backend)
	}
	if strings.TrimSpace(c.Storage.Dir) == "" {
		return fmt.Errorf("storage.dir is required")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json (got %q)", c.Log.Format)
	}
	if strings.TrimSpace(c.Oracle.Command) == "" {
		return fmt.Errorf("oracle.command is required")
	}
	if c.Oracle.Timeout <= 0 {
		return fmt.Errorf("oracle.timeout must be positive (got %v)", c.Oracle.Timeout)
	}
	if c.Oracle.MaxSteps <= 0 || c.Oracle.MaxSteps > 10000 {
		return fmt.Errorf("oracle.max_steps must be between 1 and 10000 (got %d)", c.Oracle.MaxSteps)
	}
	if c.Oracle.MaxStepLength <= 0 || c.Oracle.MaxStepLength > 1<<16 {
		return fmt.Errorf("oracle.max_step_length must be between 1 and 65536 (got %d)", c.Oracle.MaxStepLength)
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("ai.timeout must be positive (got %v)", c.AI.Timeout)
	}
	if c.AI.MaxRetries < 0 || c.AI.MaxRetries > 10 {
		return fmt.Errorf("ai.max_retries must be between 0 and 10 (got %d)", c.AI.MaxRetries)
	}
	if c.AI.RequestsPerSecond <= 0 {
		return fmt.Errorf("ai.requests_per_second must be positive (got %v)", c.AI.RequestsPerSecond)
	}
	if c.AI.MaxConcurrent <= 0 {
		return fmt.Errorf("ai.max_concurrent must be positive (got %d)", c.AI.MaxConcurrent)
	}
	return nil
}

// AIAvailable reports whether the resolvers can call the model.
func (c *Config) AIAvailable() bool {
	return c.AI.Enabled && c.AI.APIKey != ""
}

// String returns a human-readable representation of the config; the API key is never printed.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Backend: %s, Dir: %s, Addr: %s, Log: %s/%s, Oracle: %s (timeout %v, steps %d x %d), "+
			"Devices: %s (static %d), AI: enabled=%t key=%t model=%s}",
		c.Storage.Backend, c.Storage.Dir, c.Server.Addr, c.Log.Level, c.Log.Format,
		c.Oracle.Command, c.Oracle.Timeout, c.Oracle.MaxSteps, c.Oracle.MaxStepLength,
		c.Devices.Command, len(c.Devices.Static), c.AI.Enabled, c.AI.APIKey != "", c.AI.Model,
	)
}

func newViper(settings *loadSettings) (*viper.Viper, error) {
	workingDir := strings.TrimSpace(settings.workingDir)
	if workingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
		workingDir = wd
	}

	userConfigPath := strings.TrimSpace(settings.userConfigPath)
	if userConfigPath == "" {
		path, err := defaultUserConfigPath()
		if err != nil {
			return nil, err
		}
		userConfigPath = path
	}

	projectConfigPath := strings.TrimSpace(settings.projectConfigPath)
	if projectConfigPath == "" {
		path, err := findProjectConfig(workingDir)
		if err != nil {
			return nil, err
		}
		projectConfigPath = path
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := mergeConfigFile(v, userConfigPath); err != nil {
		return nil, fmt.Errorf("load user config: %w", err)
	}
	if err := mergeConfigFile(v, projectConfigPath); err != nil {
		return nil, fmt.Errorf("load project config: %w", err)
	}
	for k, val := range settings.overrides {
		v.Set(k, val)
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyStorageBackend, BackendJSON)
	v.SetDefault(KeyStorageDir, ".")
	v.SetDefault(KeyServerAddr, ":8000")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyOracleCommand, "droidrun")
	v.SetDefault(KeyOracleArgs, []string{})
	v.SetDefault(KeyOracleTimeout, 10*time.Minute)
	v.SetDefault(KeyOracleMaxSteps, 50)
	v.SetDefault(KeyOracleMaxStepLength, 500)
	v.SetDefault(KeyDevicesCommand, "adb")
	v.SetDefault(KeyDevicesStatic, []string{})
	v.SetDefault(KeyAIEnabled, true)
	v.SetDefault(KeyAIModel, "claude-3-5-haiku-20241022")
	v.SetDefault(KeyAITimeout, 30*time.Second)
	v.SetDefault(KeyAIMaxRetries, 2)
	v.SetDefault(KeyAIRequestsPerSecond, 2.0)
	v.SetDefault(KeyAIMaxConcurrent, 2)
}

func mergeConfigFile(v *viper.Viper, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, dirName, "config.yaml"), nil
}

func findProjectConfig(startDir string) (string, error) {
	dir := startDir
	for {
		candidate := filepath.Join(dir, dirName, "config.yaml")
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config path %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}
