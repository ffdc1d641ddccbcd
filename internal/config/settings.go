package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultAPIBaseURL     = "http://localhost:8000"
	defaultAPIKey         = "localops-dev-key"
	defaultAPITimeout     = 10 * time.Second
	defaultPollInterval   = 2 * time.Second
	defaultMaxReconnects  = 5
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
	defaultUILogLines     = 5000
)

const (
	EnvAPIBase  = "LOCALOPS_API_BASE"
	EnvAPIKey   = "LOCALOPS_API_KEY"
	EnvLogLevel = "LOCALOPS_LOG_LEVEL"
)

type CoreConfig struct {
	API     CoreAPIConfig     `toml:"api"`
	Poll    CorePollConfig    `toml:"poll"`
	Stream  CoreStreamConfig  `toml:"stream"`
	Logging CoreLoggingConfig `toml:"logging"`
	UI      UIConfig          `toml:"ui"`
}

type CoreAPIConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Timeout string `toml:"timeout"`
}

type CorePollConfig struct {
	Interval string `toml:"interval"`
}

type CoreStreamConfig struct {
	MaxReconnects  *int   `toml:"max_reconnects"`
	InitialBackoff string `toml:"initial_backoff"`
	MaxBackoff     string `toml:"max_backoff"`
	StopOnTerminal *bool  `toml:"stop_on_terminal"`
}

type CoreLoggingConfig struct {
	Level string `toml:"level"`
}

type UIConfig struct {
	LogLines int `toml:"log_lines"`
}

func DefaultCoreConfig() CoreConfig {
	maxReconnects := defaultMaxReconnects
	stopOnTerminal := true
	return CoreConfig{
		API: CoreAPIConfig{
			BaseURL: defaultAPIBaseURL,
			APIKey:  defaultAPIKey,
			Timeout: defaultAPITimeout.String(),
		},
		Poll: CorePollConfig{
			Interval: defaultPollInterval.String(),
		},
		Stream: CoreStreamConfig{
			MaxReconnects:  &maxReconnects,
			InitialBackoff: defaultInitialBackoff.String(),
			MaxBackoff:     defaultMaxBackoff.String(),
			StopOnTerminal: &stopOnTerminal,
		},
		Logging: CoreLoggingConfig{
			Level: "info",
		},
		UI: UIConfig{
			LogLines: defaultUILogLines,
		},
	}
}

// LoadCoreConfig reads config.toml from the data directory, then applies
// overrides from a .env file in the working directory and the environment.
func LoadCoreConfig() (CoreConfig, error) {
	path, err := CoreConfigPath()
	if err != nil {
		return CoreConfig{}, err
	}
	cfg, err := loadCoreConfigFromPath(path)
	if err != nil {
		return CoreConfig{}, err
	}
	if err := loadDotEnv(".env"); err != nil {
		return CoreConfig{}, err
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

func (c CoreConfig) APIBaseURL() string {
	base := strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	if base == "" {
		return defaultAPIBaseURL
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base
}

func (c CoreConfig) APIKey() string {
	key := strings.TrimSpace(c.API.APIKey)
	if key == "" {
		return defaultAPIKey
	}
	return key
}

func (c CoreConfig) APITimeout() time.Duration {
	return parseDuration(c.API.Timeout, defaultAPITimeout)
}

func (c CoreConfig) PollInterval() time.Duration {
	return parseDuration(c.Poll.Interval, defaultPollInterval)
}

func (c CoreConfig) StreamMaxReconnects() int {
	if c.Stream.MaxReconnects == nil || *c.Stream.MaxReconnects < 0 {
		return defaultMaxReconnects
	}
	return *c.Stream.MaxReconnects
}

func (c CoreConfig) StreamInitialBackoff() time.Duration {
	return parseDuration(c.Stream.InitialBackoff, defaultInitialBackoff)
}

func (c CoreConfig) StreamMaxBackoff() time.Duration {
	maxBackoff := parseDuration(c.Stream.MaxBackoff, defaultMaxBackoff)
	if initial := c.StreamInitialBackoff(); maxBackoff < initial {
		return initial
	}
	return maxBackoff
}

func (c CoreConfig) StopOnTerminal() bool {
	if c.Stream.StopOnTerminal == nil {
		return true
	}
	return *c.Stream.StopOnTerminal
}

func (c CoreConfig) LogLevel() string {
	level := strings.TrimSpace(c.Logging.Level)
	if level == "" {
		return "info"
	}
	return level
}

func (c CoreConfig) UILogLines() int {
	if c.UI.LogLines <= 0 {
		return defaultUILogLines
	}
	return c.UI.LogLines
}

func (c *CoreConfig) applyEnv(lookup func(string) (string, bool)) {
	if value, ok := lookup(EnvAPIBase); ok && strings.TrimSpace(value) != "" {
		c.API.BaseURL = value
	}
	if value, ok := lookup(EnvAPIKey); ok && strings.TrimSpace(value) != "" {
		c.API.APIKey = value
	}
	if value, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
}

func loadCoreConfigFromPath(path string) (CoreConfig, error) {
	cfg := DefaultCoreConfig()
	if err := readTOML(path, &cfg); err != nil {
		return CoreConfig{}, err
	}
	return cfg, nil
}

// loadDotEnv sets variables from path without overriding ones already present
// in the process environment. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func readTOML(path string, out any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return toml.Unmarshal(data, out)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
