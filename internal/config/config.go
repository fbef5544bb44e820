package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"bookshelf/internal/logging"

	"gopkg.in/yaml.v3"
)

// OpMode is how the import command gets its input - named files or stdin
type OpMode int

const (
	ModeFiles OpMode = iota
	ModePipe
)

func (m OpMode) String() string {
	if m == ModePipe {
		return "pipe"
	}
	return "files"
}

type Config struct {
	ServerAddr string `yaml:"server_addr"`

	// storage settings
	DatabasePath   string        `yaml:"database_path"`
	DBMaxOpenConns int           `yaml:"db_max_open_conns"`
	DBBusyTimeout  time.Duration `yaml:"db_busy_timeout"`

	// SecretKey guards write routes; empty leaves them open
	SecretKey string `yaml:"secret_key"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// snapshot settings
	ImportDir string `yaml:"import_dir"`
	ExportDir string `yaml:"export_dir"`

	// http server settings
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestSize  int64         `yaml:"max_request_size"`

	// OpMode is set at run time, never from a file
	OpMode OpMode `yaml:"-"`
}

// change here only as it populates both default and env aware configs
var cfgDefaults = map[string]string{
	"SERVER_ADDR": ":8080",
	// storage settings
	"DATABASE_PATH":     "data/bookshelf.db",
	"DB_MAX_OPEN_CONNS": "4",
	"DB_BUSY_TIMEOUT":   "5s",
	"SECRET_KEY":        "",
	// logging settings
	"LOG_LEVEL":  "info",
	"LOG_FORMAT": "text",
	// snapshot settings
	"IMPORT_DIR": "",
	"EXPORT_DIR": "exports",
	// http server settings
	"READ_TIMEOUT":     "5s",
	"WRITE_TIMEOUT":    "10s",
	"SHUTDOWN_TIMEOUT": "5s",
	"MAX_REQUEST_SIZE": "1048576",
}

const durationHelp = `a time duration value is a possibly signed sequence of decimal numbers, each with optional fraction and a unit suffix, such as "300ms", "-1.5h" or "2h45m"`

// Default return a configuration object with defaults so can bypass .env file or ENV vars
func Default() *Config {
	cfg := &Config{}
	// safe to ignore the error as the defaults are defined by us just above
	_ = cfg.apply(func(key string) (string, bool) { return cfgDefaults[key], true })
	return cfg
}

// Load builds a config in layers: defaults, then the YAML file at path (if
// any), then a ".env" file, then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	// Try to load a standard ".env" file. It's not an error if it doesn't exist.
	if err := loadEnvFile(".env"); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			// If it's some other relevant error return it.
			return nil, err
		}
	}

	if err := cfg.apply(lookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads a YAML config file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return errors.New("SERVER_ADDR is required")
	}
	if c.DatabasePath == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if c.DBMaxOpenConns < 1 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be at least 1, got %d", c.DBMaxOpenConns)
	}
	if c.DBBusyTimeout < 0 {
		return errors.New("DB_BUSY_TIMEOUT must not be negative")
	}
	if c.MaxRequestSize < 1 {
		return fmt.Errorf("MAX_REQUEST_SIZE must be positive, got %d", c.MaxRequestSize)
	}
	for name, d := range map[string]time.Duration{
		"READ_TIMEOUT":     c.ReadTimeout,
		"WRITE_TIMEOUT":    c.WriteTimeout,
		"SHUTDOWN_TIMEOUT": c.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: '%s'. valid options are 'text', 'json'", c.LogFormat)
	}
	return nil
}

// apply overwrites every field whose key lookup finds a value
func (c *Config) apply(lookup func(key string) (string, bool)) error {
	var errs []error

	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int64) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config error: %s should be a whole number, got %q", key, v))
			return
		}
		*dst = n
	}
	setDuration := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config error: %s: %s: %w", key, durationHelp, err))
			return
		}
		*dst = d
	}

	setString("SERVER_ADDR", &c.ServerAddr)
	setString("DATABASE_PATH", &c.DatabasePath)
	maxOpen := int64(c.DBMaxOpenConns)
	setInt("DB_MAX_OPEN_CONNS", &maxOpen)
	c.DBMaxOpenConns = int(maxOpen)
	setDuration("DB_BUSY_TIMEOUT", &c.DBBusyTimeout)
	setString("SECRET_KEY", &c.SecretKey)
	setString("LOG_LEVEL", &c.LogLevel)
	setString("LOG_FORMAT", &c.LogFormat)
	setString("IMPORT_DIR", &c.ImportDir)
	setString("EXPORT_DIR", &c.ExportDir)
	setDuration("READ_TIMEOUT", &c.ReadTimeout)
	setDuration("WRITE_TIMEOUT", &c.WriteTimeout)
	setDuration("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)
	setInt("MAX_REQUEST_SIZE", &c.MaxRequestSize)

	return errors.Join(errs...)
}

// lookupEnv returns the value of an environment var when it is set and non-empty
func lookupEnv(key string) (string, bool) {
	if value := os.Getenv(key); value != "" {
		return value, true
	}
	return "", false
}

// loadEnvFile exports the KEY=VALUE pairs in filename that the environment
// does not already set. Blank lines, # comments, an "export " prefix and
// matching quotes around a value are allowed.
func loadEnvFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("could not open env file %s: %w", filename, err)
	}

	for i, line := range strings.Split(string(data), "\n") {
		key, value, err := parseEnvLine(line)
		if err != nil {
			return fmt.Errorf("invalid line %d in %s: %w", i+1, filename, err)
		}
		if key == "" {
			continue
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
	return nil
}

// parseEnvLine returns an empty key for lines that carry no setting.
func parseEnvLine(line string) (string, string, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", nil
	}

	key, value, found := strings.Cut(strings.TrimPrefix(line, "export "), "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", fmt.Errorf("want KEY=VALUE, got %q", line)
	}

	value = strings.TrimSpace(value)
	if n := len(value); n >= 2 && (value[0] == '"' || value[0] == '\'') && value[n-1] == value[0] {
		value = value[1 : n-1]
	}
	return key, value, nil
}
