package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides (VOICE_HTTP_ADDR, ...)
const EnvPrefix = "VOICE"

// ErrInvalidCallRecord is returned when the callrecord section names an
// unknown backend or misses a field the backend needs.
var ErrInvalidCallRecord = errors.New("invalid callrecord configuration")

// Error is returned by Load when the configuration file cannot be read or
// does not match the expected schema.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config represents the application configuration
type Config struct {
	HTTPAddr       string            `toml:"http_addr" yaml:"http_addr" envconfig:"HTTP_ADDR"`
	LogLevel       string            `toml:"log_level,omitempty" yaml:"log_level,omitempty" envconfig:"LOG_LEVEL"`
	LogFile        string            `toml:"log_file,omitempty" yaml:"log_file,omitempty" envconfig:"LOG_FILE"`
	Console        *ConsoleConfig    `toml:"console,omitempty" yaml:"console,omitempty" ignored:"true"`
	RecorderPath   string            `toml:"recorder_path" yaml:"recorder_path" envconfig:"RECORDER_PATH"`
	CallRecord     *CallRecordConfig `toml:"callrecord,omitempty" yaml:"callrecord,omitempty" ignored:"true"`
	MediaCachePath string            `toml:"media_cache_path" yaml:"media_cache_path" envconfig:"MEDIA_CACHE_PATH"`
	LLMProxy       string            `toml:"llmproxy,omitempty" yaml:"llmproxy,omitempty" envconfig:"LLMPROXY"`
	ICEServers     []ICEServer       `toml:"ice_servers,omitempty" yaml:"ice_servers,omitempty" ignored:"true"`
}

// ConsoleConfig describes the admin console prefix
type ConsoleConfig struct {
	Prefix   string `toml:"prefix" yaml:"prefix"`
	Username string `toml:"username,omitempty" yaml:"username,omitempty"`
	Password string `toml:"password,omitempty" yaml:"password,omitempty"`
}

// ICEServer is a STUN/TURN relay handed to the media engine
type ICEServer struct {
	URLs     []string `toml:"urls" yaml:"urls" json:"urls"`
	Username string   `toml:"username,omitempty" yaml:"username,omitempty" json:"username,omitempty"`
	Password string   `toml:"password,omitempty" yaml:"password,omitempty" json:"credential,omitempty"`
}

// Load reads the configuration file at path. TOML is the default format;
// files ending in .yaml or .yml are decoded as YAML. Environment variables
// prefixed with VOICE_ override file values.
//
// An empty path yields Default() with environment overrides applied.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		if err := envconfig.Process(EnvPrefix, cfg); err != nil {
			return nil, &Error{Err: fmt.Errorf("failed to process environment variables: %w", err)}
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("failed to read config file: %w", err)}
	}

	cfg := &Config{}
	var defined func(key string) bool
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw struct {
			CallRecord map[string]any `yaml:"callrecord"`
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &Error{Path: path, Err: fmt.Errorf("failed to parse config file: %w", err)}
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &Error{Path: path, Err: fmt.Errorf("failed to parse config file: %w", err)}
		}
		defined = func(key string) bool {
			_, ok := raw.CallRecord[key]
			return ok
		}
	default:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, &Error{Path: path, Err: fmt.Errorf("failed to parse config file: %w", err)}
		}
		defined = func(key string) bool { return md.IsDefined("callrecord", key) }
	}

	if err := checkCallRecordKeys(cfg.CallRecord, defined); err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("failed to parse config file: %w", err)}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("failed to process environment variables: %w", err)}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("invalid configuration: %w", err)}
	}

	return cfg, nil
}

// s3RequiredKeys must appear in an s3 callrecord section, even when empty
var s3RequiredKeys = []string{"region", "access_key", "secret_key", "root"}

func checkCallRecordKeys(cr *CallRecordConfig, defined func(key string) bool) error {
	if cr == nil || cr.Type != CallRecordS3 {
		return nil
	}
	for _, key := range s3RequiredKeys {
		if !defined(key) {
			return fmt.Errorf("%w: s3 %s is required", ErrInvalidCallRecord, key)
		}
	}
	return nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		HTTPAddr:       "0.0.0.0:8080",
		LogLevel:       "info",
		Console:        &ConsoleConfig{Prefix: "/console"},
		RecorderPath:   defaultPath("recorder"),
		MediaCachePath: defaultPath("mediacache"),
	}
}

// defaultPath is relative to the working directory on Windows and under /tmp elsewhere
func defaultPath(name string) string {
	if runtime.GOOS == "windows" {
		return "./" + name
	}
	return "/tmp/" + name
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}

	if c.RecorderPath == "" {
		return fmt.Errorf("recorder_path is required")
	}

	if c.MediaCachePath == "" {
		return fmt.Errorf("media_cache_path is required")
	}

	if c.CallRecord != nil {
		if err := c.CallRecord.Validate(); err != nil {
			return err
		}
	}

	for i, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("ice_servers[%d]: at least one url is required", i)
		}
	}

	return nil
}

// Marshal encodes the configuration as TOML
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}
