package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const FileName = "sprintboard.yml"

const (
	ModeAuto   = "auto"
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// Config models sprintboard.yml.
type Config struct {
	Backend struct {
		Mode string `yaml:"mode"`
	} `yaml:"backend"`
	Local struct {
		Path string `yaml:"path"`
	} `yaml:"local"`
	Remote struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"remote"`
	KV struct {
		Driver        string `yaml:"driver"`
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
		Namespace     string `yaml:"namespace"`
	} `yaml:"kv"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		TokenTTL  string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Server struct {
		Addr      string  `yaml:"addr"`
		BasePath  string  `yaml:"base_path"`
		JoinRate  float64 `yaml:"join_rate"`
		JoinBurst int     `yaml:"join_burst"`
	} `yaml:"server"`
	Mirror struct {
		Webhooks []Webhook `yaml:"webhooks"`
	} `yaml:"mirror"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Webhook forwards backend events to URL. Empty Events means every event
// except initialized.
type Webhook struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
	Secret string   `yaml:"secret"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Backend.Mode {
	case ModeAuto, ModeLocal, ModeRemote:
	default:
		return fmt.Errorf("config.backend.mode must be auto, local or remote, got %q", c.Backend.Mode)
	}
	switch c.Remote.Driver {
	case "sqlite", "pgx", "postgres":
	default:
		return fmt.Errorf("config.remote.driver must be sqlite or pgx, got %q", c.Remote.Driver)
	}
	if c.Remote.Driver != "sqlite" && c.Remote.DSN == "" {
		return fmt.Errorf("config.remote.dsn is required for driver %s", c.Remote.Driver)
	}
	switch c.KV.Driver {
	case "sqlite":
	case "redis":
		if c.KV.RedisAddr == "" {
			return fmt.Errorf("config.kv.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("config.kv.driver must be sqlite or redis, got %q", c.KV.Driver)
	}
	if _, err := c.TokenTTL(); err != nil {
		return err
	}
	if c.Server.JoinRate < 0 || c.Server.JoinBurst < 0 {
		return fmt.Errorf("config.server.join_rate and join_burst must not be negative")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for i, h := range c.Mirror.Webhooks {
		if h.URL == "" {
			return fmt.Errorf("config.mirror.webhooks[%d].url is required", i)
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}

// TokenTTL parses auth.token_ttl; empty means zero, which callers treat as the default.
func (c *Config) TokenTTL() (time.Duration, error) {
	if c.Auth.TokenTTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Auth.TokenTTL)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("config.auth.token_ttl: invalid duration %q", c.Auth.TokenTTL)
	}
	return d, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Default returns the config used when no file exists.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads config from workspace, falling back to defaults when the file
// is missing, then applies overrides from v. A nil v skips overrides.
func Load(workspace string, v *viper.Viper) (*Config, error) {
	_ = godotenv.Load(filepath.Join(workspace, ".env"))
	cfg := Default()
	data, err := os.ReadFile(Path(workspace))
	switch {
	case err == nil:
		if cfg, err = decode(data); err != nil {
			return nil, err
		}
	case !os.IsNotExist(err):
		return nil, err
	}
	if v != nil {
		Overlay(cfg, v)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromYAML parses and validates config from raw YAML bytes. Keys left out
// keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	return cfg, nil
}

// Overlay copies every key set in v (flag or SPRINTBOARD_* env) over cfg.
func Overlay(cfg *Config, v *viper.Viper) {
	strs := map[string]*string{
		"backend.mode":      &cfg.Backend.Mode,
		"local.path":        &cfg.Local.Path,
		"remote.driver":     &cfg.Remote.Driver,
		"remote.dsn":        &cfg.Remote.DSN,
		"kv.driver":         &cfg.KV.Driver,
		"kv.redis_addr":     &cfg.KV.RedisAddr,
		"kv.redis_password": &cfg.KV.RedisPassword,
		"kv.namespace":      &cfg.KV.Namespace,
		"auth.jwt_secret":   &cfg.Auth.JWTSecret,
		"auth.token_ttl":    &cfg.Auth.TokenTTL,
		"server.addr":       &cfg.Server.Addr,
		"server.base_path":  &cfg.Server.BasePath,
		"log.level":         &cfg.Log.Level,
	}
	for key, dst := range strs {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	if v.IsSet("kv.redis_db") {
		cfg.KV.RedisDB = v.GetInt("kv.redis_db")
	}
	if v.IsSet("server.join_rate") {
		cfg.Server.JoinRate = v.GetFloat64("server.join_rate")
	}
	if v.IsSet("server.join_burst") {
		cfg.Server.JoinBurst = v.GetInt("server.join_burst")
	}
}

// NewViper returns a viper bound to SPRINTBOARD_* environment variables,
// where SPRINTBOARD_REMOTE_DSN maps to remote.dsn.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("SPRINTBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	return v
}

var envKeys = []string{
	"backend.mode", "local.path", "remote.driver", "remote.dsn",
	"kv.driver", "kv.redis_addr", "kv.redis_password", "kv.redis_db", "kv.namespace",
	"auth.jwt_secret", "auth.token_ttl",
	"server.addr", "server.base_path", "server.join_rate", "server.join_burst",
	"log.level",
}

const defaultTemplate = `backend:
  mode: auto

local:
  path: .sprintboard/local.db

remote:
  driver: sqlite
  dsn: ""

kv:
  driver: sqlite
  redis_addr: ""
  redis_db: 0
  namespace: sprintboard

auth:
  jwt_secret: ""
  token_ttl: 24h

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  join_rate: 1
  join_burst: 5

mirror:
  webhooks: []

log:
  level: info
`
