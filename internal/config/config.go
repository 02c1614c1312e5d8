// Package config resolves relaychatd settings from defaults, a TOML file,
// an optional .env file and RELAYCHAT_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/danmuck/relaychat/internal/protocol/frame"
)

const (
	EnvPrefix = "RELAYCHAT"

	DefaultListenAddr     = ":2000"
	DefaultMOTD           = "Welcome to the chat server! The first message you send will be your username!"
	DefaultWriteTimeout   = 5 * time.Second
	DefaultMaxUsernameLen = 32
	DefaultEnvFile        = ".env"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Config is the resolved server configuration.
type Config struct {
	ListenAddr     string        `validate:"required"`
	WSListenAddr   string        `validate:"omitempty,nefield=ListenAddr"`
	MetricsAddr    string        `validate:"omitempty,nefield=ListenAddr,nefield=WSListenAddr"`
	Debug          bool
	MOTD           string
	MaxFrameBytes  uint32        `validate:"gte=64"`
	WriteTimeout   time.Duration `validate:"gte=0"`
	MaxUsernameLen int           `validate:"gte=0,lte=1024"`
	BannedNames    []string      `validate:"dive,required"`
	LogLevel       string        `validate:"omitempty,oneof=trace debug info warn error disabled"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:     DefaultListenAddr,
		MOTD:           DefaultMOTD,
		MaxFrameBytes:  frame.DefaultLimits().MaxFrameBytes,
		WriteTimeout:   DefaultWriteTimeout,
		MaxUsernameLen: DefaultMaxUsernameLen,
		LogLevel:       "info",
	}
}

// FrameLimits returns the framing limits implied by the config.
func (c Config) FrameLimits() frame.Limits {
	return frame.Limits{MaxFrameBytes: c.MaxFrameBytes}
}

// LoadOptions selects the optional layers. An empty Path skips the TOML
// layer; an empty EnvFile tries DefaultEnvFile and ignores its absence.
type LoadOptions struct {
	Path    string
	EnvFile string
}

type fileConfig struct {
	Server  fileServer  `toml:"server"`
	General fileGeneral `toml:"general"`
}

type fileServer struct {
	ListenAddr    string `toml:"listen_addr"`
	WSListenAddr  string `toml:"ws_listen_addr"`
	MetricsAddr   string `toml:"metrics_addr"`
	Debug         bool   `toml:"debug"`
	MaxFrameBytes int64  `toml:"max_frame_bytes"`
	WriteTimeout  string `toml:"write_timeout"`
	LogLevel      string `toml:"log_level"`
}

type fileGeneral struct {
	MOTD           string   `toml:"motd"`
	MaxUsernameLen int      `toml:"max_username_len"`
	BannedNames    []string `toml:"banned_names"`
}

type envOverrides struct {
	ListenAddr     *string        `split_words:"true"`
	WSListenAddr   *string        `split_words:"true"`
	MetricsAddr    *string        `split_words:"true"`
	Debug          *bool
	MOTD           *string
	MaxFrameBytes  *uint32        `split_words:"true"`
	WriteTimeout   *time.Duration `split_words:"true"`
	MaxUsernameLen *int           `split_words:"true"`
	BannedNames    []string       `split_words:"true"`
	LogLevel       *string        `split_words:"true"`
}

var validate = validator.New()

// Load resolves the configuration layers and validates the result.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()
	if opts.Path != "" {
		if err := applyFile(opts.Path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg = sanitize(cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %s", ErrInvalidConfig, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func applyFile(path string, cfg *Config) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	if meta.IsDefined("server", "listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.Server.ListenAddr)
	}
	if meta.IsDefined("server", "ws_listen_addr") {
		cfg.WSListenAddr = strings.TrimSpace(raw.Server.WSListenAddr)
	}
	if meta.IsDefined("server", "metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.Server.MetricsAddr)
	}
	if meta.IsDefined("server", "debug") {
		cfg.Debug = raw.Server.Debug
	}
	if meta.IsDefined("server", "max_frame_bytes") {
		if raw.Server.MaxFrameBytes <= 0 || raw.Server.MaxFrameBytes > int64(^uint32(0)) {
			return fmt.Errorf("%w: max_frame_bytes out of range: %d", ErrInvalidConfig, raw.Server.MaxFrameBytes)
		}
		cfg.MaxFrameBytes = uint32(raw.Server.MaxFrameBytes)
	}
	if meta.IsDefined("server", "write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Server.WriteTimeout))
		if err != nil {
			return fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.WriteTimeout = d
	}
	if meta.IsDefined("server", "log_level") {
		cfg.LogLevel = raw.Server.LogLevel
	}
	if meta.IsDefined("general", "motd") {
		cfg.MOTD = raw.General.MOTD
	}
	if meta.IsDefined("general", "max_username_len") {
		cfg.MaxUsernameLen = raw.General.MaxUsernameLen
	}
	if meta.IsDefined("general", "banned_names") {
		cfg.BannedNames = raw.General.BannedNames
	}
	return nil
}

func loadEnvFile(path string) error {
	if path == "" {
		err := godotenv.Load(DefaultEnvFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", DefaultEnvFile, err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("load environment: %w", err)
	}
	if env.ListenAddr != nil {
		cfg.ListenAddr = *env.ListenAddr
	}
	if env.WSListenAddr != nil {
		cfg.WSListenAddr = *env.WSListenAddr
	}
	if env.MetricsAddr != nil {
		cfg.MetricsAddr = *env.MetricsAddr
	}
	if env.Debug != nil {
		cfg.Debug = *env.Debug
	}
	if env.MOTD != nil {
		cfg.MOTD = *env.MOTD
	}
	if env.MaxFrameBytes != nil {
		cfg.MaxFrameBytes = *env.MaxFrameBytes
	}
	if env.WriteTimeout != nil {
		cfg.WriteTimeout = *env.WriteTimeout
	}
	if env.MaxUsernameLen != nil {
		cfg.MaxUsernameLen = *env.MaxUsernameLen
	}
	if env.BannedNames != nil {
		cfg.BannedNames = env.BannedNames
	}
	if env.LogLevel != nil {
		cfg.LogLevel = *env.LogLevel
	}
	return nil
}

func sanitize(cfg Config) Config {
	cfg.ListenAddr = strings.TrimSpace(cfg.ListenAddr)
	cfg.WSListenAddr = strings.TrimSpace(cfg.WSListenAddr)
	cfg.MetricsAddr = strings.TrimSpace(cfg.MetricsAddr)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.BannedNames = normalizeNames(cfg.BannedNames)
	return cfg
}

func normalizeNames(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, name := range in {
		v := strings.TrimSpace(name)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
