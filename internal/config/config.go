package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix = "CMDB"

	DefaultBaseURL      = "http://localhost:5000/api/v1"
	DefaultRefreshPath  = "/auth/refresh"
	DefaultTimeout      = 30 * time.Second
	DefaultLoginRoute   = "/login"
	DefaultLandingRoute = "/dashboard"
	DefaultLogLevel     = "info"
)

type Config struct {
	API     API     `mapstructure:"api" yaml:"api"`
	Storage Storage `mapstructure:"storage" yaml:"storage"`
	Console Console `mapstructure:"console" yaml:"console"`
	Log     Log     `mapstructure:"log" yaml:"log"`

	file string
}

type API struct {
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RefreshPath string        `mapstructure:"refresh_path" yaml:"refresh_path"`
}

// Storage.Path is the sqlite file holding the credential pair. Empty keeps
// credentials in memory only.
type Storage struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type Console struct {
	LoginRoute   string `mapstructure:"login_route" yaml:"login_route"`
	LandingRoute string `mapstructure:"landing_route" yaml:"landing_route"`
}

type Log struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		API: API{
			BaseURL:     DefaultBaseURL,
			Timeout:     DefaultTimeout,
			RefreshPath: DefaultRefreshPath,
		},
		Storage: Storage{Path: DefaultStoragePath()},
		Console: Console{
			LoginRoute:   DefaultLoginRoute,
			LandingRoute: DefaultLandingRoute,
		},
		Log: Log{Level: DefaultLogLevel},
	}
}

// DefaultStoragePath is credentials.db under the user's config directory.
func DefaultStoragePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".cmdbconsole", "credentials.db")
	}
	return filepath.Join(dir, "cmdbconsole", "credentials.db")
}

// Load reads file (YAML) on top of the defaults and applies CMDB_* environment
// overrides, e.g. CMDB_API_BASE_URL. A missing file is not an error.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Debug().Str("file", file).Msg("[Config] no config file, using defaults")
		} else {
			log.Debug().Str("file", v.ConfigFileUsed()).Msg("[Config] config file loaded")
		}
	}

	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	conf.file = file

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.refresh_path", d.API.RefreshPath)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("console.login_route", d.Console.LoginRoute)
	v.SetDefault("console.landing_route", d.Console.LandingRoute)
	v.SetDefault("log.level", d.Log.Level)
}

// File is the path the configuration was loaded from.
func (c *Config) File() string {
	return c.file
}

func (c *Config) Validate() error {
	base, err := url.Parse(c.API.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return errors.New("api.base_url must be an absolute URL")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return errors.New("api.base_url must use http or https")
	}
	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}
	if !strings.HasPrefix(c.API.RefreshPath, "/") {
		return errors.New("api.refresh_path must start with /")
	}
	if !strings.HasPrefix(c.Console.LoginRoute, "/") || !strings.HasPrefix(c.Console.LandingRoute, "/") {
		return errors.New("console routes must start with /")
	}
	if c.Console.LoginRoute == c.Console.LandingRoute {
		return errors.New("console.login_route must be different from console.landing_route")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level is invalid: %w", err)
	}
	return nil
}

// LogLevel parses Log.Level, falling back to info.
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Save writes the configuration as YAML to file, or to the file it was loaded
// from when file is empty.
func (c *Config) Save(file string) error {
	if file == "" {
		file = c.file
	}
	if file == "" {
		return errors.New("no config file to save to")
	}
	if err := c.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(file, data, 0o600); err != nil {
		return err
	}

	log.Info().Msgf("Configuration saved to %s", file)
	return nil
}
