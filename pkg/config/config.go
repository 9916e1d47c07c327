package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "INSTABOT"

type Config struct {
	Frontend  string          `mapstructure:"frontend"`
	Log       LogConfig       `mapstructure:"log"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Typing    TypingConfig    `mapstructure:"typing"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Stats     StatsConfig     `mapstructure:"stats"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

type KnowledgeConfig struct {
	// Path to a YAML corpus. Empty uses the corpus built into the binary.
	Path string `mapstructure:"path"`
}

type TypingConfig struct {
	MinDelay      time.Duration `mapstructure:"min_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	ThinkingDelay time.Duration `mapstructure:"thinking_delay"`
	Seed          uint64        `mapstructure:"seed"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
	// EditEvery is how many revealed characters are batched into one
	// message edit.
	EditEvery int `mapstructure:"edit_every"`
	// IdleTimeout is how long a chat may stay quiet before its
	// conversation is dropped.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

type HTTPConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	AllowOrigins []string `mapstructure:"allow_origins"`
	APIKey       string   `mapstructure:"api_key"`
}

type StatsConfig struct {
	Driver   string         `mapstructure:"driver"`
	Path     string         `mapstructure:"path"`
	Database DatabaseConfig `mapstructure:"database"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		if _, err := fmt.Sscanf(u.Port(), "%d", &port); err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port %q", u.Port())
		}
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("frontend", "console")
	v.SetDefault("log.development", false)
	v.SetDefault("knowledge.path", "")

	v.SetDefault("typing.min_delay", "20ms")
	v.SetDefault("typing.max_delay", "50ms")
	v.SetDefault("typing.thinking_delay", "1s")
	v.SetDefault("typing.seed", 0)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.edit_every", 40)
	v.SetDefault("telegram.idle_timeout", "30m")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.allow_origins", []string{"*"})
	v.SetDefault("http.api_key", "")

	v.SetDefault("stats.driver", "memory")
	v.SetDefault("stats.path", "./data/stats.db")
	v.SetDefault("stats.database.host", "localhost")
	v.SetDefault("stats.database.port", 5432)
	v.SetDefault("stats.database.user", "postgres")
	v.SetDefault("stats.database.password", "")
	v.SetDefault("stats.database.dbname", "instabot")
	v.SetDefault("stats.database.sslmode", "disable")
}

// LoadConfig reads the YAML file at path (or config.yaml from . and ./config
// when path is empty) and applies INSTABOT_* environment overrides. A missing
// file is not an error.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Unprefixed variables kept for hosting platforms that inject them.
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Stats.Database = dbConfig
		config.Stats.Driver = "postgres"
	}
	if token := os.Getenv("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Frontend {
	case "console", "http":
	case "telegram":
		if c.Telegram.Token == "" {
			return errors.New("telegram frontend requires telegram.token")
		}
	default:
		return fmt.Errorf("unknown frontend %q", c.Frontend)
	}

	switch c.Stats.Driver {
	case "memory", "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown stats driver %q", c.Stats.Driver)
	}

	if c.Typing.MinDelay <= 0 || c.Typing.MaxDelay <= 0 {
		return errors.New("typing delays must be positive")
	}
	if c.Typing.MinDelay > c.Typing.MaxDelay {
		return fmt.Errorf("typing.min_delay %s exceeds typing.max_delay %s", c.Typing.MinDelay, c.Typing.MaxDelay)
	}
	if c.Typing.ThinkingDelay < 0 {
		return errors.New("typing.thinking_delay must not be negative")
	}
	if c.Telegram.EditEvery <= 0 {
		c.Telegram.EditEvery = 1
	}
	if c.Telegram.IdleTimeout < 0 {
		return errors.New("telegram.idle_timeout must not be negative")
	}
	return nil
}

// Address returns the HTTP listen address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}
