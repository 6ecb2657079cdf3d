package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Feed      FeedConfig
	Grading   GradingConfig
	Admin     AdminConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	Development    bool
}

type FeedConfig struct {
	URL string
	// Format is "csv" or "html"; "auto" sniffs the response.
	Format          string
	TimeoutSec      int
	RefreshMinutes  int
	MaxAttempts     int
	CacheBust       bool
	BreakerFailures int
}

// GradingConfig carries the subject classification rules. Keyword matching is
// accent and case insensitive.
type GradingConfig struct {
	QualitativeLevels   []string
	ExceptionLevel      string
	QualitativeSubjects []string
}

type AdminConfig struct {
	Enabled      bool
	Username     string
	Password     string
	PasswordHash string
	SessionTTL   int
}

type SQLiteConfig struct {
	Enabled bool
	Path    string
	// HistoryRetentionDays bounds the load history; 0 keeps everything.
	HistoryRetentionDays int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLSec   int
}

type RateLimitConfig struct {
	LookupsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func (c FeedConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c FeedConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshMinutes) * time.Minute
}

func (c SQLiteConfig) HistoryRetention() time.Duration {
	return time.Duration(c.HistoryRetentionDays) * 24 * time.Hour
}

func (c AdminConfig) TTL() time.Duration {
	return time.Duration(c.SessionTTL) * time.Minute
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/boletin")

	v.SetEnvPrefix("BOLETIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Feed.Format {
	case "csv", "html", "auto":
	default:
		return fmt.Errorf("invalid feed.format %q", c.Feed.Format)
	}
	if c.Feed.RefreshMinutes < 0 {
		return fmt.Errorf("feed.refreshMinutes must not be negative")
	}
	if c.SQLite.HistoryRetentionDays < 0 {
		return fmt.Errorf("sqlite.historyRetentionDays must not be negative")
	}
	if c.Admin.Enabled && c.Admin.Password == "" && c.Admin.PasswordHash == "" {
		return fmt.Errorf("admin is enabled but neither admin.password nor admin.passwordHash is set")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 15)
	v.SetDefault("server.writeTimeout", 15)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.development", false)

	v.SetDefault("feed.url", "")
	v.SetDefault("feed.format", "auto")
	v.SetDefault("feed.timeoutSec", 20)
	v.SetDefault("feed.refreshMinutes", 10)
	v.SetDefault("feed.maxAttempts", 3)
	v.SetDefault("feed.cacheBust", true)
	v.SetDefault("feed.breakerFailures", 5)

	v.SetDefault("grading.qualitativeLevels", []string{"elemental"})
	v.SetDefault("grading.exceptionLevel", "superior")
	v.SetDefault("grading.qualitativeSubjects", []string{
		"animacion a la lectura",
		"orientacion vocacional y profesional",
	})

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password", "")
	v.SetDefault("admin.passwordHash", "")
	v.SetDefault("admin.sessionTTL", 120)

	v.SetDefault("sqlite.enabled", true)
	v.SetDefault("sqlite.path", "./data/boletin.db")
	v.SetDefault("sqlite.historyRetentionDays", 30)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlSec", 900)

	v.SetDefault("rateLimit.lookupsPerMinute", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
