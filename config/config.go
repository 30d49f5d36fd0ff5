package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/xenn00/room-sync/internal/grouping"
	"github.com/xenn00/room-sync/internal/permission"
)

type AppSection struct {
	Name     string `mapstructure:"NAME" validate:"required"`
	Port     string `mapstructure:"PORT" validate:"required"`
	Env      string `mapstructure:"ENV" validate:"oneof=development production test"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
}

type BridgeSection struct {
	Mode           string        `mapstructure:"MODE" validate:"oneof=memory websocket"`
	URL            string        `mapstructure:"URL" validate:"required_if=Mode websocket"`
	Token          string        `mapstructure:"TOKEN"`
	UserID         string        `mapstructure:"USER_ID" validate:"required"`
	DialTimeout    time.Duration `mapstructure:"DIAL_TIMEOUT" validate:"gt=0"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT" validate:"gt=0"`
}

type RedisSection struct {
	Addr     string `mapstructure:"ADDR"`
	Password string `mapstructure:"PASSWORD"`
	DB       int    `mapstructure:"DB" validate:"gte=0"`
}

type SyncSection struct {
	FrameGap       time.Duration `mapstructure:"FRAME_GAP" validate:"gt=0"`
	CollectionGap  time.Duration `mapstructure:"COLLECTION_GAP" validate:"gtfield=FrameGap"`
	ArtifactTTL    time.Duration `mapstructure:"ARTIFACT_TTL" validate:"gt=0"`
	SweepInterval  time.Duration `mapstructure:"SWEEP_INTERVAL" validate:"gt=0"`
	ModeratorLevel int           `mapstructure:"MODERATOR_LEVEL" validate:"gt=0"`
	AdminLevel     int           `mapstructure:"ADMIN_LEVEL" validate:"gtefield=ModeratorLevel"`
	ReplyCacheTTL  time.Duration `mapstructure:"REPLY_CACHE_TTL" validate:"gt=0"`
}

type AuthSection struct {
	PublicKey  string `mapstructure:"PUBLIC_KEY" validate:"required"`
	PrivateKey string `mapstructure:"PRIVATE_KEY"`
}

type WorkerSection struct {
	Num      int `mapstructure:"NUM" validate:"gte=0"`
	MaxRetry int `mapstructure:"MAX_RETRY" validate:"gte=0"`
}

type ApiSection struct {
	RatePerSecond float64 `mapstructure:"RATE_PER_SECOND" validate:"gt=0"`
	Burst         int     `mapstructure:"BURST" validate:"gt=0"`
}

type AppConfig struct {
	App    AppSection    `mapstructure:"APP"`
	Bridge BridgeSection `mapstructure:"BRIDGE"`
	Redis  RedisSection  `mapstructure:"REDIS"`
	Sync   SyncSection   `mapstructure:"SYNC"`
	Auth   AuthSection   `mapstructure:"AUTH"`
	Worker WorkerSection `mapstructure:"WORKER"`
	Api    ApiSection    `mapstructure:"API"`
}

var Conf *AppConfig

var defaults = map[string]any{
	"app.name":               "room-sync",
	"app.port":               ":8080",
	"app.env":                "development",
	"app.log_level":          "info",
	"bridge.mode":            "memory",
	"bridge.url":             "",
	"bridge.token":           "",
	"bridge.user_id":         "@me:local",
	"bridge.dial_timeout":    "10s",
	"bridge.request_timeout": "15s",
	"redis.addr":             "",
	"redis.password":         "",
	"redis.db":               0,
	"sync.frame_gap":         "5m",
	"sync.collection_gap":    "1h",
	"sync.artifact_ttl":      "2m",
	"sync.sweep_interval":    "5s",
	"sync.moderator_level":   50,
	"sync.admin_level":       100,
	"sync.reply_cache_ttl":   "10m",
	"auth.public_key":        "public.pem",
	"auth.private_key":       "private.pem",
	"worker.num":             2,
	"worker.max_retry":       5,
	"api.rate_per_second":    20,
	"api.burst":              40,
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	cfg, err := load(viper.New(), false)
	if err != nil {
		panic(fmt.Sprintf("config defaults are invalid: %v", err))
	}
	return cfg
}

// LoadConfig reads .env, application.yaml and ROOMSYNC_* variables, in
// increasing priority, and stores the result in Conf.
func LoadConfig() error {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	cfg, err := load(v, true)
	if err != nil {
		return err
	}

	Conf = cfg
	log.Info().Str("bridgeMode", cfg.Bridge.Mode).Msg("configuration loaded...")
	return nil
}

func load(v *viper.Viper, readFile bool) (*AppConfig, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix("ROOMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if readFile {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
			log.Warn().Msg("application.yaml not found, using defaults and environment")
		}
	}

	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *AppConfig) GroupingOptions() grouping.Options {
	return grouping.Options{FrameGap: c.Sync.FrameGap, CollectionGap: c.Sync.CollectionGap}
}

func (c *AppConfig) Thresholds() permission.Thresholds {
	return permission.Thresholds{Moderator: c.Sync.ModeratorLevel, Admin: c.Sync.AdminLevel}
}
