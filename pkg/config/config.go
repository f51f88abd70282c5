package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
)

// Config enumerates every knob the aggregator reads. All values come from
// config.yaml and/or environment variables (AutomaticEnv with "_" replacer),
// so nothing is fetched from ambient state after startup.
type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`

	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`

	TLS struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`

	Database struct {
		Type        string `mapstructure:"TYPE"` // mysql | postgres | sqlite
		Host        string `mapstructure:"HOST"`
		Port        string `mapstructure:"PORT"`
		DBName      string `mapstructure:"DBNAME"`
		User        string `mapstructure:"USER"`
		Password    string `mapstructure:"PASSWORD"`
		SSLMode     string `mapstructure:"SSLMODE"`
		Timezone    string `mapstructure:"TIMEZONE"`
		AutoMigrate bool   `mapstructure:"AUTO_MIGRATE"`

		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConn     int           `mapstructure:"MAX_OPEN_CONN"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`

	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`

	Postback struct {
		BaseURL string        `mapstructure:"BASE_URL"`
		Timeout time.Duration `mapstructure:"TIMEOUT"`
	} `mapstructure:"POSTBACK"`

	Aggregation struct {
		// ScopeMode controls how pending amounts are pooled: one global pool,
		// one pool per offer, or one pool per vertical.
		ScopeMode        string `mapstructure:"SCOPE_MODE"` // global | offer | vertical
		DefaultThreshold string `mapstructure:"DEFAULT_THRESHOLD"`
		// PassthroughUnknownOffers forwards conversions for offers missing
		// from the registry without touching the cache. Off means reject.
		PassthroughUnknownOffers bool `mapstructure:"PASSTHROUGH_UNKNOWN_OFFERS"`
	} `mapstructure:"AGGREGATION"`

	Sweep struct {
		Hour           int    `mapstructure:"HOUR"`
		Minute         int    `mapstructure:"MINUTE"`
		SchedulerToken string `mapstructure:"SCHEDULER_TOKEN"`
	} `mapstructure:"SWEEP"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Postback.BaseURL == "" {
		return nil, fmt.Errorf("POSTBACK_BASE_URL is required")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "convtrack-aggregator")

	v.SetDefault("HTTP_SERVER.ADDR", ":8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)

	v.SetDefault("DATABASE.TYPE", "mysql")
	v.SetDefault("DATABASE.PORT", "3306")
	v.SetDefault("DATABASE.AUTO_MIGRATE", true)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONN", 10)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME", 10*time.Minute)

	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 30*time.Second)

	v.SetDefault("POSTBACK.TIMEOUT", 10*time.Second)

	v.SetDefault("AGGREGATION.SCOPE_MODE", "vertical")
	v.SetDefault("AGGREGATION.DEFAULT_THRESHOLD", "10.00")
	v.SetDefault("AGGREGATION.PASSTHROUGH_UNKNOWN_OFFERS", true)

	v.SetDefault("SWEEP.HOUR", 1)
	v.SetDefault("SWEEP.MINUTE", 0)
}
