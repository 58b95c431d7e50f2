package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DBSource    string `mapstructure:"db_source"`
	Port        string `mapstructure:"server_port"`
	Env         string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	StoreDriver string `mapstructure:"store_driver"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
	// SeedAccounts pre-creates accounts 1..N for the memory driver.
	SeedAccounts int            `mapstructure:"seed_accounts"`
	Merchant     MerchantConfig `mapstructure:"merchant"`
}

type MerchantConfig struct {
	Accounts           []string `mapstructure:"accounts"`
	UserKey            string   `mapstructure:"user_key"`
	MinSum             int64    `mapstructure:"min_sum"`
	MaxSum             int64    `mapstructure:"max_sum"`
	TimeoutMillis      int64    `mapstructure:"timeout_millis"`
	CanCancelCompleted bool     `mapstructure:"can_cancel_completed"`
	// Login and Key enable HTTP Basic auth on the RPC endpoint when Key is set.
	Login string `mapstructure:"login"`
	Key   string `mapstructure:"key"`
}

func (m MerchantConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMillis) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_source", "")
	v.SetDefault("server_port", "8080")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("store_driver", "postgres")
	v.SetDefault("auto_migrate", true)
	v.SetDefault("seed_accounts", 0)
	v.SetDefault("merchant.accounts", []string{"id"})
	v.SetDefault("merchant.user_key", "id")
	v.SetDefault("merchant.min_sum", 1000)
	v.SetDefault("merchant.max_sum", 100000)
	v.SetDefault("merchant.timeout_millis", 600*1000)
	v.SetDefault("merchant.can_cancel_completed", true)
	v.SetDefault("merchant.login", "Paycom")
	v.SetDefault("merchant.key", "")
}

// Load reads defaults, then the YAML file named by CONFIG_FILE (if any), then
// environment variables such as DB_SOURCE or MERCHANT_MIN_SUM.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DBSource == "" {
			return errors.New("DB_SOURCE environment variable is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}

	m := c.Merchant
	if len(m.Accounts) == 0 {
		return errors.New("merchant.accounts must name at least one field")
	}
	if !slices.Contains(m.Accounts, m.UserKey) {
		return fmt.Errorf("merchant.user_key %q is not listed in merchant.accounts", m.UserKey)
	}
	if m.MinSum < 0 || m.MinSum > m.MaxSum {
		return fmt.Errorf("invalid amount bounds [%d, %d]", m.MinSum, m.MaxSum)
	}
	if m.TimeoutMillis <= 0 {
		return errors.New("merchant.timeout_millis must be positive")
	}
	return nil
}
