package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode string `mapstructure:"mode"`

	// Client side.
	RelayEndpoint      string        `mapstructure:"relay_endpoint"`
	AuthToken          string        `mapstructure:"auth_token"`
	DisplayName        string        `mapstructure:"display_name"`
	ICEServers         []string      `mapstructure:"ice_servers"`
	JoinTimeout        time.Duration `mapstructure:"join_timeout"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	BackoffInitial     time.Duration `mapstructure:"backoff_initial"`
	BackoffMax         time.Duration `mapstructure:"backoff_max"`
	BackoffAttempts    int           `mapstructure:"backoff_attempts"`

	// Dev relay side.
	RelayPort  int           `mapstructure:"relay_port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("relay_endpoint", "ws://localhost:8080/ws/rooms")
	v.SetDefault("display_name", "guest")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("join_timeout", "10s")
	v.SetDefault("negotiation_timeout", "15s")
	v.SetDefault("backoff_initial", "500ms")
	v.SetDefault("backoff_max", "15s")
	v.SetDefault("backoff_attempts", 8)
	v.SetDefault("relay_port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "dev-secret")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
