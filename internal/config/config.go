package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Env                string `mapstructure:"env"`
	LocalStackEndpoint string `mapstructure:"localstack_endpoint"`
	Market             MarketConfig
	Venue              VenueConfig
	Authority          AuthorityConfig
	Feed               FeedConfig
	Redis              RedisConfig
}

// MarketConfig holds the settlement engine's initialization parameters.
type MarketConfig struct {
	// EngineAddress is the identity under which the engine holds
	// transfer approvals and transient settlement custody.
	EngineAddress string `mapstructure:"engine_address"`
	FeeRecipient  string `mapstructure:"fee_recipient"`
	// FeeRate is a percentage of the settlement price (denominator 100).
	FeeRate int64 `mapstructure:"fee_rate"`
	// Currencies is a comma-separated list of approved ERC-20 addresses.
	// Currency codes are 1-based indexes into this list.
	Currencies string `mapstructure:"currencies"`
}

// CurrencyList splits the configured currency addresses.
func (m MarketConfig) CurrencyList() []string {
	if m.Currencies == "" {
		return nil
	}
	parts := strings.Split(m.Currencies, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// VenueConfig holds swap relay settings.
type VenueConfig struct {
	RelayAddress  string `mapstructure:"relay_address"`
	WrappedNative string `mapstructure:"wrapped_native"`
	// SwapDeadlineSec bounds how long a venue swap may stay pending.
	SwapDeadlineSec int `mapstructure:"swap_deadline_sec"`
}

// AuthorityConfig holds upgrade-authority settings.
type AuthorityConfig struct {
	Address   string `mapstructure:"address"`
	KMSKeyID  string `mapstructure:"kms_key_id"`
	AWSRegion string `mapstructure:"aws_region"`
	KeyTTLSec int    `mapstructure:"key_ttl_sec"`
	// KeyCiphertextPath points at the KMS-encrypted authority key. When
	// set alongside KMSKeyID, the keyholder is activated at startup.
	KeyCiphertextPath string `mapstructure:"key_ciphertext_path"`
}

// FeedConfig holds the websocket event feed settings.
type FeedConfig struct {
	WSAddr string `mapstructure:"ws_addr"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Load reads configuration from environment variables prefixed with AGORA_.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AGORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("env", "development")

	// Market defaults
	v.SetDefault("market.engine_address", "0x00000000000000000000000000000000000a90fa")
	v.SetDefault("market.fee_recipient", "")
	v.SetDefault("market.fee_rate", 1)
	v.SetDefault("market.currencies", "")

	// Venue defaults
	v.SetDefault("venue.relay_address", "0x00000000000000000000000000000000000d0e0f")
	v.SetDefault("venue.wrapped_native", "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
	v.SetDefault("venue.swap_deadline_sec", 120)

	// Authority defaults
	v.SetDefault("authority.address", "")
	v.SetDefault("authority.aws_region", "us-east-1")
	v.SetDefault("authority.key_ttl_sec", 3600)

	// Feed defaults
	v.SetDefault("feed.ws_addr", "localhost:8787")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	cfg := &Config{}

	cfg.Env = v.GetString("env")
	cfg.LocalStackEndpoint = v.GetString("localstack_endpoint")

	cfg.Market = MarketConfig{
		EngineAddress: v.GetString("market.engine_address"),
		FeeRecipient:  v.GetString("market.fee_recipient"),
		FeeRate:       v.GetInt64("market.fee_rate"),
		Currencies:    v.GetString("market.currencies"),
	}

	cfg.Venue = VenueConfig{
		RelayAddress:    v.GetString("venue.relay_address"),
		WrappedNative:   v.GetString("venue.wrapped_native"),
		SwapDeadlineSec: v.GetInt("venue.swap_deadline_sec"),
	}

	cfg.Authority = AuthorityConfig{
		Address:           v.GetString("authority.address"),
		KMSKeyID:          v.GetString("authority.kms_key_id"),
		AWSRegion:         v.GetString("authority.aws_region"),
		KeyTTLSec:         v.GetInt("authority.key_ttl_sec"),
		KeyCiphertextPath: v.GetString("authority.key_ciphertext_path"),
	}

	cfg.Feed = FeedConfig{
		WSAddr: v.GetString("feed.ws_addr"),
	}

	cfg.Redis = RedisConfig{
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	}

	return cfg, nil
}
