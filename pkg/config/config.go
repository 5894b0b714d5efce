package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
)

type Config struct {
	AppEnv  string `mapstructure:"APP_ENV"`
	AppName string `mapstructure:"APP_NAME"`
	Server  struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type     string `mapstructure:"TYPE"`
		Host     string `mapstructure:"HOST"`
		Port     string `mapstructure:"PORT"`
		DBName   string `mapstructure:"DBNAME"`
		User     string `mapstructure:"USER"`
		Password string `mapstructure:"PASSWORD"`
		SSLMode  string `mapstructure:"SSLMODE"`
		Timezone string `mapstructure:"TIMEZONE"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Enabled     bool          `mapstructure:"ENABLED"`
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Admin struct {
		WalletAddress string `mapstructure:"WALLET_ADDRESS"`
	} `mapstructure:"ADMIN"`
	Event struct {
		DurationHours    float64 `mapstructure:"DURATION_HOURS"`
		MaxStakeSlots    int64   `mapstructure:"MAX_STAKE_SLOTS"`
		MaxRewardPoolUSD float64 `mapstructure:"MAX_REWARD_POOL_USD"`
		StakeAmountUSD   float64 `mapstructure:"STAKE_AMOUNT_USD"`
		RecipientAddress string  `mapstructure:"RECIPIENT_ADDRESS"`
	} `mapstructure:"EVENT"`
	Accrual struct {
		RatePerSecond     float64 `mapstructure:"RATE_PER_SECOND"`
		InitialBonus      float64 `mapstructure:"INITIAL_BONUS"`
		ReferralBonus     float64 `mapstructure:"REFERRAL_BONUS"`
		ReferralCopyBonus float64 `mapstructure:"REFERRAL_COPY_BONUS"`
	} `mapstructure:"ACCRUAL"`
	Reward struct {
		LuckySlotThreshold int64   `mapstructure:"LUCKY_SLOT_THRESHOLD"`
		LargeProbability   float64 `mapstructure:"LARGE_PROBABILITY"`
		RegularProbability float64 `mapstructure:"REGULAR_PROBABILITY"`
		LargeMinUSD        int     `mapstructure:"LARGE_MIN_USD"`
		LargeMaxUSD        int     `mapstructure:"LARGE_MAX_USD"`
		RegularMinUSD      int     `mapstructure:"REGULAR_MIN_USD"`
		RegularMaxUSD      int     `mapstructure:"REGULAR_MAX_USD"`
		ExchangeRate       float64 `mapstructure:"EXCHANGE_RATE"`
	} `mapstructure:"REWARD"`
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

	// A missing config file is fine; env vars and defaults still apply.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "stakearn-backend")
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", "15s")
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", "15s")
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", "60s")
	v.SetDefault("DATABASE.TYPE", "sqlite")
	v.SetDefault("DATABASE.DBNAME", "stakearn.db")
	v.SetDefault("REDIS.ENABLED", false)
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("EVENT.DURATION_HOURS", 24)
	v.SetDefault("EVENT.MAX_STAKE_SLOTS", 5000)
	v.SetDefault("EVENT.MAX_REWARD_POOL_USD", 10000)
	v.SetDefault("EVENT.STAKE_AMOUNT_USD", 100)
	v.SetDefault("ACCRUAL.RATE_PER_SECOND", 0.000115)
	v.SetDefault("ACCRUAL.INITIAL_BONUS", 50)
	v.SetDefault("ACCRUAL.REFERRAL_BONUS", 25)
	v.SetDefault("ACCRUAL.REFERRAL_COPY_BONUS", 10)
	v.SetDefault("REWARD.LUCKY_SLOT_THRESHOLD", 500)
	v.SetDefault("REWARD.LARGE_PROBABILITY", 0.1)
	v.SetDefault("REWARD.REGULAR_PROBABILITY", 0.5)
	v.SetDefault("REWARD.LARGE_MIN_USD", 50)
	v.SetDefault("REWARD.LARGE_MAX_USD", 100)
	v.SetDefault("REWARD.REGULAR_MIN_USD", 5)
	v.SetDefault("REWARD.REGULAR_MAX_USD", 25)
	v.SetDefault("REWARD.EXCHANGE_RATE", 10)
}
