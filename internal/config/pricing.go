package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PricingConfig holds the credit amounts attached to billable actions.
// It is loaded from pricing.yml and hot-reloaded on change so credit
// costs can be tuned without a redeploy.
type PricingConfig struct {
	GenerationCosts       map[string]int64 `mapstructure:"generationCosts"`
	DefaultGenerationCost int64            `mapstructure:"defaultGenerationCost"`
	ReferrerReward        int64            `mapstructure:"referrerReward"`
	RefereeReward         int64            `mapstructure:"refereeReward"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		GenerationCosts: map[string]int64{
			"image": 5,
			"video": 50,
			"audio": 10,
		},
		DefaultGenerationCost: 5,
		ReferrerReward:        100,
		RefereeReward:         50,
	}
}

// PricingHolder exposes the current pricing config behind an atomic.Value.
type PricingHolder struct {
	current atomic.Value // holds PricingConfig
}

func NewPricingHolder(log *zap.Logger) (*PricingHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/artivio/config")
	v.AddConfigPath("/etc/artivio")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ARTIVIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultPricingConfig()
		v.SetDefault("pricing.generationCosts", defaults.GenerationCosts)
		v.SetDefault("pricing.defaultGenerationCost", defaults.DefaultGenerationCost)
		v.SetDefault("pricing.referrerReward", defaults.ReferrerReward)
		v.SetDefault("pricing.refereeReward", defaults.RefereeReward)
	}

	cfg, err := unmarshalPricing(v)
	if err != nil {
		return nil, err
	}

	holder := &PricingHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		next, err := unmarshalPricing(v)
		if err != nil {
			log.Warn("pricing config reload failed", zap.Error(err))
			return
		}
		holder.current.Store(next)
		log.Info("pricing config reloaded")
	})

	return holder, nil
}

// NewStaticPricingHolder builds a holder with a fixed config, used in tests.
func NewStaticPricingHolder(cfg PricingConfig) *PricingHolder {
	holder := &PricingHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *PricingHolder) Current() PricingConfig {
	return h.current.Load().(PricingConfig)
}

// GenerationCost resolves the credit cost for a generation kind.
func (h *PricingHolder) GenerationCost(kind string) int64 {
	cfg := h.Current()
	if cost, ok := cfg.GenerationCosts[strings.ToLower(strings.TrimSpace(kind))]; ok {
		return cost
	}
	return cfg.DefaultGenerationCost
}

func unmarshalPricing(v *viper.Viper) (PricingConfig, error) {
	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return PricingConfig{}, err
	}
	if err := validatePricing(cfg); err != nil {
		return PricingConfig{}, err
	}
	return cfg, nil
}

func validatePricing(cfg PricingConfig) error {
	if cfg.DefaultGenerationCost < 0 {
		return errors.New("defaultGenerationCost must not be negative")
	}
	for kind, cost := range cfg.GenerationCosts {
		if cost < 0 {
			return errors.New("generation cost for " + kind + " must not be negative")
		}
	}
	if cfg.ReferrerReward < 0 || cfg.RefereeReward < 0 {
		return errors.New("referral rewards must not be negative")
	}
	return nil
}
