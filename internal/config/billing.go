package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingConfig is the billing policy: tax table, dunning windows and
// retry limits. It is reloadable at runtime; components read it through
// BillingConfigHolder on every use rather than caching it.
type BillingConfig struct {
	DefaultTaxRate  float64            `mapstructure:"defaultTaxRate"`
	CountryTaxRates map[string]float64 `mapstructure:"countryTaxRates"`

	DueDays         int `mapstructure:"dueDays"`
	SetupFeeDueDays int `mapstructure:"setupFeeDueDays"`
	GracePeriodDays int `mapstructure:"gracePeriodDays"`

	LoyaltyDiscountRate   float64 `mapstructure:"loyaltyDiscountRate"`
	LoyaltyTenureMonths   int     `mapstructure:"loyaltyTenureMonths"`
	ReactivationWindowHrs int     `mapstructure:"reactivationWindowHrs"`

	MaxRetryAttempts  int `mapstructure:"maxRetryAttempts"`
	RetryBackoffSecs  int `mapstructure:"retryBackoffSecs"`
	SweepBatchSize    int `mapstructure:"sweepBatchSize"`
	BulkGenBatchSize  int `mapstructure:"bulkGenBatchSize"`
	EnforceDelayHours int `mapstructure:"enforceDelayHours"`
	ReactivateDelayS  int `mapstructure:"reactivateDelaySecs"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		DefaultTaxRate: 0.15,
		CountryTaxRates: map[string]float64{
			"US": 0.08,
			"DE": 0.19,
			"GB": 0.20,
			"SG": 0.09,
		},
		DueDays:               15,
		SetupFeeDueDays:       1,
		GracePeriodDays:       7,
		LoyaltyDiscountRate:   0.05,
		LoyaltyTenureMonths:   12,
		ReactivationWindowHrs: 24,
		MaxRetryAttempts:      3,
		RetryBackoffSecs:      30,
		SweepBatchSize:        100,
		BulkGenBatchSize:      50,
		EnforceDelayHours:     24,
		ReactivateDelayS:      60,
	}
}

// TaxRateFor returns the flat tax rate for a customer country code.
func (c BillingConfig) TaxRateFor(country string) float64 {
	country = strings.ToUpper(strings.TrimSpace(country))
	if rate, ok := c.CountryTaxRates[country]; ok {
		return rate
	}
	return c.DefaultTaxRate
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/wireline")
	v.AddConfigPath(".")

	v.SetEnvPrefix("WIRELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &BillingConfigHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(DefaultBillingConfig())
		return holder, nil
	}

	cfg := DefaultBillingConfig()
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultBillingConfig()
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticBillingConfigHolder wraps a fixed config, used by tests.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.DefaultTaxRate < 0 {
		return errors.New("billing.defaultTaxRate cannot be negative")
	}
	for country, rate := range cfg.CountryTaxRates {
		if rate < 0 {
			return errors.New("billing.countryTaxRates." + country + " cannot be negative")
		}
	}
	if cfg.DueDays <= 0 {
		return errors.New("billing.dueDays must be positive")
	}
	if cfg.GracePeriodDays < 0 {
		return errors.New("billing.gracePeriodDays cannot be negative")
	}
	return nil
}
