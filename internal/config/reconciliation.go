package config

import (
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ReconciliationConfig tunes the reconciliation check battery.
type ReconciliationConfig struct {
	// DuplicateWindow is the time bucket used when grouping ledger entries for
	// duplicate-transaction detection.
	DuplicateWindow time.Duration `mapstructure:"duplicateWindow"`

	// AmountTolerance is the largest absolute difference (minor currency units)
	// that is still treated as a matching amount.
	AmountTolerance int64 `mapstructure:"amountTolerance"`

	// SeverityOverrides maps anomaly type to a severity that replaces the
	// built-in classification table.
	SeverityOverrides map[string]string `mapstructure:"severityOverrides"`

	// RunTimeout bounds a single reconciliation run.
	RunTimeout time.Duration `mapstructure:"runTimeout"`
}

func DefaultReconciliationConfig() ReconciliationConfig {
	return ReconciliationConfig{
		DuplicateWindow: 5 * time.Minute,
		AmountTolerance: 0,
		RunTimeout:      10 * time.Minute,
	}
}

// ReconciliationConfigHolder serves the current config and hot-reloads it when
// the underlying file changes.
type ReconciliationConfigHolder struct {
	current atomic.Value // holds ReconciliationConfig
}

func NewReconciliationConfigHolder() (*ReconciliationConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("reconciliation")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/kirimaja/config")
	v.AddConfigPath("/etc/kirimaja")
	v.AddConfigPath(".")

	v.SetEnvPrefix("KIRIMAJA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultReconciliationConfig()
		v.SetDefault("reconciliation.duplicateWindow", defaults.DuplicateWindow)
		v.SetDefault("reconciliation.amountTolerance", defaults.AmountTolerance)
		v.SetDefault("reconciliation.runTimeout", defaults.RunTimeout)
	}

	holder := &ReconciliationConfigHolder{}
	if err := holder.reload(v); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if err := holder.reload(v); err != nil {
			log.Printf("reconciliation config reload failed: %v", err)
		}
	})
	v.WatchConfig()

	return holder, nil
}

// StaticReconciliationConfigHolder wraps a fixed config, with no file watch.
func StaticReconciliationConfigHolder(cfg ReconciliationConfig) *ReconciliationConfigHolder {
	holder := &ReconciliationConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *ReconciliationConfigHolder) reload(v *viper.Viper) error {
	var cfg ReconciliationConfig
	if err := v.UnmarshalKey("reconciliation", &cfg); err != nil {
		return err
	}
	defaults := DefaultReconciliationConfig()
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = defaults.DuplicateWindow
	}
	if cfg.AmountTolerance < 0 {
		cfg.AmountTolerance = defaults.AmountTolerance
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaults.RunTimeout
	}
	h.current.Store(cfg)
	return nil
}

// Current returns the active reconciliation config.
func (h *ReconciliationConfigHolder) Current() ReconciliationConfig {
	if h == nil {
		return DefaultReconciliationConfig()
	}
	cfg, ok := h.current.Load().(ReconciliationConfig)
	if !ok {
		return DefaultReconciliationConfig()
	}
	return cfg
}
