// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Daemon configuration backed by viper, with snapshot reads and reload
// listeners.

package control

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Hold keeps a node at value for as long as the daemon runs.
type Hold struct {
	Name  string `mapstructure:"name"`
	Path  string `mapstructure:"path"`
	Value int32  `mapstructure:"value"`
}

// Boost sets a node once, for a bounded duration, when applied.
type Boost struct {
	Name     string        `mapstructure:"name"`
	Path     string        `mapstructure:"path"`
	Value    int32         `mapstructure:"value"`
	Duration time.Duration `mapstructure:"duration"`
}

// Config is the daemon configuration.
type Config struct {
	LogLevel      string  `mapstructure:"log-level"`
	LogFormat     string  `mapstructure:"log-format"`
	MetricsListen string  `mapstructure:"metrics-listen"`
	CPU           int     `mapstructure:"cpu"`
	MaxEvents     int     `mapstructure:"max-events"`
	Holds         []Hold  `mapstructure:"holds"`
	Boosts        []Boost `mapstructure:"boosts"`
}

// SetDefaults installs default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "json")
	v.SetDefault("metrics-listen", "127.0.0.1:9477")
	v.SetDefault("cpu", -1)
	v.SetDefault("max-events", 128)
}

// BindEnv maps QOS_* environment variables onto config keys.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("QOS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// Decode reads and validates the configuration held by v.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks names are unique and every entry has a path.
func (c Config) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	check := func(kind, name, path string) {
		if name == "" {
			errs = append(errs, fmt.Errorf("%s without name (path %q)", kind, path))
		} else if seen[name] {
			errs = append(errs, fmt.Errorf("duplicate name %q", name))
		}
		seen[name] = true
		if path == "" {
			errs = append(errs, fmt.Errorf("%s %q: empty path", kind, name))
		}
	}
	for _, h := range c.Holds {
		check("hold", h.Name, h.Path)
	}
	for _, b := range c.Boosts {
		check("boost", b.Name, b.Path)
		if b.Duration <= 0 {
			errs = append(errs, fmt.Errorf("boost %q: duration must be positive", b.Name))
		}
	}
	return errors.Join(errs...)
}

// ConfigStore holds the current configuration with atomic snapshot and listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    Config
	listeners []func(Config)
}

// NewConfigStore decodes the initial configuration from v.
func NewConfigStore(v *viper.Viper) (*ConfigStore, error) {
	cfg, err := Decode(v)
	if err != nil {
		return nil, err
	}
	return &ConfigStore{v: v, config: cfg}, nil
}

// Snapshot returns the current configuration.
func (cs *ConfigStore) Snapshot() Config {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.config
}

// Reload re-reads the config file and, if it is valid, swaps it in and
// notifies listeners. An invalid file leaves the current config in place.
func (cs *ConfigStore) Reload() error {
	if cs.v.ConfigFileUsed() != "" {
		if err := cs.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	cfg, err := Decode(cs.v)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	cs.config = cfg
	listeners := slices.Clone(cs.listeners)
	cs.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// OnReload registers a listener hook called after every successful reload.
func (cs *ConfigStore) OnReload(fn func(Config)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
