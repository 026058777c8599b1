// Package config loads Hearth's configuration: a table-of-tables file
// (TOML or YAML, viper auto-detects by extension) keyed by plugin
// name, with CLI flags layered on top the way the teacher's cmd.go
// defines its flag set — generalized here from a single flat
// --config_file flag to the full spec.md §6 CLI surface
// (--bind/--server/--password/--config/--init/--root).
package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the peer's resolved configuration: identity/connection
// fields spec.md §6 names explicitly, plus the raw table-of-tables so
// plugins can decode their own sub-tables by name.
type Config struct {
	Bind     string `mapstructure:"bind"`
	Server   string `mapstructure:"server"`
	Password string `mapstructure:"password"`
	Root     string `mapstructure:"root"`

	v *viper.Viper
}

// Plugin decodes the sub-table registered under name into out. Plugins
// own their own schema; config itself never validates plugin-specific
// shape, per spec.md §4.6 ("plugins deserialize their own sub-tables
// by name").
func (c *Config) Plugin(name string, out interface{}) error {
	sub := c.v.Sub(name)
	if sub == nil {
		return fmt.Errorf("config: no table registered for plugin %q", name)
	}
	if err := sub.Unmarshal(out); err != nil {
		return fmt.Errorf("config: decode plugin %q: %w", name, err)
	}
	return nil
}

// OnChange installs fn to run whenever the backing file changes on
// disk, for hot-reload of non-identity settings (log level and other
// tunables that are safe to swap under a live runtime — never the
// process store's own identity-bearing fields).
func (c *Config) OnChange(fn func()) {
	c.v.OnConfigChange(func(fsnotify.Event) { fn() })
	c.v.WatchConfig()
}

// Load reads configuration from path (if non-empty) merged with flags,
// which take precedence. path may be empty: viper then searches
// ./hearth.{toml,yaml,json} and /etc/hearth/.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hearth")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hearth")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
