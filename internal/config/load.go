package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: store.dsn is DUMPLOAD_STORE_DSN.
const EnvPrefix = "DUMPLOAD"

// FlagBindings maps config keys to the flag names that override them.
type FlagBindings map[string]string

// Load builds a Config from Default, the file at path (skipped when empty),
// the environment and the flags in fs named by bindings. A flag only wins
// when it was set on the command line.
func Load(path string, fs *pflag.FlagSet, bindings FlagBindings) (Config, error) {
	v := viper.New()
	def := Default()
	for key, val := range flatten(def) {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if fs != nil {
		for key, name := range bindings {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("config: bind --%s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// flatten lists every leaf of c under its dotted mapstructure key, so each
// key is known to viper and can be overridden from the environment.
func flatten(c Config) map[string]any {
	out := make(map[string]any)
	walk("", reflect.ValueOf(c), out)
	return out
}

func walk(prefix string, v reflect.Value, out map[string]any) {
	t := v.Type()
	for i := range t.NumField() {
		f := t.Field(i)
		key := f.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if f.Type.Kind() == reflect.Struct {
			walk(key, v.Field(i), out)
			continue
		}
		out[key] = v.Field(i).Interface()
	}
}
