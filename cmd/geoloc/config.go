// Copyright 2021 Airbus Defence and Space
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/airbusgeo/geoloc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds the settings of the geoloc command, read from flags, the
// environment (GEOLOC_LOG_LEVEL, GEOLOC_GS_BLOCKSIZE, ...) and an optional
// geoloc.yaml file, in that order of precedence.
type Config struct {
	Log   LogConfig   `mapstructure:"log"`
	GS    GSConfig    `mapstructure:"gs"`
	Index IndexConfig `mapstructure:"index"`
	Serve ServeConfig `mapstructure:"serve"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type GSConfig struct {
	BlockSize      string `mapstructure:"blocksize"`
	NumBlocks      int    `mapstructure:"numblocks"`
	Osio           bool   `mapstructure:"osio"`
	BillingProject string `mapstructure:"billing_project"`
}

type IndexConfig struct {
	Tolerance     float64 `mapstructure:"tolerance"`
	PolarLatitude float64 `mapstructure:"polar_latitude"`
	Edge          float64 `mapstructure:"edge"`
	NoFill        bool    `mapstructure:"no_fill"`
}

type ServeConfig struct {
	Addr string `mapstructure:"addr"`
}

// configKeys maps configuration keys to the flags overriding them
var configKeys = map[string]string{
	"log.level":            "log-level",
	"log.format":           "log-format",
	"gs.blocksize":         "gs.blocksize",
	"gs.numblocks":         "gs.numblocks",
	"gs.osio":              "gs.osio",
	"gs.billing_project":   "gs.billing-project",
	"index.tolerance":      "tolerance",
	"index.polar_latitude": "polar-latitude",
	"index.edge":           "edge",
	"index.no_fill":        "no-fill",
	"serve.addr":           "addr",
}

func loadConfig(cmd *cobra.Command, file string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("gs.blocksize", "512k")
	v.SetDefault("gs.numblocks", 512)
	v.SetDefault("gs.osio", false)
	v.SetDefault("gs.billing_project", "")
	v.SetDefault("index.tolerance", 1e-6)
	v.SetDefault("index.polar_latitude", 80.0)
	v.SetDefault("index.edge", 0.5)
	v.SetDefault("index.no_fill", false)
	v.SetDefault("serve.addr", ":8080")

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("geoloc")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	// GEOLOC_INDEX_POLAR_LATITUDE -> index.polar_latitude
	v.SetEnvPrefix("GEOLOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		for key, name := range configKeys {
			f := cmd.Flags().Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configured values are usable
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format must be text or json, got %q", c.Log.Format))
	}
	if parseSize(c.GS.BlockSize) <= 0 {
		errs = append(errs, fmt.Sprintf("gs.blocksize: cannot parse %q", c.GS.BlockSize))
	}
	if c.GS.NumBlocks <= 0 {
		errs = append(errs, fmt.Sprintf("gs.numblocks must be positive, got %d", c.GS.NumBlocks))
	}
	if c.Index.Tolerance < 0 {
		errs = append(errs, fmt.Sprintf("index.tolerance must not be negative, got %g", c.Index.Tolerance))
	}
	if c.Index.PolarLatitude <= 0 || c.Index.PolarLatitude > 90 {
		errs = append(errs, fmt.Sprintf("index.polar_latitude must be in (0,90], got %g", c.Index.PolarLatitude))
	}
	if c.Index.Edge < 0 {
		errs = append(errs, fmt.Sprintf("index.edge must not be negative, got %g", c.Index.Edge))
	}
	if c.Serve.Addr == "" {
		errs = append(errs, "serve.addr is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// transformerOptions returns the options passed to every geoloc.NewTransformer
func (c *Config) transformerOptions() []geoloc.TransformerOption {
	opts := []geoloc.TransformerOption{
		geoloc.Tolerance(c.Index.Tolerance),
		geoloc.PolarLatitude(c.Index.PolarLatitude),
		geoloc.EdgeExtrapolation(c.Index.Edge),
	}
	if c.Index.NoFill {
		opts = append(opts, geoloc.NoFill())
	}
	return opts
}

type configKey struct{}

func withConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// storeConfig copies cfg into the Config carried by ctx, if any
func storeConfig(ctx context.Context, cfg *Config) {
	if ctx == nil {
		return
	}
	if dst, ok := ctx.Value(configKey{}).(*Config); ok && dst != nil {
		*dst = *cfg
	}
}

// configFrom returns the configuration stored in ctx, or the defaults when
// none was loaded
func configFrom(ctx context.Context) *Config {
	if ctx != nil {
		if cfg, ok := ctx.Value(configKey{}).(*Config); ok && cfg != nil && cfg.Log.Level != "" {
			return cfg
		}
	}
	cfg, err := loadConfig(nil, "")
	if err != nil {
		panic(err)
	}
	return cfg
}
