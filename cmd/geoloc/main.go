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

// Command geoloc inspects geolocation arrays, transforms points through them
// and warps rasters referenced by them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// execute runs the root command. The configuration loaded before any command
// runs is stored in the Config carried by ctx.
func execute(ctx context.Context) error {
	return rootCommand.ExecuteContext(withConfig(ctx, &Config{}))
}

var rootCommand = &cobra.Command{
	Use:   "geoloc",
	Short: "geolocation array transformer",
	Long: `geoloc works on rasters georeferenced by geolocation arrays, described by
the KEY=VALUE entries of their GEOLOCATION metadata domain, e.g.

  geoloc info X_DATASET=lon.tif Y_DATASET=lat.tif PIXEL_OFFSET=0 PIXEL_STEP=1 LINE_OFFSET=0 LINE_STEP=1

X/Y datasets are single band TIFF files, read locally or from gs:// buckets.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, cfgFile)
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level, cfg.Log.Format)
		switch {
		case referencesGS(cmd, args):
			if err := registerGS(cmd.Context(), cfg.GS); err != nil {
				return err
			}
		case cmd.Name() == "serve":
			// requests may name gs:// datasets
			if err := registerGS(cmd.Context(), cfg.GS); err != nil {
				slog.Warn("gs:// datasets will not be readable", "error", err)
			}
		}
		slog.Debug("configuration loaded", "config", cfg)
		storeConfig(cmd.Context(), cfg)
		return nil
	},
}

func init() {
	rootCommand.AddCommand(infoCommand, transformCommand, warpCommand, serveCommand)
	pf := rootCommand.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ./geoloc.yaml if present)")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("gs.blocksize", "512k", "gs:// block size")
	pf.Int("gs.numblocks", 512, "number of gs:// blocks to cache")
	pf.Bool("gs.osio", false, "read gs:// objects through an osio adapter instead of the builtin handler")
	pf.String("gs.billing-project", "", "project billed for requester-pays buckets")
	pf.Float64("tolerance", 1e-6, "bilinear weight tolerance when locating coordinates")
	pf.Float64("polar-latitude", 80, "latitude poleward of which cells are solved in a polar plane")
	pf.Float64("edge", 0.5, "extrapolation margin beyond the outer samples, in cells")
	pf.Bool("no-fill", false, "do not fill invalid geolocation samples")
}
