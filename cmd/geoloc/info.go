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
	"encoding/json"
	"fmt"

	"github.com/airbusgeo/geoloc"
	"github.com/spf13/cobra"
)

var footprintPoints int

type infoOutput struct {
	Size      [2]int            `json:"size"`
	GridSize  [2]int            `json:"gridSize"`
	SRS       string            `json:"srs"`
	Valid     int               `json:"valid"`
	Filled    geoloc.FillStats  `json:"filled"`
	Quads     int               `json:"quads"`
	Bounds    geoloc.Bounds     `json:"bounds"`
	Suggested *suggestedOutput  `json:"suggested,omitempty"`
	Footprint json.RawMessage   `json:"footprint,omitempty"`
	Metadata  map[string]string `json:"metadata"`
}

type suggestedOutput struct {
	GeoTransform geoloc.GeoTransform `json:"geotransform"`
	Width        int                 `json:"width"`
	Height       int                 `json:"height"`
}

var infoCommand = &cobra.Command{
	Use:   "info KEY=VALUE...",
	Short: "describe a geolocation grid",
	Long: `info loads the geolocation arrays described by the given GEOLOCATION
metadata entries and prints, as JSON, their size, validity, extent, the
suggested north-up output of a warp and the grid footprint as GeoJSON.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := configFrom(ctx)
		mdmap := geoloc.MetadataFromList(args)
		tr, err := geoloc.NewTransformer(ctx, geoloc.Geolocated{Metadata: mdmap}, nil, cfg.transformerOptions()...)
		if err != nil {
			return fmt.Errorf("load geolocation: %w", err)
		}
		gl := tr.SourceGeoloc()
		g := gl.Grid()
		w, h := gl.RasterSize()
		out := infoOutput{
			Size:     [2]int{w, h},
			GridSize: [2]int{g.Width, g.Height},
			SRS:      gl.SpatialRef().String(),
			Valid:    g.ValidCount(),
			Filled:   gl.FillStats(),
			Quads:    gl.Index().Quads(),
			Bounds:   gl.Index().Bounds(),
			Metadata: gl.Metadata().Map(),
		}
		if sgt, sw, sh, err := geoloc.SuggestedWarpOutput(tr); err == nil {
			out.Suggested = &suggestedOutput{GeoTransform: sgt, Width: sw, Height: sh}
		}
		if fp, err := geoloc.FootprintGeoJSON(g, footprintPoints); err == nil {
			out.Footprint = fp
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	infoCommand.Flags().IntVar(&footprintPoints, "footprint-points", 64, "maximum number of footprint vertices per side (0 for all)")
}
