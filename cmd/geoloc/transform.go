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
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/airbusgeo/geoloc"
	"github.com/spf13/cobra"
)

var toPixel bool
var dstSRS string

var transformCommand = &cobra.Command{
	Use:   "transform KEY=VALUE...",
	Short: "transform points through a geolocation grid",
	Long: `transform reads "x y [z]" lines from stdin and writes their transformed
positions to stdout. By default x y are source pixel/line positions and the
output is in the coordinates of the geolocation arrays, or of --dst-srs when
given. With --to-pixel the direction is reversed. Points that cannot be
transformed are written as "nan nan".`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := configFrom(ctx)
		var dst geoloc.Referenced
		if dstSRS != "" {
			sr, err := geoloc.NewSpatialRef(dstSRS)
			if err != nil {
				return fmt.Errorf("--dst-srs: %w", err)
			}
			dst = geoloc.GeoTransformed{GeoTransform: geoloc.GeoTransform{0, 1, 0, 0, 0, 1}, SRS: sr}
		}
		tr, err := geoloc.NewTransformer(ctx, geoloc.Geolocated{Metadata: geoloc.MetadataFromList(args)}, dst, cfg.transformerOptions()...)
		if err != nil {
			return fmt.Errorf("load geolocation: %w", err)
		}
		return transformLines(tr, toPixel, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	transformCommand.Flags().BoolVarP(&toPixel, "to-pixel", "i", false, "transform coordinates to source pixel/line")
	transformCommand.Flags().StringVar(&dstSRS, "dst-srs", "", "output coordinate system, e.g. EPSG:3857")
}

// transformLines transforms every "x y [z]" line of r. Blank lines are
// skipped.
func transformLines(tr *geoloc.Transformer, dstToSrc bool, r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	bw := bufio.NewWriter(w)
	ln := 0
	for sc.Scan() {
		ln++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 || len(fields) > 3 {
			return fmt.Errorf("line %d: expecting \"x y [z]\", got %q", ln, sc.Text())
		}
		var xyz [3]float64
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return fmt.Errorf("line %d: %w", ln, err)
			}
			xyz[i] = v
		}
		ok, out := tr.TransformPoint(dstToSrc, xyz[0], xyz[1], xyz[2])
		switch {
		case !ok:
			fmt.Fprintln(bw, "nan nan")
		case len(fields) == 3:
			fmt.Fprintf(bw, "%.10g %.10g %.10g\n", out[0], out[1], out[2])
		default:
			fmt.Fprintf(bw, "%.10g %.10g\n", out[0], out[1])
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return bw.Flush()
}
