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
	"fmt"
	"io"
	"log/slog"
	"os"

	"cloud.google.com/go/storage"
	"github.com/airbusgeo/cogger"
	"github.com/airbusgeo/geoloc"
	"github.com/spf13/cobra"
)

type warpFlags struct {
	src         string
	band        int
	out         string
	dstSRS      string
	nodata      float64
	concurrency int
	tmpdir      string
}

var wf warpFlags

var warpCommand = &cobra.Command{
	Use:   "warp --src raster.tif -o out.tif KEY=VALUE...",
	Short: "warp a geolocated raster to a north-up cloud optimized geotiff",
	Long: `warp resamples a band of --src, georeferenced by the geolocation arrays
described by the given GEOLOCATION metadata entries, onto the north-up grid
suggested for it in the geolocation coordinate system or in --dst-srs. The
result is written as a cloud optimized geotiff, locally or to a gs:// object.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if wf.src == "" {
			return fmt.Errorf("--src is required")
		}
		ctx := cmd.Context()
		cfg := configFrom(ctx)
		dst, gt, err := warpGeolocated(ctx, cfg, geoloc.MetadataFromList(args), &wf, cmd.Flags().Changed("nodata"))
		if err != nil {
			return err
		}
		return writeCOG(ctx, dst, gt, wf.out, wf.tmpdir)
	},
}

func init() {
	fl := warpCommand.Flags()
	fl.StringVar(&wf.src, "src", "", "raster to warp")
	fl.IntVar(&wf.band, "band", 1, "band of the raster to warp")
	fl.StringVarP(&wf.out, "out", "o", "out-cog.tif", "output cog name")
	fl.StringVar(&wf.dstSRS, "dst-srs", "", "output coordinate system (default: the geolocation arrays')")
	fl.Float64Var(&wf.nodata, "nodata", 0, "output nodata value")
	fl.IntVar(&wf.concurrency, "concurrency", 0, "number of parallel warp tasks (default GOMAXPROCS)")
	fl.StringVar(&wf.tmpdir, "tmp", ".", "directory to use for temp file")
}

type warpedRaster struct {
	*geoloc.Array
	srs *geoloc.SpatialRef
}

func warpGeolocated(ctx context.Context, cfg *Config, mdmap map[string]string, f *warpFlags, hasNoData bool) (*warpedRaster, geoloc.GeoTransform, error) {
	var gt geoloc.GeoTransform
	src, err := geoloc.DefaultSources.Open(ctx, f.src, f.band)
	if err != nil {
		return nil, gt, err
	}
	var sr *geoloc.SpatialRef
	if f.dstSRS != "" {
		if sr, err = geoloc.NewSpatialRef(f.dstSRS); err != nil {
			return nil, gt, fmt.Errorf("--dst-srs: %w", err)
		}
	}
	opts := cfg.transformerOptions()
	srcRef := geoloc.Geolocated{Metadata: mdmap, Width: src.Width, Height: src.Height}

	var coords geoloc.Referenced
	if sr != nil {
		coords = geoloc.GeoTransformed{GeoTransform: geoloc.GeoTransform{0, 1, 0, 0, 0, 1}, SRS: sr}
	}
	tr, err := geoloc.NewTransformer(ctx, srcRef, coords, opts...)
	if err != nil {
		return nil, gt, fmt.Errorf("load geolocation: %w", err)
	}
	gt, w, h, err := geoloc.SuggestedWarpOutput(tr)
	if err != nil {
		return nil, gt, fmt.Errorf("suggested warp output: %w", err)
	}
	slog.Info("warping", "src", f.src, "srcsize", [2]int{src.Width, src.Height},
		"dstsize", [2]int{w, h}, "geotransform", gt)

	tr, err = geoloc.NewTransformer(ctx, srcRef, geoloc.GeoTransformed{GeoTransform: gt, SRS: sr, Width: w, Height: h}, opts...)
	if err != nil {
		return nil, gt, fmt.Errorf("load geolocation: %w", err)
	}
	dst := geoloc.NewArray(w, h)
	var wopts []geoloc.WarpOption
	if hasNoData {
		dst.NoData, dst.HasNoData = f.nodata, true
		dst.Fill(f.nodata)
		wopts = append(wopts, geoloc.DstNoData(f.nodata))
	}
	if f.concurrency > 0 {
		wopts = append(wopts, geoloc.Concurrency(f.concurrency))
	}
	if err := geoloc.Warp(ctx, src, dst, tr, wopts...); err != nil {
		return nil, gt, fmt.Errorf("warp: %w", err)
	}
	return &warpedRaster{Array: dst, srs: tr.DestinationSRS()}, gt, nil
}

// writeCOG writes r to a temporary tiled tiff, then rewrites it as a cloud
// optimized geotiff to a local file or a gs:// object
func writeCOG(ctx context.Context, r *warpedRaster, gt geoloc.GeoTransform, outfile, tmpdir string) error {
	tmpf, err := os.CreateTemp(tmpdir, "*.tif")
	if err != nil {
		return err
	}
	tmpfname := tmpf.Name()
	defer os.Remove(tmpfname)
	if err := geoloc.WriteTIFF(tmpf, r.Array, geoloc.GeoReference(gt, r.srs), geoloc.LZWCompression()); err != nil {
		tmpf.Close()
		return fmt.Errorf("write temp tif: %w", err)
	}
	if err := tmpf.Close(); err != nil {
		return fmt.Errorf("close temp tif: %w", err)
	}

	tmpf, err = os.Open(tmpfname)
	if err != nil {
		return fmt.Errorf("re-open temp tif %s: %w", tmpfname, err)
	}
	defer tmpf.Close()

	var outw io.WriteCloser
	if ob, oo := gsparse(outfile); ob == "" {
		outw, err = os.Create(outfile)
		if err != nil {
			return fmt.Errorf("create %s: %w", outfile, err)
		}
	} else {
		stcl, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create gcs storage client: %w", err)
		}
		defer stcl.Close()
		outw = stcl.Bucket(ob).Object(oo).NewWriter(ctx)
	}

	if err := cogger.Rewrite(outw, tmpf); err != nil {
		outw.Close()
		return fmt.Errorf("cogger.rewrite: %w", err)
	}
	if err := outw.Close(); err != nil {
		return fmt.Errorf("close %s: %w", outfile, err)
	}
	slog.Info("wrote cog", "out", outfile)
	return nil
}
