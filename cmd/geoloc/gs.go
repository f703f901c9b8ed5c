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
	"log/slog"
	"strconv"
	"strings"
	"unicode"

	"cloud.google.com/go/storage"
	"github.com/airbusgeo/geoloc"
	"github.com/airbusgeo/geoloc/gcs"
	"github.com/airbusgeo/osio"
	osiogcs "github.com/airbusgeo/osio/gcs"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func gsparse(file string) (bucket, object string) {
	if !strings.HasPrefix(file, "gs://") {
		return
	}
	file = file[5:]
	firstSlash := strings.Index(file, "/")
	if firstSlash == -1 {
		return
	}
	obj := strings.Trim(file[firstSlash:], "/")
	if obj == "" {
		return
	}
	bucket = file[0:firstSlash]
	object = obj
	return
}

// parseSize parses sizes such as "512k", "1.5MB" or "4096". It returns 0 for
// unparsable or negative sizes.
func parseSize(s string) int {
	const (
		BYTE = 1 << (10 * iota)
		KILOBYTE
		MEGABYTE
		GIGABYTE
	)
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) == 0 {
		return 0
	}
	i := strings.IndexFunc(s, unicode.IsLetter)
	if i == -1 {
		ii, err := strconv.Atoi(s)
		if err != nil || ii <= 0 {
			return 0
		}
		return ii
	}
	bytesString, multiple := s[:i], s[i:]
	bytes, err := strconv.ParseFloat(bytesString, 64)
	if err != nil || bytes <= 0 {
		return 0
	}
	switch multiple {
	case "G", "GB", "GIB":
		return int(bytes * GIGABYTE)
	case "M", "MB", "MIB":
		return int(bytes * MEGABYTE)
	case "K", "KB", "KIB":
		return int(bytes * KILOBYTE)
	case "B":
		return int(bytes * BYTE)
	default:
		return 0
	}
}

// referencesGS reports whether any argument or string flag of cmd names a
// gs:// object, including as the value of a KEY=VALUE argument
func referencesGS(cmd *cobra.Command, args []string) bool {
	found := false
	for _, a := range args {
		if strings.Contains(a, "gs://") {
			found = true
		}
	}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Value.Type() == "string" && strings.HasPrefix(f.Value.String(), "gs://") {
			found = true
		}
	})
	return found
}

var gsRegistered bool

// registerGS installs a gs:// handler in geoloc.DefaultSources, either the
// builtin block cached one or an osio adapter
func registerGS(ctx context.Context, cfg GSConfig) error {
	if gsRegistered {
		return nil
	}
	stcl, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create gcs storage client: %w", err)
	}
	bs := parseSize(cfg.BlockSize)
	if cfg.Osio {
		gsopts := []osiogcs.GCSOption{osiogcs.GCSClient(stcl)}
		if cfg.BillingProject != "" {
			gsopts = append(gsopts, osiogcs.GCSBillingProject(cfg.BillingProject))
		}
		gs, err := osiogcs.Handle(ctx, gsopts...)
		if err != nil {
			return fmt.Errorf("gcs.handle: %w", err)
		}
		gsa, err := osio.NewAdapter(gs, osio.BlockSize(cfg.BlockSize), osio.NumCachedBlocks(cfg.NumBlocks))
		if err != nil {
			return fmt.Errorf("osio.newadapter: %w", err)
		}
		if err := geoloc.DefaultSources.Register("gs://", gsa); err != nil {
			return fmt.Errorf("register osio adapter: %w", err)
		}
	} else {
		opts := []gcs.Option{
			gcs.Client(stcl),
			gcs.BlockSize(bs),
			gcs.MaxCachedBlocks(cfg.NumBlocks),
		}
		if cfg.BillingProject != "" {
			opts = append(opts, gcs.BillingProject(cfg.BillingProject))
		}
		if err := gcs.RegisterHandler(ctx, opts...); err != nil {
			return fmt.Errorf("gcs.registerhandler: %w", err)
		}
	}
	gsRegistered = true
	slog.Debug("registered gs:// handler", "osio", cfg.Osio, "blocksize", bs, "numblocks", cfg.NumBlocks)
	return nil
}
