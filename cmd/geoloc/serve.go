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
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/airbusgeo/geoloc"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	lru "github.com/hashicorp/golang-lru"
	"github.com/spf13/cobra"
	"golang.org/x/sync/singleflight"
)

var cachedGrids int

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "serve point transformations over http",
	Long: `serve exposes POST /v1/transform, which transforms a batch of points
through the geolocation arrays described in the request. Loaded and indexed
grids are kept in memory for subsequent requests. Prometheus metrics are
served on /metrics.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFrom(cmd.Context())
		srv, err := newServer(cfg.transformerOptions(), cachedGrids)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		app := srv.app()

		errc := make(chan error, 1)
		go func() {
			slog.Info("server starting", "addr", cfg.Serve.Addr)
			errc <- app.Listen(cfg.Serve.Addr)
		}()
		select {
		case err := <-errc:
			return fmt.Errorf("listen: %w", err)
		case <-ctx.Done():
		}
		slog.Info("shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			slog.Error("forced shutdown", "error", err)
		}
		slog.Info("server stopped")
		return nil
	},
}

func init() {
	serveCommand.Flags().String("addr", ":8080", "listen address")
	serveCommand.Flags().IntVar(&cachedGrids, "cached-grids", 16, "number of indexed geolocation grids kept in memory")
}

type transformRequest struct {
	Metadata map[string]string `json:"metadata"`
	// DstSRS, when set, expresses coordinates in this system instead of the
	// one of the geolocation arrays
	DstSRS  string       `json:"dst_srs,omitempty"`
	Inverse bool         `json:"inverse,omitempty"`
	Points  [][2]float64 `json:"points"`
}

type transformResponse struct {
	// Points holds null for points that could not be transformed
	Points []*[2]float64 `json:"points"`
}

type apiError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newError(c *fiber.Ctx, status int, code string, message string) error {
	return c.Status(status).JSON(apiError{Status: status, Code: code, Message: message})
}

type server struct {
	opts  []geoloc.TransformerOption
	cache *lru.Cache
	group singleflight.Group
}

func newServer(opts []geoloc.TransformerOption, cacheSize int) (*server, error) {
	cache, err := lru.NewWithEvict(cacheSize, func(key, value interface{}) {
		slog.Debug("evicted geolocation grid", "key", key)
	})
	if err != nil {
		return nil, fmt.Errorf("lru.new: %w", err)
	}
	return &server{opts: opts, cache: cache}, nil
}

func (s *server) app() *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit:             16 * 1024 * 1024,
		AppName:               "geoloc",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(metricsMiddleware())
	app.Get("/metrics", metricsHandler())
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "cached": s.cache.Len()})
	})
	app.Post("/v1/transform", s.handleTransform)
	return app
}

// transformer returns the cached transformer for md and dstSRS, building it
// once for concurrent requests
func (s *server) transformer(ctx context.Context, md geoloc.Metadata, dstSRS string) (*geoloc.Transformer, error) {
	key := strings.Join(md.List(), "\n") + "\n" + dstSRS
	if v, ok := s.cache.Get(key); ok {
		transformerCache.WithLabelValues("hit").Inc()
		return v.(*geoloc.Transformer), nil
	}
	transformerCache.WithLabelValues("miss").Inc()
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		start := time.Now()
		var dst geoloc.Referenced
		if dstSRS != "" {
			sr, err := geoloc.NewSpatialRef(dstSRS)
			if err != nil {
				return nil, err
			}
			dst = geoloc.GeoTransformed{GeoTransform: geoloc.GeoTransform{0, 1, 0, 0, 0, 1}, SRS: sr}
		}
		tr, err := geoloc.NewTransformer(ctx, geoloc.Geolocated{Metadata: md.Map()}, dst, s.opts...)
		if err != nil {
			return nil, err
		}
		transformerBuildDuration.Observe(time.Since(start).Seconds())
		s.cache.Add(key, tr)
		cachedTransformers.Set(float64(s.cache.Len()))
		return tr, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*geoloc.Transformer), nil
}

func (s *server) handleTransform(c *fiber.Ctx) error {
	var req transformRequest
	if err := c.BodyParser(&req); err != nil {
		return newError(c, fiber.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
	}
	md, err := geoloc.ParseMetadata(req.Metadata)
	if err != nil {
		return newError(c, fiber.StatusBadRequest, "invalid_metadata", err.Error())
	}
	tr, err := s.transformer(c.UserContext(), md, req.DstSRS)
	switch {
	case errors.Is(err, geoloc.ErrInvalidMetadata), errors.Is(err, geoloc.ErrUnsupportedSRS):
		return newError(c, fiber.StatusBadRequest, "invalid_metadata", err.Error())
	case errors.Is(err, geoloc.ErrUnreadableSource):
		return newError(c, fiber.StatusUnprocessableEntity, "unreadable_source", err.Error())
	case err != nil:
		return newError(c, fiber.StatusInternalServerError, "internal_error", err.Error())
	}

	n := len(req.Points)
	xs, ys, ok := make([]float64, n), make([]float64, n), make([]bool, n)
	for i, p := range req.Points {
		xs[i], ys[i] = p[0], p[1]
	}
	_ = tr.TransformEx(req.Inverse, xs, ys, nil, ok)

	direction := "forward"
	if req.Inverse {
		direction = "inverse"
	}
	resp := transformResponse{Points: make([]*[2]float64, n)}
	failed := 0
	for i := range ok {
		if !ok[i] {
			failed++
			continue
		}
		resp.Points[i] = &[2]float64{xs[i], ys[i]}
	}
	pointsTransformed.WithLabelValues(direction, "ok").Add(float64(n - failed))
	pointsTransformed.WithLabelValues(direction, "failed").Add(float64(failed))
	return c.JSON(resp)
}
