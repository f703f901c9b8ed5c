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
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoloc",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "geoloc",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	pointsTransformed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoloc",
		Subsystem: "transform",
		Name:      "points_total",
		Help:      "Total points submitted for transformation",
	}, []string{"direction", "result"})

	transformerBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "geoloc",
		Subsystem: "transform",
		Name:      "build_duration_seconds",
		Help:      "Duration of loading and indexing a geolocation grid",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	transformerCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoloc",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Transformer cache lookups",
	}, []string{"result"})

	cachedTransformers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geoloc",
		Subsystem: "cache",
		Name:      "transformers",
		Help:      "Number of transformers currently cached",
	})
)

// metricsMiddleware records request metrics
func metricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		return err
	}
}

// metricsHandler serves the prometheus registry
func metricsHandler() fiber.Handler {
	handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	return func(c *fiber.Ctx) error {
		handler(c.Context())
		return nil
	}
}
