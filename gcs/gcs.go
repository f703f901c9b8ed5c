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

// Package gcs reads geolocation arrays stored on Google Cloud Storage buckets
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"

	"github.com/airbusgeo/geoloc"
	"github.com/airbusgeo/geoloc/internal/blockcache"

	"cloud.google.com/go/storage"
	lru "github.com/hashicorp/golang-lru"
	"google.golang.org/api/googleapi"
)

// Handler is a geoloc.KeySizerReaderAt over objects of cloud storage buckets.
// Keys are "bucket/object". Reads go through an in-memory block cache.
type Handler struct {
	ctx                context.Context
	prefix             string
	sources            *geoloc.Sources
	client             *storage.Client
	cacher             blockcache.Cacher
	blockSize          int
	maxCachedBlocks    int
	maxCachedMetadatas int
	blockCache         *blockcache.BlockCache
	sizecache          *lru.Cache
	billingProjectID   string
	splitRanges        bool
}

// Option is an option that can be passed to New or RegisterHandler
type Option func(o *Handler)

// Prefix is the prefix that a dataset name must have in order to be handled
// by this handler. Defaults to "gs://", i.e. this handler will be used for
// X_DATASET=gs://mybucket/lon.tif
func Prefix(prefix string) Option {
	return func(o *Handler) {
		o.prefix = prefix
	}
}

// Sources sets the registry RegisterHandler installs the handler in.
// Defaults to geoloc.DefaultSources
func Sources(s *geoloc.Sources) Option {
	return func(o *Handler) {
		o.sources = s
	}
}

// Client sets the cloud.google.com/go/storage.Client that will be used
// by the handler
func Client(cl *storage.Client) Option {
	return func(o *Handler) {
		o.client = cl
	}
}

// Cacher allows to plugin a custom cache mechanism instead of the default in
// memory lru cache. MaxCachedBlocks() will not be honored if you provide your
// own cacher, it is up to your cacher implementation to handle block eviction
func Cacher(cacher blockcache.Cacher) Option {
	return func(o *Handler) {
		o.cacher = cacher
	}
}

// BlockSize sets the size of requests that will go out to the storage API.
// Defaults to 1Mb
func BlockSize(bs int) Option {
	if bs < 1 {
		panic("invalid blocksize")
	}
	return func(o *Handler) {
		o.blockSize = bs
	}
}

// MaxCachedBlocks sets the number of blocks to keep in the lru cache.
// Defaults to 1000
func MaxCachedBlocks(n int) Option {
	if n < 1 {
		panic("invalid max cached blocks")
	}
	return func(o *Handler) {
		o.maxCachedBlocks = n
	}
}

// BillingProject sets the project name which should be billed for the requests.
// This is mandatory if the bucket is in requester-pays mode.
func BillingProject(projectID string) Option {
	return func(o *Handler) {
		o.billingProjectID = projectID
	}
}

// SplitConsecutiveRanges forces multiple parallel requests for individual blocks
// when a requested chunk spans multiple blocks, instead of emitting a single request
// spanning multiple blocks.
func SplitConsecutiveRanges(split bool) Option {
	return func(o *Handler) {
		o.splitRanges = split
	}
}

// MaxCachedMetadatas sets the number of object names whose size will be kept in cache.
// This also accounts for non-existing objects, i.e. opening a missing X_DATASET twice
// will not result in an API call going to the storage endpoint the second time
func MaxCachedMetadatas(n int) Option {
	if n < 1 {
		panic("invalid max cached metadatas")
	}
	return func(o *Handler) {
		o.maxCachedMetadatas = n
	}
}

// New creates a handler. ctx is used for every storage request and for
// creating the default storage client.
func New(ctx context.Context, opts ...Option) (*Handler, error) {
	handler := &Handler{
		ctx:                ctx,
		prefix:             "gs://",
		blockSize:          1024 * 1024,
		maxCachedBlocks:    1000,
		maxCachedMetadatas: 10000,
	}
	for _, o := range opts {
		o(handler)
	}
	handler.sizecache, _ = lru.New(handler.maxCachedMetadatas)
	if handler.client == nil {
		cl, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage.newclient: %w", err)
		}
		handler.client = cl
	}
	if handler.cacher == nil {
		handler.cacher, _ = blockcache.NewCache(uint(handler.maxCachedBlocks))
	}
	handler.blockCache = blockcache.New(rangeReader{handler}, handler.cacher, uint(handler.blockSize), handler.splitRanges)
	return handler, nil
}

// RegisterHandler creates a handler and registers it on its prefix, so that
// geolocation arrays can be read from cloud storage buckets
func RegisterHandler(ctx context.Context, opts ...Option) error {
	handler, err := New(ctx, opts...)
	if err != nil {
		return err
	}
	sources := handler.sources
	if sources == nil {
		sources = geoloc.DefaultSources
	}
	return sources.Register(handler.prefix, handler, geoloc.StripPrefix(true))
}

func gcsparse(gsUri string) (bucket, object string) {
	if len(gsUri) > 0 && gsUri[0] == '/' {
		gsUri = gsUri[1:]
	}
	firstSlash := strings.Index(gsUri, "/")
	if firstSlash == -1 {
		bucket = gsUri
		object = ""
	} else {
		bucket = gsUri[0:firstSlash]
		object = gsUri[firstSlash+1:]
	}
	return
}

func (gcs *Handler) precheck(key string, off int64) error {
	s, ok := gcs.sizecache.Get(key)
	if ok {
		s64 := s.(int64)
		if s64 == -1 {
			return syscall.ENOENT
		}
		if off >= s64 {
			return io.EOF
		}
	}
	return nil
}

// rangeReader issues the actual storage requests on behalf of the block cache
type rangeReader struct {
	gcs *Handler
}

func (rr rangeReader) ReadAt(key string, p []byte, off int64) (int, error) {
	gcs := rr.gcs
	if err := gcs.precheck(key, off); err != nil {
		return 0, err
	}
	bucket, object := gcsparse(key)
	if len(bucket) == 0 || len(object) == 0 {
		return 0, fmt.Errorf("invalid key")
	}
	gbucket := gcs.client.Bucket(bucket)
	if gcs.billingProjectID != "" {
		gbucket = gbucket.UserProject(gcs.billingProjectID)
	}
	r, err := gbucket.Object(object).NewRangeReader(gcs.ctx, off, int64(len(p)))
	if err != nil {
		var gerr *googleapi.Error
		if off > 0 && errors.As(err, &gerr) && gerr.Code == 416 {
			return 0, io.EOF
		}
		if off == 0 && errors.Is(err, storage.ErrObjectNotExist) {
			gcs.sizecache.Add(key, int64(-1))
			return 0, syscall.ENOENT
		}
		return 0, fmt.Errorf("new reader for gs://%s/%s: %w", bucket, object, err)
	}
	if sz := r.Attrs.Size; sz > 0 {
		gcs.sizecache.Add(key, sz)
	}
	defer r.Close()
	n, err := io.ReadFull(r, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

// ReadAt reads len(p) bytes of object key at offset off through the block cache
func (gcs *Handler) ReadAt(key string, p []byte, off int64) (int, error) {
	if err := gcs.precheck(key, off); err != nil {
		return 0, err
	}
	return gcs.blockCache.ReadAt(key, p, off)
}

// ReadAtMulti reads several ranges of object key at once
func (gcs *Handler) ReadAtMulti(key string, bufs [][]byte, offs []int64) ([]int, error) {
	s, ok := gcs.sizecache.Get(key)
	if ok {
		s64 := s.(int64)
		if s64 == -1 {
			return nil, syscall.ENOENT
		}
		for _, off := range offs {
			if off >= s64 {
				return nil, io.EOF
			}
		}
	}
	return gcs.blockCache.ReadAtMulti(key, bufs, offs)
}

// Size returns the size of object key, or syscall.ENOENT if it does not exist
func (gcs *Handler) Size(key string) (int64, error) {
	s, ok := gcs.sizecache.Get(key)
	if !ok {
		buf := make([]byte, 1)
		_, _ = gcs.ReadAt(key, buf, 0) //ignore errors as we just want to populate the size cache
		s, ok = gcs.sizecache.Get(key)
	}
	if ok {
		size := s.(int64)
		if size == -1 {
			return 0, syscall.ENOENT
		}
		return size, nil
	}
	return 0, fmt.Errorf("size cache miss")
}
