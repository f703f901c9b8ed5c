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

package geoloc

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"syscall"
)

// Array is a single band of samples, stored row-major as float64 whatever
// their original storage type
type Array struct {
	Width, Height int
	Data          []float64
	// NoData, when HasNoData is set, marks samples that carry no value
	NoData    float64
	HasNoData bool
}

// NewArray allocates a zero-filled width x height array
func NewArray(width, height int) *Array {
	return &Array{Width: width, Height: height, Data: make([]float64, width*height)}
}

// Valid reports wether v is a usable sample of the array
func (a *Array) Valid(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	return !a.HasNoData || v != a.NoData
}

// Fill sets every sample of the array to v
func (a *Array) Fill(v float64) {
	for i := range a.Data {
		a.Data[i] = v
	}
}

// SourceOpener reads a band of a named dataset. It is the collaborator through
// which the X/Y geolocation arrays are read.
type SourceOpener interface {
	Open(ctx context.Context, dataset string, band int) (*Array, error)
}

// KeySizerReaderAt is the interface expected when calling Sources.Register
//
// ReadAt() is a standard io.ReaderAt that takes a key (i.e. filename) as argument.
//
// Size() is used as a probe to determine wether the given key exists, and should return
// an error if no such key exists.
type KeySizerReaderAt interface {
	ReadAt(key string, buf []byte, off int64) (int, error)
	Size(key string) (int64, error)
}

type keyReader struct {
	key string
	r   KeySizerReaderAt
}

func (kr keyReader) ReadAt(buf []byte, off int64) (int, error) {
	return kr.r.ReadAt(kr.key, buf, off)
}

type sourceHandler struct {
	prefix      string
	handler     KeySizerReaderAt
	stripPrefix bool
}

type registerOpts struct {
	stripPrefix bool
}

// RegisterOption is an option that can be passed to Sources.Register
//
// Available RegisterOptions are:
//
// • StripPrefix
type RegisterOption interface {
	setRegisterOpt(o *registerOpts)
}

type stripPrefixOpt struct {
	strip bool
}

// StripPrefix instructs the handler to strip the prefix from the key before
// calling its methods, i.e. for a handler registered on "gs://",
// Open("gs://bucket/file.tif") calls ReadAt("bucket/file.tif",...)
func StripPrefix(v bool) interface {
	RegisterOption
} {
	return stripPrefixOpt{v}
}

func (o stripPrefixOpt) setRegisterOpt(ro *registerOpts) {
	ro.stripPrefix = o.strip
}

// Sources resolves dataset names to sample arrays. Names are matched against
// the registered prefixes (longest first); names matching no prefix are read
// from the local filesystem. A "/vsimem/" in-memory store is always registered.
// Datasets are decoded as TIFF files.
type Sources struct {
	mu       sync.RWMutex
	handlers []sourceHandler
	mem      *MemFS
}

// NewSources creates a registry with only the in-memory store registered
func NewSources() *Sources {
	s := &Sources{mem: NewMemFS()}
	s.handlers = []sourceHandler{{prefix: MemPrefix, handler: s.mem}}
	return s
}

// DefaultSources is the registry used when no Opener option is provided
var DefaultSources = NewSources()

// Register installs handler for every dataset name starting with prefix
func (s *Sources) Register(prefix string, handler KeySizerReaderAt, opts ...RegisterOption) error {
	ro := registerOpts{}
	for _, o := range opts {
		o.setRegisterOpt(&ro)
	}
	if prefix == "" {
		return fmt.Errorf("empty prefix")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.handlers {
		if h.prefix == prefix {
			return fmt.Errorf("handler already registered on prefix %s", prefix)
		}
	}
	s.handlers = append(s.handlers, sourceHandler{prefix: prefix, handler: handler, stripPrefix: ro.stripPrefix})
	sort.SliceStable(s.handlers, func(i, j int) bool {
		return len(s.handlers[i].prefix) > len(s.handlers[j].prefix)
	})
	return nil
}

// Mem returns the in-memory store backing the "/vsimem/" prefix
func (s *Sources) Mem() *MemFS {
	return s.mem
}

func (s *Sources) resolve(name string) (KeySizerReaderAt, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.handlers {
		if strings.HasPrefix(name, h.prefix) {
			if h.stripPrefix {
				return h.handler, name[len(h.prefix):]
			}
			return h.handler, name
		}
	}
	return localFS{}, name
}

// ReaderAt returns a random access reader over the named dataset and its size
func (s *Sources) ReaderAt(name string) (io.ReaderAt, int64, error) {
	h, key := s.resolve(name)
	size, err := h.Size(key)
	if err != nil {
		return nil, 0, fmt.Errorf("stat %s: %w", name, err)
	}
	return keyReader{key: key, r: h}, size, nil
}

// Open reads the given band of the named TIFF dataset. Errors wrap
// ErrUnreadableSource.
func (s *Sources) Open(ctx context.Context, dataset string, band int) (*Array, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, size, err := s.ReaderAt(dataset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableSource, err)
	}
	arr, err := ReadBand(io.NewSectionReader(r, 0, size), band)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableSource, dataset, err)
	}
	return arr, nil
}

type localFS struct{}

func (localFS) ReadAt(key string, buf []byte, off int64) (int, error) {
	f, err := os.Open(key)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.ReadAt(buf, off)
}

func (localFS) Size(key string) (int64, error) {
	st, err := os.Stat(key)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// MemPrefix is the prefix of in-memory datasets
const MemPrefix = "/vsimem/"

// MemFS is a concurrency safe in-memory file store
type MemFS struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemFS creates an empty store
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

// WriteFile stores a copy of data under name
func (m *MemFS) WriteFile(name string, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	m.files[name] = cp
	m.mu.Unlock()
}

// Unlink removes name from the store
func (m *MemFS) Unlink(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; !ok {
		return syscall.ENOENT
	}
	delete(m.files, name)
	return nil
}

func (m *MemFS) ReadAt(key string, buf []byte, off int64) (int, error) {
	m.mu.RLock()
	data, ok := m.files[key]
	m.mu.RUnlock()
	if !ok {
		return 0, syscall.ENOENT
	}
	if off >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(buf, data[off:])
	if n < len(buf) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemFS) Size(key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[key]
	if !ok {
		return 0, syscall.ENOENT
	}
	return int64(len(data)), nil
}
