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

// Package blockcache caches fixed-size blocks of keyed random access readers,
// so that the small scattered reads of a TIFF decoder do not each hit a
// remote object store.
package blockcache

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultBlockSize is the block size used when none is given to New
const DefaultBlockSize = 64 * 1024

// KeyReaderAt is an io.ReaderAt over the resource identified by key. It must
// follow the io.ReaderAt contract: when n < len(p), a non-nil error explains
// why, and parallel calls are allowed.
type KeyReaderAt interface {
	ReadAt(key string, p []byte, off int64) (int, error)
}

// Cacher stores blocks by key and block index
//
// Get returns the block and wether it was found.
//
// PurgeKey drops every block of key, Purge drops everything.
type Cacher interface {
	Add(key string, blockID uint, data []byte)
	Get(key string, blockID uint) ([]byte, bool)
	PurgeKey(key string)
	Purge()
}

// BlockCache exposes a KeyReaderAt that feeds from its cache, loading missing
// blocks from the underlying reader. Concurrent requests for the same blocks
// result in a single call to the underlying reader.
type BlockCache struct {
	blockSize   int64
	group       singleflight.Group
	cache       Cacher
	reader      KeyReaderAt
	splitRanges bool
}

// New creates a BlockCache over reader. When split is set, every missing
// block is fetched with its own request; otherwise consecutive missing blocks
// are fetched together.
func New(reader KeyReaderAt, cache Cacher, blockSize uint, split bool) *BlockCache {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	return &BlockCache{
		cache:       cache,
		blockSize:   int64(blockSize),
		reader:      reader,
		splitRanges: split,
	}
}

// PurgeKey drops the cached blocks of key
func (b *BlockCache) PurgeKey(key string) {
	b.cache.PurgeKey(key)
}

// Purge drops every cached block
func (b *BlockCache) Purge() {
	b.cache.Purge()
}

type blockRange struct {
	start, end int64
}

func (b *BlockCache) flightKey(key string, rng blockRange) string {
	return fmt.Sprintf("%s-%d-%d", key, rng.start, rng.end)
}

// getRange loads blocks rng.start to rng.end (included) with a single read.
// Trailing blocks past the end of the resource are nil.
func (b *BlockCache) getRange(key string, rng blockRange) ([][]byte, error) {
	v, err, _ := b.group.Do(b.flightKey(key, rng), func() (interface{}, error) {
		nblocks := rng.end - rng.start + 1
		buf := make([]byte, nblocks*b.blockSize)
		n, err := b.reader.ReadAt(key, buf, rng.start*b.blockSize)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		blocks := make([][]byte, nblocks)
		left := int64(n)
		for bid := int64(0); bid < nblocks; bid++ {
			ll := left
			if ll > b.blockSize {
				ll = b.blockSize
			}
			if ll > 0 {
				blocks[bid] = buf[bid*b.blockSize : bid*b.blockSize+ll : bid*b.blockSize+ll]
				left -= ll
			}
			b.cache.Add(key, uint(rng.start+bid), blocks[bid])
		}
		return blocks, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([][]byte), nil
}

func (b *BlockCache) getBlock(key string, id int64) ([]byte, error) {
	if data, ok := b.cache.Get(key, uint(id)); ok {
		return data, nil
	}
	blocks, err := b.getRange(key, blockRange{id, id})
	if err != nil {
		return nil, err
	}
	return blocks[0], nil
}

// applyBlock copies the parts of block that overlap the requested buffers
func (b *BlockCache) applyBlock(mu *sync.Mutex, block int64, data []byte, written []int, bufs [][]byte, offsets []int64) {
	if len(data) == 0 {
		return
	}
	blockStart := block * b.blockSize
	blockEnd := blockStart + int64(len(data))
	for ibuf := range bufs {
		bufEnd := offsets[ibuf] + int64(len(bufs[ibuf]))
		if blockStart >= bufEnd || blockEnd <= offsets[ibuf] {
			continue
		}
		start, end := blockStart, blockEnd
		if start < offsets[ibuf] {
			start = offsets[ibuf]
		}
		if end > bufEnd {
			end = bufEnd
		}
		mu.Lock()
		written[ibuf] += copy(bufs[ibuf][start-offsets[ibuf]:], data[start-blockStart:end-blockStart])
		mu.Unlock()
	}
}

// ReadAtMulti fills each bufs[i] with the content of key at offsets[i]. The
// returned counts are the number of bytes written to each buffer; io.EOF is
// returned when any buffer could not be filled entirely.
func (b *BlockCache) ReadAtMulti(key string, bufs [][]byte, offsets []int64) ([]int, error) {
	blids := make(map[int64]bool)
	for ibuf := range bufs {
		if len(bufs[ibuf]) == 0 {
			continue
		}
		zblock := offsets[ibuf] / b.blockSize
		lblock := (offsets[ibuf] + int64(len(bufs[ibuf])) - 1) / b.blockSize
		for ib := zblock; ib <= lblock; ib++ {
			blids[ib] = true
		}
	}
	written := make([]int, len(bufs))
	mu := &sync.Mutex{}
	var g errgroup.Group

	if b.splitRanges {
		for bid := range blids {
			bid := bid
			g.Go(func() error {
				data, err := b.getBlock(key, bid)
				if err != nil {
					return err
				}
				b.applyBlock(mu, bid, data, written, bufs, offsets)
				return nil
			})
		}
	} else {
		missing := make([]int64, 0, len(blids))
		for bid := range blids {
			if data, ok := b.cache.Get(key, uint(bid)); ok {
				b.applyBlock(mu, bid, data, written, bufs, offsets)
			} else {
				missing = append(missing, bid)
			}
		}
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		for k := 0; k < len(missing); {
			rng := blockRange{start: missing[k], end: missing[k]}
			for k++; k < len(missing) && missing[k] == rng.end+1; k++ {
				rng.end = missing[k]
			}
			g.Go(func() error {
				blocks, err := b.getRange(key, rng)
				if err != nil {
					return err
				}
				for ib := range blocks {
					b.applyBlock(mu, rng.start+int64(ib), blocks[ib], written, bufs, offsets)
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return written, err
	}
	for i, buf := range bufs {
		if written[i] != len(buf) {
			return written, io.EOF
		}
	}
	return written, nil
}

// ReadAt implements KeyReaderAt
func (b *BlockCache) ReadAt(key string, p []byte, off int64) (int, error) {
	written, err := b.ReadAtMulti(key, [][]byte{p}, []int64{off})
	return written[0], err
}
