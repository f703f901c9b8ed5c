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

package blockcache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// Cache is a Cacher holding a fixed number of blocks, evicting the least
// recently used ones
type Cache struct {
	c *lru.Cache
}

var _ Cacher = &Cache{}

type blockKey struct {
	key string
	id  uint
}

// NewCache creates a cache holding at most entries blocks
func NewCache(entries uint) (*Cache, error) {
	c, err := lru.New(int(entries))
	if err != nil {
		return nil, fmt.Errorf("lru.new: %w", err)
	}
	return &Cache{c: c}, nil
}

func (cg *Cache) Add(key string, id uint, data []byte) {
	cg.c.Add(blockKey{key, id}, data)
}

func (cg *Cache) Get(key string, id uint) ([]byte, bool) {
	cb, ok := cg.c.Get(blockKey{key, id})
	if !ok {
		return nil, false
	}
	return cb.([]byte), true
}

func (cg *Cache) PurgeKey(key string) {
	for _, k := range cg.c.Keys() {
		if k.(blockKey).key == key {
			cg.c.Remove(k)
		}
	}
}

func (cg *Cache) Purge() {
	cg.c.Purge()
}

// Len returns the number of cached blocks
func (cg *Cache) Len() int {
	return cg.c.Len()
}
