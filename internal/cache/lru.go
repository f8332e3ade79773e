// Package cache provides a thread-safe in-memory LRU for rendered tiles.
// The cache is invalidated wholesale whenever a refresh installs a new
// source registry.
package cache

/*
 Copyright 2019 - 2025 Crunchy Data Solutions, Inc.
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at
      http://www.apache.org/licenses/LICENSE-2.0
 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
)

// Entry is one cached tile response.
type Entry struct {
	ContentType string
	Body        []byte
}

// TileCache is an LRU of rendered tile responses.
type TileCache struct {
	cache   *lru.Cache[string, Entry]
	enabled bool

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// Stats represents cache statistics.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Size      int     `json:"size"`
	HitRate   float64 `json:"hit_rate"`
}

// NewTileCache creates an LRU tile cache holding at most maxItems tiles.
func NewTileCache(maxItems int) (*TileCache, error) {
	if maxItems <= 0 {
		return nil, fmt.Errorf("maxItems must be positive, got %d", maxItems)
	}

	tc := &TileCache{enabled: true}
	cache, err := lru.NewWithEvict(maxItems, tc.onEvict)
	if err != nil {
		return nil, err
	}
	tc.cache = cache

	log.Infof("Initialized tile cache: max_items=%d", maxItems)
	return tc, nil
}

// NewDisabledCache returns a cache that always misses.
func NewDisabledCache() *TileCache {
	return &TileCache{enabled: false}
}

// Key builds the cache key for a tile request. The query string is part of
// the key because function sources consume it.
func Key(sourceIDs, z, x, y, rawQuery string) string {
	if rawQuery == "" {
		return fmt.Sprintf("%s:%s:%s:%s", sourceIDs, z, x, y)
	}
	return fmt.Sprintf("%s:%s:%s:%s?%s", sourceIDs, z, x, y, rawQuery)
}

// Get retrieves a tile from cache.
func (tc *TileCache) Get(key string) (Entry, bool) {
	if !tc.enabled {
		return Entry{}, false
	}

	entry, ok := tc.cache.Get(key)
	if ok {
		tc.hits.Add(1)
		log.Debugf("Cache HIT: %s", key)
		return entry, true
	}

	tc.misses.Add(1)
	log.Debugf("Cache MISS: %s", key)
	return Entry{}, false
}

// Set stores a tile in cache. Empty bodies are stored too: an empty tile is
// a valid, cacheable answer.
func (tc *TileCache) Set(key string, entry Entry) {
	if !tc.enabled {
		return
	}

	// copy so the cache never references request-scoped buffers
	body := make([]byte, len(entry.Body))
	copy(body, entry.Body)
	entry.Body = body

	tc.cache.Add(key, entry)
	log.Debugf("Cache SET: %s (%d bytes)", key, len(entry.Body))
}

func (tc *TileCache) onEvict(key string, entry Entry) {
	tc.evictions.Add(1)
	log.Debugf("Cache EVICT: %s", key)
}

// Clear removes all items from cache.
func (tc *TileCache) Clear() {
	if !tc.enabled {
		return
	}
	tc.cache.Purge()
	log.Info("Tile cache cleared")
}

// Stats returns current cache statistics.
func (tc *TileCache) Stats() Stats {
	if !tc.enabled {
		return Stats{}
	}

	hits := tc.hits.Load()
	misses := tc.misses.Load()
	total := hits + misses

	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100.0
	}

	return Stats{
		Hits:      hits,
		Misses:    misses,
		Evictions: tc.evictions.Load(),
		Size:      tc.cache.Len(),
		HitRate:   hitRate,
	}
}

// Enabled returns whether the cache is enabled.
func (tc *TileCache) Enabled() bool {
	return tc.enabled
}
