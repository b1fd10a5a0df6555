package storage

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/coocood/freecache"
	"github.com/dustin/go-humanize"
	"github.com/golang/snappy"
	"github.com/janelia-flyem/n5knossos/core"
)

// BlockCache holds decoded blocks so that z-ranges whose boundaries fall inside a
// block don't decode it twice.  Values are snappy compressed.  A nil *BlockCache is
// valid and caches nothing.
type BlockCache struct {
	cache    *freecache.Cache
	attempts uint64
	hits     uint64
}

// NewBlockCache returns a cache of approximately numBytes or nil if numBytes is 0.
func NewBlockCache(numBytes int) *BlockCache {
	if numBytes <= 0 {
		return nil
	}
	core.Infof("Created block cache of ~ %s.\n", humanize.Bytes(uint64(numBytes)))
	return &BlockCache{cache: freecache.NewCache(numBytes)}
}

// Get returns a cached block's data and size.
func (c *BlockCache) Get(key string) (data []byte, size core.Point3d, found bool) {
	if c == nil {
		return
	}
	atomic.AddUint64(&c.attempts, 1)
	val, err := c.cache.Get([]byte(key))
	if err != nil {
		if err != freecache.ErrNotFound {
			core.Errorf("block cache get %q: %v\n", key, err)
		}
		return
	}
	if len(val) < 12 {
		return
	}
	for dim := 0; dim < 3; dim++ {
		size[dim] = int(binary.LittleEndian.Uint32(val[dim*4 : dim*4+4]))
	}
	if data, err = snappy.Decode(nil, val[12:]); err != nil {
		core.Errorf("block cache decode %q: %v\n", key, err)
		return nil, size, false
	}
	atomic.AddUint64(&c.hits, 1)
	return data, size, true
}

// Set stores a block.  Blocks too large for the cache are silently skipped.
func (c *BlockCache) Set(key string, data []byte, size core.Point3d) {
	if c == nil {
		return
	}
	val := make([]byte, 12, 12+snappy.MaxEncodedLen(len(data)))
	for dim := 0; dim < 3; dim++ {
		binary.LittleEndian.PutUint32(val[dim*4:dim*4+4], uint32(size[dim]))
	}
	val = append(val, snappy.Encode(nil, data)...)
	if err := c.cache.Set([]byte(key), val, 0); err != nil && err != freecache.ErrLargeEntry {
		core.Errorf("block cache set %q: %v\n", key, err)
	}
}

// Stats returns the number of lookups and hits.
func (c *BlockCache) Stats() (attempts, hits uint64) {
	if c == nil {
		return
	}
	return atomic.LoadUint64(&c.attempts), atomic.LoadUint64(&c.hits)
}

// LogStats logs the hit rate of the cache.
func (c *BlockCache) LogStats() {
	attempts, hits := c.Stats()
	if attempts == 0 {
		return
	}
	core.Infof("Block cache: %d hits in %d lookups (%.1f%%)\n", hits, attempts,
		100*float64(hits)/float64(attempts))
}
