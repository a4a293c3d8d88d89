package history

import (
	"sync"

	"github.com/parsec-cloud/parsec-client-go/pkg/metrics"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

// blockCacheSlots is the fixed round-robin capacity (spec §4.3): the cache
// favors recency over hit rate since a workspace-history read pattern tends
// to revisit the same handful of blocks in a short span.
const blockCacheSlots = 128

type blockSlot struct {
	id    types.BlockID
	valid bool
	data  []byte
}

// BlockCache is a fixed-size round-robin BlockId -> bytes cache. Concurrent
// populates for the same id are tolerated: both writers validated the same
// digest before populating, so whichever write lands last is equally correct
// (spec §4.3 "Block cache").
type BlockCache struct {
	mu    sync.Mutex
	slots [blockCacheSlots]blockSlot
	index map[types.BlockID]int
	next  int
}

// NewBlockCache returns an empty block cache.
func NewBlockCache() *BlockCache {
	return &BlockCache{index: make(map[types.BlockID]int)}
}

// Get returns the cached bytes for id, if present.
func (c *BlockCache) Get(id types.BlockID) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.index[id]
	if !ok {
		metrics.HistoryBlockCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.HistoryBlockCacheTotal.WithLabelValues("hit").Inc()
	return c.slots[idx].data, true
}

// Put stores data for id, evicting the oldest slot if the cache is full.
func (c *BlockCache) Put(id types.BlockID, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.index[id]; ok {
		c.slots[idx].data = data
		return
	}
	idx := c.next
	c.next = (c.next + 1) % blockCacheSlots
	if c.slots[idx].valid {
		delete(c.index, c.slots[idx].id)
	}
	c.slots[idx] = blockSlot{id: id, valid: true, data: data}
	c.index[id] = idx
}
