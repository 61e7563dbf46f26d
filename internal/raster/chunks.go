package raster

import "container/list"

const defaultChunkCacheSize = 16

// chunkCache keeps the most recently decoded chunks of one layer.
type chunkCache struct {
	size    int
	order   *list.List
	entries map[int]*list.Element
}

type chunkEntry struct {
	idx  int
	data []byte
}

func newChunkCache(size int) *chunkCache {
	if size <= 0 {
		size = defaultChunkCacheSize
	}
	return &chunkCache{size: size, order: list.New(), entries: make(map[int]*list.Element)}
}

func (c *chunkCache) get(idx int) ([]byte, bool) {
	el, ok := c.entries[idx]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*chunkEntry).data, true
}

func (c *chunkCache) put(idx int, data []byte) {
	if el, ok := c.entries[idx]; ok {
		el.Value.(*chunkEntry).data = data
		c.order.MoveToFront(el)
		return
	}
	c.entries[idx] = c.order.PushFront(&chunkEntry{idx: idx, data: data})
	if c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*chunkEntry).idx)
	}
}
