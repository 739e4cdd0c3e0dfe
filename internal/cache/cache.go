// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package cache implements the shared block cache. The cache maps
// (file number, block offset) pairs to decoded block contents and bounds
// the total decoded bytes held, evicting the least recently used blocks
// when over capacity.
package cache

import (
	"strconv"
	"sync"

	"github.com/cockroachdb/swiss"
	"golang.org/x/sync/singleflight"

	"github.com/cobbledb/cobble/internal/base"
)

type key struct {
	fileNum base.FileNum
	offset  uint64
}

type entry struct {
	key   key
	value []byte
	// LRU ring links. The cache's root entry is a sentinel; root.next is the
	// most recently used entry and root.prev the least.
	prev, next *entry
}

// Cache is a fixed-capacity block cache shared by all open tables of a
// store. A nil *Cache is a valid, always-empty cache.
type Cache struct {
	mu      sync.Mutex
	maxSize int64
	size    int64
	blocks  *swiss.Map[key, *entry]
	root    entry

	// loading coalesces concurrent loads of the same block so a popular
	// block is read and decoded once.
	loading singleflight.Group
}

// New returns a cache holding at most size bytes of decoded blocks.
func New(size int64) *Cache {
	c := &Cache{
		maxSize: size,
		blocks:  swiss.New[key, *entry](16),
	}
	c.root.prev = &c.root
	c.root.next = &c.root
	return c
}

func (c *Cache) unlink(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev, e.next = nil, nil
}

func (c *Cache) pushFront(e *entry) {
	e.prev = &c.root
	e.next = c.root.next
	e.prev.next = e
	e.next.prev = e
}

// Get returns the cached block for the given file and offset, or nil. The
// returned slice must not be modified.
func (c *Cache) Get(fileNum base.FileNum, offset uint64) []byte {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.blocks.Get(key{fileNum, offset})
	if !ok {
		return nil
	}
	c.unlink(e)
	c.pushFront(e)
	return e.value
}

// Set inserts a block, evicting least recently used blocks if the cache is
// over capacity. The cache takes ownership of value.
func (c *Cache) Set(fileNum base.FileNum, offset uint64, value []byte) {
	if c == nil || int64(len(value)) > c.maxSize {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key{fileNum, offset}
	if e, ok := c.blocks.Get(k); ok {
		c.size += int64(len(value)) - int64(len(e.value))
		e.value = value
		c.unlink(e)
		c.pushFront(e)
	} else {
		e := &entry{key: k, value: value}
		c.blocks.Put(k, e)
		c.size += int64(len(value))
		c.pushFront(e)
	}
	for c.size > c.maxSize {
		lru := c.root.prev
		c.unlink(lru)
		c.blocks.Delete(lru.key)
		c.size -= int64(len(lru.value))
	}
}

// GetOrLoad returns the cached block for the given file and offset, calling
// load on a miss and caching its result. Concurrent loads of the same block
// are coalesced into a single call.
func (c *Cache) GetOrLoad(
	fileNum base.FileNum, offset uint64, load func() ([]byte, error),
) ([]byte, error) {
	if c == nil {
		return load()
	}
	if b := c.Get(fileNum, offset); b != nil {
		return b, nil
	}
	sfKey := strconv.FormatUint(uint64(fileNum), 16) + "/" + strconv.FormatUint(offset, 16)
	v, err, _ := c.loading.Do(sfKey, func() (interface{}, error) {
		if b := c.Get(fileNum, offset); b != nil {
			return b, nil
		}
		b, err := load()
		if err != nil {
			return nil, err
		}
		c.Set(fileNum, offset, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// EvictFile drops every cached block belonging to fileNum. It is called
// when a table file is deleted so its blocks stop occupying capacity.
func (c *Cache) EvictFile(fileNum base.FileNum) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.root.next; e != &c.root; {
		next := e.next
		if e.key.fileNum == fileNum {
			c.unlink(e)
			c.blocks.Delete(e.key)
			c.size -= int64(len(e.value))
		}
		e = next
	}
}

// Size returns the decoded bytes currently held.
func (c *Cache) Size() int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
