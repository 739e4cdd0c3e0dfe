// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package cobble

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/cobbledb/cobble/internal/base"
	"github.com/cobbledb/cobble/internal/cache"
	"github.com/cobbledb/cobble/sstable"
	"github.com/cobbledb/cobble/vfs"
)

const tableCacheSize = 128

// tableCache keeps a bounded number of table files open, each with its
// decoded index and filter, so point reads and iterators do not reopen
// files. Nodes are reference counted: the cache's map holds one reference,
// and every open iterator over the table holds another, so evicting or
// closing a table does not invalidate in-flight reads.
type tableCache struct {
	dirname    string
	fs         vfs.FS
	opts       *Options
	blockCache *cache.Cache

	mu    sync.Mutex
	nodes map[base.FileNum]*tableCacheNode
	// dummy is the sentinel of the LRU ring; dummy.next is the most recently
	// used node.
	dummy tableCacheNode
}

type tableCacheNode struct {
	fileNum base.FileNum

	// loaded is closed once reader and err are set. Opening happens outside
	// the cache mutex; concurrent lookups of the same table wait on it.
	loaded chan struct{}
	reader *sstable.Reader
	err    error

	// refs is guarded by tableCache.mu.
	refs       int
	next, prev *tableCacheNode
}

func (c *tableCache) init(dirname string, opts *Options, blockCache *cache.Cache) {
	c.dirname = dirname
	c.fs = opts.FS
	c.opts = opts
	c.blockCache = blockCache
	c.nodes = make(map[base.FileNum]*tableCacheNode)
	c.dummy.next = &c.dummy
	c.dummy.prev = &c.dummy
}

// find returns a referenced node for fileNum, opening the table on a miss.
// The caller must release the node when done with its reader.
func (c *tableCache) find(fileNum base.FileNum) (*tableCacheNode, error) {
	c.mu.Lock()
	n := c.nodes[fileNum]
	if n == nil {
		n = &tableCacheNode{
			fileNum: fileNum,
			loaded:  make(chan struct{}),
			refs:    1,
		}
		c.nodes[fileNum] = n
		n.next = c.dummy.next
		n.prev = &c.dummy
		n.prev.next = n
		n.next.prev = n
		if len(c.nodes) > tableCacheSize {
			// Evict the least recently used node. Its reader closes once any
			// outstanding references drain.
			c.releaseNodeLocked(c.dummy.prev)
		}
		go n.load(c)
	} else {
		// Move to the front of the LRU ring.
		n.prev.next = n.next
		n.next.prev = n.prev
		n.next = c.dummy.next
		n.prev = &c.dummy
		n.prev.next = n
		n.next.prev = n
	}
	n.refs++
	c.mu.Unlock()

	<-n.loaded
	if n.err != nil {
		c.release(n)
		return nil, n.err
	}
	return n, nil
}

func (n *tableCacheNode) load(c *tableCache) {
	defer close(n.loaded)
	f, err := c.fs.Open(base.MakeFilename(c.dirname, base.FileTypeTable, n.fileNum))
	if err != nil {
		n.err = err
		return
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		n.err = err
		return
	}
	n.reader, n.err = sstable.NewReader(f, stat.Size(), sstable.ReaderOptions{
		Comparer:     c.opts.Comparer,
		FilterPolicy: c.opts.FilterPolicy,
		Cache:        c.blockCache,
		FileNum:      n.fileNum,
	})
}

// releaseNodeLocked removes a node from the map and the ring and drops the
// map's reference. c.mu must be held.
func (c *tableCache) releaseNodeLocked(n *tableCacheNode) {
	delete(c.nodes, n.fileNum)
	n.prev.next = n.next
	n.next.prev = n.prev
	n.next, n.prev = nil, nil
	c.unrefLocked(n)
}

func (c *tableCache) unrefLocked(n *tableCacheNode) {
	n.refs--
	if n.refs == 0 {
		go func() {
			<-n.loaded
			if n.reader != nil {
				_ = n.reader.Close()
			}
		}()
	}
}

// release drops a reference obtained from find.
func (c *tableCache) release(n *tableCacheNode) {
	c.mu.Lock()
	c.unrefLocked(n)
	c.mu.Unlock()
}

// newIter returns an iterator over the given table. Closing the iterator
// releases the table.
func (c *tableCache) newIter(fileNum base.FileNum) (base.InternalIterator, error) {
	n, err := c.find(fileNum)
	if err != nil {
		return nil, err
	}
	return &tableCacheIter{
		InternalIterator: n.reader.NewIter(),
		cache:            c,
		node:             n,
	}, nil
}

// withReader calls fn with the table's reader, holding a reference for the
// duration of the call.
func (c *tableCache) withReader(fileNum base.FileNum, fn func(*sstable.Reader) error) error {
	n, err := c.find(fileNum)
	if err != nil {
		return err
	}
	defer c.release(n)
	return fn(n.reader)
}

// evict drops the cached table and its blocks. Called when the file is
// about to be deleted.
func (c *tableCache) evict(fileNum base.FileNum) {
	c.mu.Lock()
	if n := c.nodes[fileNum]; n != nil {
		c.releaseNodeLocked(n)
	}
	c.mu.Unlock()
	c.blockCache.EvictFile(fileNum)
}

func (c *tableCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.nodes {
		if n.refs != 1 {
			return errors.AssertionFailedf(
				"cobble: table %s still referenced at close", n.fileNum)
		}
		c.unrefLocked(n)
	}
	c.nodes = nil
	c.dummy.next = &c.dummy
	c.dummy.prev = &c.dummy
	return nil
}

// tableCacheIter wraps a table iterator, releasing the table on Close.
type tableCacheIter struct {
	base.InternalIterator
	cache *tableCache
	node  *tableCacheNode
}

func (i *tableCacheIter) Close() error {
	err := i.InternalIterator.Close()
	if i.node != nil {
		i.cache.release(i.node)
		i.node = nil
	}
	return err
}
