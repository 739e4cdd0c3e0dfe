// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package memtable provides the in-memory ordered write buffer at the head
// of the LSM tree.
//
// A MemTable is a skiplist keyed by internal key. There is a single writer
// (the commit path, which is serialized by the DB) and any number of
// concurrent readers. Readers never take a lock: node links are atomic
// pointers, and a node is fully initialized before it is linked in, so a
// reader observes either the list before an insert or after it, never a torn
// state. An iterator reflects inserts made after its creation only if they
// land ahead of its current position; snapshot consistency is enforced above
// this layer by filtering on sequence number.
//
// A MemTable's memory use only grows. When it exceeds its configured size
// the DB seals it, queues it for flush, and starts a fresh one. Writing to a
// sealed MemTable is a programming error and panics.
package memtable

import (
	"math/rand/v2"
	"sync/atomic"

	"github.com/cobbledb/cobble/internal/base"
)

const maxHeight = 12

// node is a skiplist node. Its key and value are immutable after
// construction; only the next links change, and only while the node below
// the splice is already reachable.
type node struct {
	key   base.InternalKey
	value []byte
	next  []atomic.Pointer[node]
}

// MemTable is an in-memory ordered container of internal keys and values.
type MemTable struct {
	cmp    base.Compare
	head   *node
	height atomic.Int32
	size   atomic.Int64
	sealed atomic.Bool
	rng    *rand.Rand

	// logNum is the file number of the write-ahead log holding this
	// memtable's entries. The log can be deleted once the memtable's
	// contents are durable in a table.
	logNum base.FileNum
}

// New returns an empty MemTable ordered by cmp.
func New(cmp base.Compare) *MemTable {
	h := &node{next: make([]atomic.Pointer[node], maxHeight)}
	m := &MemTable{
		cmp:  cmp,
		head: h,
		rng:  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	m.height.Store(1)
	return m
}

// LogNum returns the file number of the log associated with this memtable.
func (m *MemTable) LogNum() base.FileNum { return m.logNum }

// SetLogNum records the file number of the log holding this memtable's
// entries.
func (m *MemTable) SetLogNum(n base.FileNum) { m.logNum = n }

// Seal marks the memtable immutable. Subsequent Set calls panic. Sealing is
// idempotent.
func (m *MemTable) Seal() { m.sealed.Store(true) }

// Empty reports whether the memtable holds no entries.
func (m *MemTable) Empty() bool {
	return m.head.next[0].Load() == nil
}

// ApproximateSize returns the approximate byte size of the keys and values
// inserted so far. It is safe to call concurrently with inserts.
func (m *MemTable) ApproximateSize() int64 {
	return m.size.Load()
}

// findGE returns the first node whose key is >= key. If prev is non-nil it
// is filled with the preceding node at each height, for use as an insertion
// splice.
func (m *MemTable) findGE(key base.InternalKey, prev *[maxHeight]*node) *node {
	p := m.head
	var n *node
	for h := int(m.height.Load()) - 1; h >= 0; h-- {
		n = p.next[h].Load()
		for n != nil && base.InternalCompare(m.cmp, n.key, key) < 0 {
			p, n = n, n.next[h].Load()
		}
		if prev != nil {
			prev[h] = p
		}
	}
	return n
}

// Set inserts an entry. Keys are unique by (user key, trailer): the commit
// path never assigns the same sequence number to two entries with one user
// key, so exact duplicates cannot occur.
func (m *MemTable) Set(key base.InternalKey, value []byte) {
	if m.sealed.Load() {
		panic("cobble/memtable: set on sealed memtable")
	}
	var prev [maxHeight]*node
	m.findGE(key, &prev)

	h := 1
	for h < maxHeight && m.rng.IntN(4) == 0 {
		h++
	}
	if lh := int(m.height.Load()); lh < h {
		for i := lh; i < h; i++ {
			prev[i] = m.head
		}
		// Readers loading the old height simply skip the new upper levels.
		m.height.Store(int32(h))
	}

	n := &node{
		key:   key.Clone(),
		value: append([]byte(nil), value...),
		next:  make([]atomic.Pointer[node], h),
	}
	// Link bottom-up so the complete (level 0) list always contains any node
	// visible at a higher level.
	for i := 0; i < h; i++ {
		n.next[i].Store(prev[i].next[i].Load())
	}
	for i := 0; i < h; i++ {
		prev[i].next[i].Store(n)
	}
	m.size.Add(int64(key.Size() + len(value)))
}

// Get returns the value of the newest entry for ukey visible at seqNum.
// conclusive is false if the memtable holds no visible entry for ukey at
// all. If the newest visible entry is a tombstone, conclusive is true and
// err is base.ErrNotFound.
func (m *MemTable) Get(ukey []byte, seqNum base.SeqNum) (value []byte, conclusive bool, err error) {
	n := m.findGE(base.MakeSearchKey(ukey, seqNum), nil)
	if n == nil || m.cmp(n.key.UserKey, ukey) != 0 {
		return nil, false, nil
	}
	if n.key.Kind() == base.InternalKeyKindDelete {
		return nil, true, base.ErrNotFound
	}
	return n.value, true, nil
}

// NewIter returns an iterator over the memtable's entries in internal key
// order. The iterator is initially unpositioned.
func (m *MemTable) NewIter() *Iter {
	return &Iter{m: m}
}

// Iter is an iterator over a MemTable. It is not safe for concurrent use,
// but any number of iterators may run concurrently with each other and with
// the writer.
type Iter struct {
	m *MemTable
	n *node
}

// First positions the iterator at the first entry.
func (it *Iter) First() bool {
	it.n = it.m.head.next[0].Load()
	return it.n != nil
}

// SeekGE positions the iterator at the first entry whose key is >= key.
func (it *Iter) SeekGE(key base.InternalKey) bool {
	it.n = it.m.findGE(key, nil)
	return it.n != nil
}

// Next advances the iterator.
func (it *Iter) Next() bool {
	if it.n == nil {
		return false
	}
	it.n = it.n.next[0].Load()
	return it.n != nil
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iter) Valid() bool { return it.n != nil }

// Key returns the current entry's key. It must not be mutated.
func (it *Iter) Key() base.InternalKey { return it.n.key }

// Value returns the current entry's value. It must not be mutated.
func (it *Iter) Value() []byte { return it.n.value }

// Error always returns nil. Iterating memory cannot fail.
func (it *Iter) Error() error { return nil }

// Close releases the iterator.
func (it *Iter) Close() error {
	it.n = nil
	return nil
}
