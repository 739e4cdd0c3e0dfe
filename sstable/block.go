// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package sstable

import (
	"encoding/binary"
	"sort"

	"github.com/cobbledb/cobble/internal/base"
)

// Block layout:
//
//	entry 0
//	...
//	entry N-1
//	restart point 0            (4 bytes, little-endian)
//	...
//	restart point M-1
//	restart point count        (4 bytes, little-endian)
//
// Each entry is a varint-encoded header (shared key length, unshared key
// length, value length) followed by the unshared key suffix and the value.
// Keys are encoded internal keys. Every restartInterval-th entry is a
// restart point and stores its key in full (shared == 0), so iteration can
// begin at any restart point without context.

type blockWriter struct {
	restartInterval int
	nEntries        int
	buf             []byte
	restarts        []uint32
	// curKey is the encoded internal key of the most recently added entry.
	curKey []byte
	tmp    [4 * binary.MaxVarintLen64]byte
}

func (w *blockWriter) reset() {
	w.nEntries = 0
	w.buf = w.buf[:0]
	w.restarts = w.restarts[:0]
	w.curKey = w.curKey[:0]
}

func (w *blockWriter) empty() bool {
	return w.nEntries == 0
}

func (w *blockWriter) estimatedSize() int {
	return len(w.buf) + 4*len(w.restarts) + 4
}

// curInternalKey returns the most recently added key. Only valid while the
// writer holds at least one entry.
func (w *blockWriter) curInternalKey() base.InternalKey {
	return base.DecodeInternalKey(w.curKey)
}

func (w *blockWriter) add(key base.InternalKey, value []byte) {
	encoded := key.Encode(w.tmp[:0:0])

	shared := 0
	if w.nEntries%w.restartInterval == 0 {
		w.restarts = append(w.restarts, uint32(len(w.buf)))
	} else {
		shared = base.SharedPrefixLen(w.curKey, encoded)
	}

	n := binary.PutUvarint(w.tmp[:], uint64(shared))
	n += binary.PutUvarint(w.tmp[n:], uint64(len(encoded)-shared))
	n += binary.PutUvarint(w.tmp[n:], uint64(len(value)))
	w.buf = append(w.buf, w.tmp[:n]...)
	w.buf = append(w.buf, encoded[shared:]...)
	w.buf = append(w.buf, value...)

	w.curKey = append(w.curKey[:0], encoded...)
	w.nEntries++
}

// finish appends the restart array and returns the completed block. The
// returned slice aliases the writer's buffer and is invalidated by reset.
func (w *blockWriter) finish() []byte {
	if len(w.restarts) == 0 {
		// An empty block still carries one restart point so that an iterator
		// over it is well formed.
		w.restarts = append(w.restarts, 0)
	}
	var tmp [4]byte
	for _, x := range w.restarts {
		binary.LittleEndian.PutUint32(tmp[:], x)
		w.buf = append(w.buf, tmp[:]...)
	}
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(w.restarts)))
	w.buf = append(w.buf, tmp[:]...)
	return w.buf
}

// blockIter iterates over a single decoded block.
type blockIter struct {
	cmp         base.Compare
	data        []byte
	restarts    int
	numRestarts int
	// offset is the byte offset of the current entry; nextOffset the offset
	// just past it.
	offset     int
	nextOffset int
	key        []byte
	ikey       base.InternalKey
	val        []byte
	valid      bool
	err        error
}

func newBlockIter(cmp base.Compare, data []byte) (*blockIter, error) {
	if len(data) < 4 {
		return nil, base.CorruptionErrorf("cobble/sstable: block too short")
	}
	numRestarts := int(binary.LittleEndian.Uint32(data[len(data)-4:]))
	restarts := len(data) - 4 - 4*numRestarts
	if numRestarts == 0 || restarts < 0 {
		return nil, base.CorruptionErrorf("cobble/sstable: invalid restart count %d", numRestarts)
	}
	return &blockIter{
		cmp:         cmp,
		data:        data,
		restarts:    restarts,
		numRestarts: numRestarts,
	}, nil
}

func (i *blockIter) restartOffset(n int) int {
	return int(binary.LittleEndian.Uint32(i.data[i.restarts+4*n:]))
}

// readEntry decodes the entry at offset, extending i.key with the entry's
// unshared suffix.
func (i *blockIter) readEntry(offset int) bool {
	if offset >= i.restarts {
		i.valid = false
		return false
	}
	p := i.data[offset:i.restarts]
	shared, n0 := binary.Uvarint(p)
	unshared, n1 := binary.Uvarint(p[n0:])
	valueLen, n2 := binary.Uvarint(p[n0+n1:])
	if n0 <= 0 || n1 <= 0 || n2 <= 0 {
		i.corrupt()
		return false
	}
	h := n0 + n1 + n2
	// Bound each length on its own: summing first could wrap around.
	if shared > uint64(len(i.key)) ||
		unshared > uint64(len(p)-h) ||
		valueLen > uint64(len(p)-h)-unshared {
		i.corrupt()
		return false
	}
	i.key = append(i.key[:shared], p[h:h+int(unshared)]...)
	i.val = p[h+int(unshared) : h+int(unshared)+int(valueLen)]
	i.ikey = base.DecodeInternalKey(i.key)
	if !i.ikey.Valid() {
		i.corrupt()
		return false
	}
	i.offset = offset
	i.nextOffset = offset + h + int(unshared) + int(valueLen)
	i.valid = true
	return true
}

func (i *blockIter) corrupt() {
	i.valid = false
	i.err = base.CorruptionErrorf("cobble/sstable: corrupt block entry")
}

// First positions the iterator at the first entry.
func (i *blockIter) First() bool {
	i.key = i.key[:0]
	return i.readEntry(0)
}

// SeekGE positions the iterator at the first entry with an internal key >=
// key.
func (i *blockIter) SeekGE(key base.InternalKey) bool {
	// Binary search the restart points for the last one whose key is < key,
	// then scan forward from it. Restart keys are stored in full.
	index := sort.Search(i.numRestarts, func(n int) bool {
		offset := i.restartOffset(n)
		p := i.data[offset:i.restarts]
		// shared is zero at a restart point.
		_, n0 := binary.Uvarint(p)
		unshared, n1 := binary.Uvarint(p[n0:])
		_, n2 := binary.Uvarint(p[n0+n1:])
		if n0 <= 0 || n1 <= 0 || n2 <= 0 || uint64(len(p)-n0-n1-n2) < unshared {
			return true
		}
		rkey := base.DecodeInternalKey(p[n0+n1+n2 : n0+n1+n2+int(unshared)])
		return base.InternalCompare(i.cmp, rkey, key) >= 0
	})
	if index > 0 {
		index--
	}
	i.key = i.key[:0]
	if !i.readEntry(i.restartOffset(index)) {
		return false
	}
	for base.InternalCompare(i.cmp, i.ikey, key) < 0 {
		if !i.readEntry(i.nextOffset) {
			return false
		}
	}
	return true
}

// Next advances the iterator.
func (i *blockIter) Next() bool {
	if !i.valid {
		return false
	}
	return i.readEntry(i.nextOffset)
}

// Valid reports whether the iterator is positioned at an entry.
func (i *blockIter) Valid() bool { return i.valid }

// Key returns the current entry's internal key.
func (i *blockIter) Key() base.InternalKey { return i.ikey }

// Value returns the current entry's value.
func (i *blockIter) Value() []byte { return i.val }

// Error returns any corruption encountered while iterating.
func (i *blockIter) Error() error { return i.err }

// Close releases the iterator.
func (i *blockIter) Close() error {
	i.data = nil
	i.valid = false
	return i.err
}
