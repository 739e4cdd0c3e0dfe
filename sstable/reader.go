// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package sstable

import (
	"encoding/binary"

	"github.com/cobbledb/cobble/internal/base"
	"github.com/cobbledb/cobble/internal/cache"
	"github.com/cobbledb/cobble/vfs"
)

// ReaderOptions configure a table reader.
type ReaderOptions struct {
	// Comparer must match the comparer the table was written with.
	Comparer *base.Comparer

	// FilterPolicy interprets the table's filter block. A nil policy, or a
	// policy whose name differs from the writer's, disables the filter.
	FilterPolicy FilterPolicy

	// Cache is the shared block cache. May be nil.
	Cache *cache.Cache

	// FileNum identifies the table within the cache and in error messages.
	FileNum base.FileNum
}

// Reader reads a table file. It is safe for concurrent use.
type Reader struct {
	f    vfs.File
	opts ReaderOptions
	cmp  base.Compare

	checksum ChecksumType
	// index is the decoded index block, pinned for the reader's lifetime.
	// filter is the decoded filter block, nil if the table has none or the
	// policy is nil.
	index  []byte
	filter []byte
}

// NewReader opens the table in f, whose length is size bytes. The reader
// takes ownership of f and closes it on Close. The footer, index block, and
// filter block are read eagerly so that later corruption surfaces as a read
// error rather than an open error.
func NewReader(f vfs.File, size int64, o ReaderOptions) (*Reader, error) {
	if o.Comparer == nil {
		o.Comparer = base.DefaultComparer
	}
	r := &Reader{
		f:    f,
		opts: o,
		cmp:  o.Comparer.Compare,
	}
	if size < int64(footerLen) {
		return nil, base.CorruptionErrorf("cobble/sstable: table %s: invalid size %d", o.FileNum, size)
	}
	var buf [footerLen]byte
	if _, err := f.ReadAt(buf[:], size-int64(footerLen)); err != nil {
		return nil, err
	}
	ftr, err := decodeFooter(buf[:], o.FileNum)
	if err != nil {
		return nil, err
	}
	r.checksum = ftr.checksum
	if r.index, err = r.readBlock(ftr.index); err != nil {
		return nil, err
	}
	if o.FilterPolicy != nil && ftr.filter.Length > 0 {
		if r.filter, err = r.readBlock(ftr.filter); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// readBlock reads, verifies, and decompresses the block at h, consulting
// the shared cache first.
func (r *Reader) readBlock(h BlockHandle) ([]byte, error) {
	return r.opts.Cache.GetOrLoad(r.opts.FileNum, h.Offset, func() ([]byte, error) {
		raw := make([]byte, h.Length+blockTrailerLen)
		if _, err := r.f.ReadAt(raw, int64(h.Offset)); err != nil {
			return nil, err
		}
		payload := raw[:h.Length]
		codec := raw[h.Length]
		want := binary.LittleEndian.Uint32(raw[h.Length+1:])
		if got := checksumValue(r.checksum, payload, codec); got != want {
			return nil, base.CorruptionErrorf(
				"cobble/sstable: table %s: block at %d: checksum mismatch %08x != %08x",
				r.opts.FileNum, h.Offset, got, want)
		}
		b, err := decompressBlock(Compression(codec), payload)
		if err != nil {
			return nil, base.CorruptionErrorf(
				"cobble/sstable: table %s: block at %d: %v", r.opts.FileNum, h.Offset, err)
		}
		return b, nil
	})
}

// MayContain reports whether the table may contain the user key. A false
// return is definitive.
func (r *Reader) MayContain(ukey []byte) bool {
	if r.filter == nil {
		return true
	}
	return r.opts.FilterPolicy.MayContain(r.filter, ukey)
}

// NewIter returns an iterator over the table's entries in internal key
// order.
func (r *Reader) NewIter() base.InternalIterator {
	index, err := newBlockIter(r.cmp, r.index)
	if err != nil {
		return &tableIter{err: err}
	}
	return &tableIter{r: r, index: index}
}

// Close releases the reader. It must not be called while iterators over the
// table remain open.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// tableIter is a two-level iterator: the index block locates data blocks,
// and a nested block iterator walks the current data block.
type tableIter struct {
	r     *Reader
	index *blockIter
	data  *blockIter
	err   error
}

var _ base.InternalIterator = (*tableIter)(nil)

// loadBlock opens a data block iterator for the index entry the index
// iterator is positioned at.
func (i *tableIter) loadBlock() bool {
	i.data = nil
	h, n := decodeBlockHandle(i.index.Value())
	if n == 0 {
		i.err = base.CorruptionErrorf(
			"cobble/sstable: table %s: corrupt index entry", i.r.opts.FileNum)
		return false
	}
	b, err := i.r.readBlock(h)
	if err != nil {
		i.err = err
		return false
	}
	i.data, i.err = newBlockIter(i.r.cmp, b)
	return i.err == nil
}

func (i *tableIter) First() bool {
	if i.err != nil {
		return false
	}
	if !i.index.First() {
		i.err = i.index.Error()
		return false
	}
	if !i.loadBlock() {
		return false
	}
	if !i.data.First() {
		i.err = i.data.Error()
		return false
	}
	return true
}

func (i *tableIter) SeekGE(key base.InternalKey) bool {
	if i.err != nil {
		return false
	}
	// The index maps each block's separator (>= its last key) to the block,
	// so the first index entry >= key names the only block that can hold an
	// entry >= key but <= its separator.
	if !i.index.SeekGE(key) {
		i.err = i.index.Error()
		return false
	}
	if !i.loadBlock() {
		return false
	}
	if i.data.SeekGE(key) {
		return true
	}
	if i.err = i.data.Error(); i.err != nil {
		return false
	}
	// key falls in the gap between this block's last key and its separator;
	// the answer is the next block's first entry.
	return i.nextBlock()
}

// nextBlock advances to the first entry of the next data block.
func (i *tableIter) nextBlock() bool {
	if !i.index.Next() {
		i.err = i.index.Error()
		i.data = nil
		return false
	}
	if !i.loadBlock() {
		return false
	}
	if !i.data.First() {
		i.err = i.data.Error()
		return false
	}
	return true
}

func (i *tableIter) Next() bool {
	if i.err != nil || i.data == nil {
		return false
	}
	if i.data.Next() {
		return true
	}
	if i.err = i.data.Error(); i.err != nil {
		return false
	}
	return i.nextBlock()
}

func (i *tableIter) Valid() bool {
	return i.err == nil && i.data != nil && i.data.Valid()
}

func (i *tableIter) Key() base.InternalKey { return i.data.Key() }

func (i *tableIter) Value() []byte { return i.data.Value() }

func (i *tableIter) Error() error { return i.err }

func (i *tableIter) Close() error {
	i.data = nil
	i.index = nil
	return i.err
}
