// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package sstable

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/cobbledb/cobble/internal/base"
	"github.com/cobbledb/cobble/vfs"
)

// WriterOptions configure a table writer.
type WriterOptions struct {
	// BlockSize is the target uncompressed size of a data block.
	BlockSize int

	// BlockRestartInterval is the number of entries between restart points.
	BlockRestartInterval int

	// Compression is the codec applied to data and index blocks.
	Compression Compression

	// Checksum protects every block in the file.
	Checksum ChecksumType

	// FilterPolicy builds the membership filter. A nil policy disables the
	// filter block.
	FilterPolicy FilterPolicy

	// Comparer defines the key ordering. Entries must be added in ascending
	// internal key order under this comparer.
	Comparer *base.Comparer
}

func (o WriterOptions) ensureDefaults() WriterOptions {
	if o.BlockSize <= 0 {
		o.BlockSize = 4096
	}
	if o.BlockRestartInterval <= 0 {
		o.BlockRestartInterval = 16
	}
	if o.Checksum == 0 {
		o.Checksum = ChecksumTypeCRC32c
	}
	if o.Comparer == nil {
		o.Comparer = base.DefaultComparer
	}
	return o
}

// WriterMetadata describes a completed table.
type WriterMetadata struct {
	// Smallest and Largest are the inclusive bounds of the internal keys in
	// the table.
	Smallest, Largest base.InternalKey
	// Size is the file size in bytes.
	Size uint64
	// NumEntries is the number of entries written.
	NumEntries uint64
}

// Writer writes a table file. Entries must be added in strictly ascending
// internal key order; an out-of-order add is a programming error, poisons
// the writer, and fails the table.
type Writer struct {
	f    vfs.File
	opts WriterOptions

	block  blockWriter
	index  blockWriter
	filter FilterWriter

	offset uint64
	meta   WriterMetadata
	err    error
	closed bool

	// lastKey is the encoded largest key of the most recently finished data
	// block; pendingIndex is that block's handle, awaiting an index entry
	// whose separator depends on the next block's first key.
	lastKey      []byte
	pendingIndex BlockHandle
	hasPending   bool

	compressBuf []byte
	tmp         [footerLen]byte
}

// NewWriter returns a table writer over f. The writer takes ownership of f:
// Close syncs and closes it.
func NewWriter(f vfs.File, o WriterOptions) *Writer {
	o = o.ensureDefaults()
	w := &Writer{
		f:    f,
		opts: o,
		block: blockWriter{
			restartInterval: o.BlockRestartInterval,
		},
		index: blockWriter{
			restartInterval: 1,
		},
	}
	if o.FilterPolicy != nil {
		w.filter = o.FilterPolicy.NewWriter()
	}
	return w
}

// Add appends an entry to the table.
func (w *Writer) Add(key base.InternalKey, value []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		w.err = errors.AssertionFailedf("cobble/sstable: add to closed writer")
		return w.err
	}
	if w.meta.NumEntries > 0 {
		prev := base.DecodeInternalKey(w.prevKey())
		if base.InternalCompare(w.opts.Comparer.Compare, prev, key) >= 0 {
			w.err = errors.AssertionFailedf(
				"cobble/sstable: keys added out of order: %s then %s", prev, key)
			return w.err
		}
	} else {
		w.meta.Smallest = key.Clone()
	}

	if w.hasPending {
		w.flushPendingIndex(key)
	}
	if w.filter != nil {
		w.filter.AddKey(key.UserKey)
	}
	w.block.add(key, value)
	w.meta.NumEntries++

	if w.block.estimatedSize() >= w.opts.BlockSize {
		w.finishDataBlock()
	}
	return w.err
}

// prevKey returns the encoded key of the most recently added entry.
func (w *Writer) prevKey() []byte {
	if !w.block.empty() {
		return w.block.curKey
	}
	return w.lastKey
}

// EstimatedSize returns the approximate size of the file if it were
// finished now, used by compactions to split output files.
func (w *Writer) EstimatedSize() uint64 {
	return w.offset + uint64(w.block.estimatedSize())
}

// flushPendingIndex writes the deferred index entry for the last finished
// data block, using next (the first key of the following block) to shorten
// the separator. A zero next means there is no following block.
func (w *Writer) flushPendingIndex(next base.InternalKey) {
	last := base.DecodeInternalKey(w.lastKey)
	var sep base.InternalKey
	if next.UserKey == nil {
		sep = last.Successor(w.opts.Comparer.Compare, w.opts.Comparer.Successor, nil)
	} else {
		sep = last.Separator(w.opts.Comparer.Compare, w.opts.Comparer.Separator, nil, next)
	}
	var handle [2 * binary.MaxVarintLen64]byte
	n := encodeBlockHandle(handle[:], w.pendingIndex)
	w.index.add(sep, handle[:n])
	w.hasPending = false
}

func (w *Writer) finishDataBlock() {
	if w.block.empty() || w.err != nil {
		return
	}
	w.lastKey = append(w.lastKey[:0], w.block.curKey...)
	handle, err := w.writeBlock(w.block.finish(), w.opts.Compression)
	if err != nil {
		w.err = err
		return
	}
	w.pendingIndex = handle
	w.hasPending = true
	w.block.reset()
}

// writeBlock writes b with a trailer and returns its handle.
func (w *Writer) writeBlock(b []byte, compression Compression) (BlockHandle, error) {
	codec, payload := compressBlock(compression, b, w.compressBuf)
	if codec != NoCompression {
		w.compressBuf = payload[:0]
	}

	var trailer [blockTrailerLen]byte
	trailer[0] = byte(codec)
	binary.LittleEndian.PutUint32(trailer[1:], checksumValue(w.opts.Checksum, payload, byte(codec)))

	if _, err := w.f.Write(payload); err != nil {
		return BlockHandle{}, err
	}
	if _, err := w.f.Write(trailer[:]); err != nil {
		return BlockHandle{}, err
	}
	handle := BlockHandle{Offset: w.offset, Length: uint64(len(payload))}
	w.offset += uint64(len(payload)) + blockTrailerLen
	return handle, nil
}

// Close finishes the table: it flushes the final data block, writes the
// filter and index blocks and the footer, syncs the file, and closes it.
// The table must not be considered durable until Close returns nil.
func (w *Writer) Close() (err error) {
	defer func() {
		if w.f != nil {
			if cerr := w.f.Close(); cerr != nil && err == nil {
				err = cerr
			}
			w.f = nil
		}
		if err != nil && w.err == nil {
			w.err = err
		}
		w.closed = true
	}()
	if w.err != nil {
		return w.err
	}

	w.finishDataBlock()
	if w.hasPending {
		w.flushPendingIndex(base.InternalKey{})
	}
	if w.err != nil {
		return w.err
	}

	var ftr footer
	ftr.checksum = w.opts.Checksum
	if w.filter != nil {
		if b := w.filter.Finish(); len(b) > 0 {
			// The filter block is consulted on every point read; it is
			// stored uncompressed.
			ftr.filter, err = w.writeBlock(b, NoCompression)
			if err != nil {
				return err
			}
		}
	}
	ftr.index, err = w.writeBlock(w.index.finish(), w.opts.Compression)
	if err != nil {
		return err
	}
	if _, err = w.f.Write(ftr.encode(w.tmp[:])); err != nil {
		return err
	}
	w.offset += uint64(footerLen)

	if err = w.f.Sync(); err != nil {
		return err
	}
	w.meta.Size = w.offset
	if w.meta.NumEntries > 0 {
		w.meta.Largest = base.DecodeInternalKey(w.lastKey).Clone()
	}
	return nil
}

// Metadata returns the completed table's metadata. It must only be called
// after Close returned nil.
func (w *Writer) Metadata() (*WriterMetadata, error) {
	if !w.closed {
		return nil, errors.AssertionFailedf("cobble/sstable: metadata requested before close")
	}
	if w.err != nil {
		return nil, w.err
	}
	return &w.meta, nil
}
