// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package cobble

import (
	"encoding/binary"

	"github.com/cobbledb/cobble/internal/base"
)

const (
	// Batch wire format: an 8-byte little-endian base sequence number and a
	// 4-byte little-endian entry count, followed by the entries. Each entry
	// is a kind byte, a varint-prefixed user key, and, for sets, a
	// varint-prefixed value. The same bytes are the payload of the batch's
	// write ahead log record.
	batchHeaderLen = 12
)

// Batch is a sequence of Sets and Deletes that are applied atomically: after
// a crash either every entry of the batch is recovered or none is. Entries
// are applied in the order they were added, so a later entry for the same
// key wins.
//
// A Batch is not safe for concurrent use, and must not be modified or
// reused while an Apply of it is in flight.
type Batch struct {
	// data is the wire format. The sequence number in the header is zero
	// until the batch is committed.
	data []byte
}

func (b *Batch) init(n int) {
	if b.data == nil {
		size := batchHeaderLen
		for size < batchHeaderLen+n {
			size *= 2
		}
		b.data = make([]byte, batchHeaderLen, size)
	}
}

// Set adds a key/value entry to the batch.
func (b *Batch) Set(key, value []byte) {
	b.init(len(key) + len(value) + 2*binary.MaxVarintLen64 + 1)
	b.data = append(b.data, byte(base.InternalKeyKindSet))
	b.appendStr(key)
	b.appendStr(value)
	b.setCount(b.Count() + 1)
}

// Delete adds a deletion entry to the batch.
func (b *Batch) Delete(key []byte) {
	b.init(len(key) + binary.MaxVarintLen64 + 1)
	b.data = append(b.data, byte(base.InternalKeyKindDelete))
	b.appendStr(key)
	b.setCount(b.Count() + 1)
}

func (b *Batch) appendStr(s []byte) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(len(s)))
	b.data = append(b.data, buf[:n]...)
	b.data = append(b.data, s...)
}

// Empty reports whether the batch holds no entries.
func (b *Batch) Empty() bool {
	return len(b.data) <= batchHeaderLen
}

// Count returns the number of entries in the batch.
func (b *Batch) Count() uint32 {
	if len(b.data) < batchHeaderLen {
		return 0
	}
	return binary.LittleEndian.Uint32(b.data[8:12])
}

func (b *Batch) setCount(n uint32) {
	binary.LittleEndian.PutUint32(b.data[8:12], n)
}

// SeqNum returns the sequence number assigned to the batch's first entry.
// It is zero until the batch has been committed.
func (b *Batch) SeqNum() base.SeqNum {
	if len(b.data) < batchHeaderLen {
		return 0
	}
	return base.SeqNum(binary.LittleEndian.Uint64(b.data[:8]))
}

func (b *Batch) setSeqNum(seqNum base.SeqNum) {
	binary.LittleEndian.PutUint64(b.data[:8], uint64(seqNum))
}

// Reset clears the batch for reuse.
func (b *Batch) Reset() {
	if b.data != nil {
		b.data = b.data[:batchHeaderLen]
		clear(b.data)
	}
}

// iter returns a reader over the batch's entries.
func (b *Batch) iter() batchReader {
	if len(b.data) < batchHeaderLen {
		return nil
	}
	return b.data[batchHeaderLen:]
}

// batchReader decodes batch entries. It is also used during write ahead log
// replay, where the batch bytes come off disk.
type batchReader []byte

// next decodes the next entry. ok is false at the end of the batch or on a
// malformed entry; the caller distinguishes the two by whether the reader
// is empty.
func (r *batchReader) next() (kind base.InternalKeyKind, ukey []byte, value []byte, ok bool) {
	p := *r
	if len(p) == 0 {
		return 0, nil, nil, false
	}
	kind = base.InternalKeyKind(p[0])
	if kind > base.InternalKeyKindMax {
		return 0, nil, nil, false
	}
	p = p[1:]
	ukey, p, ok = decodeStr(p)
	if !ok {
		return 0, nil, nil, false
	}
	if kind == base.InternalKeyKindSet {
		value, p, ok = decodeStr(p)
		if !ok {
			return 0, nil, nil, false
		}
	}
	*r = p
	return kind, ukey, value, true
}

func decodeStr(p []byte) (s []byte, rest []byte, ok bool) {
	n, m := binary.Uvarint(p)
	if m <= 0 || n > uint64(len(p)-m) {
		return nil, p, false
	}
	return p[m : m+int(n)], p[m+int(n):], true
}

// batchRepr validates that data looks like a batch wire image and returns
// it as a Batch for replay.
func batchRepr(data []byte) (*Batch, bool) {
	if len(data) < batchHeaderLen {
		return nil, false
	}
	return &Batch{data: data}, true
}
