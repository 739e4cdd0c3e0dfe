// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package sstable implements readers and writers for the sorted-string
// table file format.
//
// A table is a one-time constructed, immutable, sorted run of entries:
//
//	<data block 0>
//	...
//	<data block N-1>
//	<filter block>
//	<index block>
//	<footer>
//
// Each block is followed by a 5-byte trailer holding a one-byte compression
// codec and a four-byte checksum of the compressed payload plus the codec
// byte. Data blocks hold entries with restart-point prefix compression. The
// index block maps a separator key >= the last key of each data block to
// that block's handle. The filter block holds a serialized membership filter
// over the table's user keys. The footer holds the filter and index handles,
// the checksum type, and a magic number.
package sstable

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/cobbledb/cobble/internal/base"
	"github.com/cobbledb/cobble/internal/crc"
)

const (
	blockTrailerLen = 5
	// Two varint-encoded block handles plus padding.
	footerHandlesLen = 2 * (2 * binary.MaxVarintLen64)
	// Handles, checksum type byte, 8-byte magic.
	footerLen = footerHandlesLen + 1 + len(tableMagic)

	tableMagic = "\x63\x6f\x62\x62\x6c\x65\x30\x31"
)

// ChecksumType identifies the checksum algorithm protecting each block.
type ChecksumType byte

// The supported checksum types. These values are part of the file format.
const (
	ChecksumTypeCRC32c  ChecksumType = 1
	ChecksumTypeXXHash64 ChecksumType = 2
)

// String implements fmt.Stringer.
func (t ChecksumType) String() string {
	switch t {
	case ChecksumTypeCRC32c:
		return "crc32c"
	case ChecksumTypeXXHash64:
		return "xxhash64"
	}
	return "unknown"
}

func checksumValue(t ChecksumType, data []byte, codecByte byte) uint32 {
	switch t {
	case ChecksumTypeCRC32c:
		return crc.New(data).Update([]byte{codecByte}).Value()
	case ChecksumTypeXXHash64:
		var d xxhash.Digest
		d.Reset()
		_, _ = d.Write(data)
		_, _ = d.Write([]byte{codecByte})
		return uint32(d.Sum64())
	}
	panic("cobble/sstable: unknown checksum type")
}

// BlockHandle identifies a block within a table file: the offset of the
// block's first byte and the length of its (possibly compressed) payload,
// excluding the trailer.
type BlockHandle struct {
	Offset, Length uint64
}

func encodeBlockHandle(dst []byte, b BlockHandle) int {
	n := binary.PutUvarint(dst, b.Offset)
	n += binary.PutUvarint(dst[n:], b.Length)
	return n
}

func decodeBlockHandle(src []byte) (BlockHandle, int) {
	offset, n := binary.Uvarint(src)
	length, m := binary.Uvarint(src[n:])
	if n == 0 || m == 0 {
		return BlockHandle{}, 0
	}
	return BlockHandle{offset, length}, n + m
}

// footer is the fixed-size table footer.
type footer struct {
	filter   BlockHandle
	index    BlockHandle
	checksum ChecksumType
}

func (f footer) encode(buf []byte) []byte {
	buf = buf[:footerLen]
	clear(buf)
	n := encodeBlockHandle(buf, f.filter)
	encodeBlockHandle(buf[n:], f.index)
	buf[footerHandlesLen] = byte(f.checksum)
	copy(buf[footerHandlesLen+1:], tableMagic)
	return buf
}

func decodeFooter(buf []byte, fileNum base.FileNum) (footer, error) {
	var f footer
	if len(buf) != footerLen {
		return f, base.CorruptionErrorf("cobble/sstable: table %s: invalid footer length %d", fileNum, len(buf))
	}
	if string(buf[footerHandlesLen+1:]) != tableMagic {
		return f, base.CorruptionErrorf("cobble/sstable: table %s: bad magic number", fileNum)
	}
	f.checksum = ChecksumType(buf[footerHandlesLen])
	if f.checksum != ChecksumTypeCRC32c && f.checksum != ChecksumTypeXXHash64 {
		return f, base.CorruptionErrorf("cobble/sstable: table %s: unknown checksum type %d", fileNum, f.checksum)
	}
	filter, n := decodeBlockHandle(buf)
	if n == 0 {
		return f, base.CorruptionErrorf("cobble/sstable: table %s: invalid filter handle", fileNum)
	}
	index, m := decodeBlockHandle(buf[n:])
	if m == 0 || index.Length == 0 {
		return f, base.CorruptionErrorf("cobble/sstable: table %s: invalid index handle", fileNum)
	}
	f.filter, f.index = filter, index
	return f, nil
}
