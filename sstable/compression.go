// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package sstable

import (
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/cobbledb/cobble/internal/base"
)

// Compression is the per-block compression codec. The codec of each block is
// recorded in its trailer, so a reader never depends on configuration to
// decode a table.
type Compression byte

// The supported codecs. These values are part of the file format.
const (
	NoCompression     Compression = 0
	SnappyCompression Compression = 1
	ZstdCompression   Compression = 2

	// DefaultCompression selects the codec used when options leave the
	// choice to the engine.
	DefaultCompression = SnappyCompression
)

// String implements fmt.Stringer.
func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case SnappyCompression:
		return "snappy"
	case ZstdCompression:
		return "zstd"
	}
	return "unknown"
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// compressBlock compresses b with the given codec, appending to dst. It
// returns the codec actually used: a block that does not shrink is stored
// uncompressed.
func compressBlock(c Compression, b, dst []byte) (Compression, []byte) {
	var out []byte
	switch c {
	case NoCompression:
		return NoCompression, b
	case SnappyCompression:
		out = snappy.Encode(dst, b)
	case ZstdCompression:
		out = zstdEncoder.EncodeAll(b, dst[:0])
	default:
		panic("cobble/sstable: unknown compression codec")
	}
	if len(out) >= len(b) {
		return NoCompression, b
	}
	return c, out
}

// decompressBlock reverses compressBlock.
func decompressBlock(c Compression, b []byte) ([]byte, error) {
	switch c {
	case NoCompression:
		return b, nil
	case SnappyCompression:
		out, err := snappy.Decode(nil, b)
		if err != nil {
			return nil, base.MarkCorruptionError(err)
		}
		return out, nil
	case ZstdCompression:
		out, err := zstdDecoder.DecodeAll(b, nil)
		if err != nil {
			return nil, base.MarkCorruptionError(err)
		}
		return out, nil
	}
	return nil, base.CorruptionErrorf("cobble/sstable: unknown block codec %d", c)
}
