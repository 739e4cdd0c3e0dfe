// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package crc implements the checksum algorithm used throughout cobble's
// file formats.
//
// The algorithm is CRC-32 with Castagnoli's polynomial, followed by a bit
// rotation and an additive constant. The masking makes the checksum usable
// for data that itself embeds checksums, which would otherwise weaken the
// CRC's error detection.
package crc

import "hash/crc32"

var table = crc32.MakeTable(crc32.Castagnoli)

// CRC is a small convenience wrapper around the incremental crc32 API.
type CRC uint32

// New computes the checksum of p.
func New(p []byte) CRC {
	return CRC(0).Update(p)
}

// Update extends the checksum with the contents of p.
func (c CRC) Update(p []byte) CRC {
	return CRC(crc32.Update(uint32(c), table, p))
}

// Value returns the masked checksum, suitable for storage.
func (c CRC) Value() uint32 {
	return uint32(c>>15|c<<17) + 0xa282ead8
}
