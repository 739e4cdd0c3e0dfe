// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package cobble

import (
	"github.com/cockroachdb/errors"

	"github.com/cobbledb/cobble/internal/base"
	"github.com/cobbledb/cobble/sstable"
	"github.com/cobbledb/cobble/vfs"
)

// numLevels is the number of levels in the LSM tree. Level 0 holds freshly
// flushed, possibly overlapping tables; deeper levels are pairwise disjoint.
const numLevels = 7

// Options holds the optional parameters for a DB, covering the write path,
// the table format, and background compaction. Zero-valued fields take
// defaults via EnsureDefaults.
type Options struct {
	// Comparer defines the key ordering. It must be identical across every
	// open of the same store.
	Comparer *base.Comparer

	// FS is the filesystem the store lives on.
	//
	// The default is vfs.Default.
	FS vfs.FS

	// Logger receives informational and error messages from background work.
	Logger base.Logger

	// MemTableSize is the size threshold, in bytes, at which the active
	// memtable is sealed and scheduled for flushing.
	//
	// The default is 4MB.
	MemTableSize int

	// L0CompactionThreshold is the number of level 0 tables that triggers a
	// compaction out of level 0.
	//
	// The default is 4.
	L0CompactionThreshold int

	// L0StopWritesThreshold is the number of level 0 tables at which writes
	// stop until the backlog drains. Writes begin to be delayed at the
	// midpoint between L0CompactionThreshold and this value.
	//
	// The default is 12.
	L0StopWritesThreshold int

	// BaseLevelSize is the byte budget of level 1. Each deeper level's budget
	// is the previous level's multiplied by LevelSizeMultiplier.
	//
	// The default is 10MB.
	BaseLevelSize int64

	// LevelSizeMultiplier is the growth factor between consecutive level
	// budgets.
	//
	// The default is 10.
	LevelSizeMultiplier int

	// TargetFileSize is the size at which compaction output tables are split.
	//
	// The default is 2MB.
	TargetFileSize int64

	// BlockSize is the target uncompressed size of a table data block.
	//
	// The default is 4096 bytes.
	BlockSize int

	// BlockRestartInterval is the number of entries between restart points in
	// a table block.
	//
	// The default is 16.
	BlockRestartInterval int

	// CacheSize is the capacity, in decoded bytes, of the shared block cache.
	//
	// The default is 8MB.
	CacheSize int64

	// FilterPolicy builds and interprets table filter blocks. When nil and
	// FilterBitsPerKey is positive, a bloom filter policy with that many bits
	// per key is used.
	FilterPolicy sstable.FilterPolicy

	// FilterBitsPerKey sizes the default bloom filter policy.
	//
	// The default is 10, for roughly a 1% false positive rate.
	FilterBitsPerKey int

	// Compression is the codec for table blocks.
	//
	// The default is snappy.
	Compression sstable.Compression

	// Checksum protects every table block.
	//
	// The default is CRC32c.
	Checksum sstable.ChecksumType

	// CompactionRateLimit bounds the bytes per second written by background
	// compactions. Zero means unlimited.
	CompactionRateLimit int64
}

// EnsureDefaults fills in any zero-valued fields and returns the options. A
// nil receiver yields all-default options.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	if o.Comparer == nil {
		o.Comparer = base.DefaultComparer
	}
	if o.FS == nil {
		o.FS = vfs.Default
	}
	if o.Logger == nil {
		o.Logger = base.DefaultLogger
	}
	if o.MemTableSize <= 0 {
		o.MemTableSize = 4 << 20
	}
	if o.L0CompactionThreshold <= 0 {
		o.L0CompactionThreshold = 4
	}
	if o.L0StopWritesThreshold <= 0 {
		o.L0StopWritesThreshold = 12
	}
	if o.BaseLevelSize <= 0 {
		o.BaseLevelSize = 10 << 20
	}
	if o.LevelSizeMultiplier <= 0 {
		o.LevelSizeMultiplier = 10
	}
	if o.TargetFileSize <= 0 {
		o.TargetFileSize = 2 << 20
	}
	if o.BlockSize <= 0 {
		o.BlockSize = 4096
	}
	if o.BlockRestartInterval <= 0 {
		o.BlockRestartInterval = 16
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 8 << 20
	}
	if o.FilterBitsPerKey == 0 {
		o.FilterBitsPerKey = 10
	}
	if o.FilterPolicy == nil && o.FilterBitsPerKey > 0 {
		o.FilterPolicy = sstable.BloomFilterPolicy(o.FilterBitsPerKey)
	}
	if o.Compression == 0 {
		o.Compression = sstable.DefaultCompression
	}
	if o.Checksum == 0 {
		o.Checksum = sstable.ChecksumTypeCRC32c
	}
	return o
}

// Validate checks the options for inconsistencies that EnsureDefaults cannot
// repair.
func (o *Options) Validate() error {
	if o.L0StopWritesThreshold < o.L0CompactionThreshold {
		return errors.Newf("cobble: L0StopWritesThreshold %d < L0CompactionThreshold %d",
			o.L0StopWritesThreshold, o.L0CompactionThreshold)
	}
	if o.LevelSizeMultiplier < 2 {
		return errors.Newf("cobble: LevelSizeMultiplier %d < 2", o.LevelSizeMultiplier)
	}
	if o.Comparer.Name == "" {
		return errors.New("cobble: Comparer has no name")
	}
	return nil
}

// l0SlowdownThreshold is the level 0 table count at which writes are briefly
// delayed, giving compaction a head start before the hard stop.
func (o *Options) l0SlowdownThreshold() int {
	return (o.L0CompactionThreshold + o.L0StopWritesThreshold) / 2
}

// maxBytesForLevel returns the byte budget of the given level. Level 0 is
// scored by table count, not bytes.
func (o *Options) maxBytesForLevel(level int) int64 {
	n := o.BaseLevelSize
	for l := 1; l < level; l++ {
		n *= int64(o.LevelSizeMultiplier)
	}
	return n
}

// WriteOptions holds the optional per-write parameters.
type WriteOptions struct {
	// Sync requests that the write be flushed to stable storage before it is
	// acknowledged. A synced write survives a crash; an unsynced write
	// survives a process failure only.
	Sync bool
}

// Sync and NoSync are the common write options. A nil *WriteOptions means
// Sync.
var (
	Sync   = &WriteOptions{Sync: true}
	NoSync = &WriteOptions{Sync: false}
)

// GetSync returns the sync setting, treating a nil receiver as Sync.
func (o *WriteOptions) GetSync() bool {
	return o == nil || o.Sync
}

// IterOptions holds the optional per-iterator parameters.
type IterOptions struct {
	// LowerBound restricts the iterator to keys >= LowerBound.
	LowerBound []byte
	// UpperBound restricts the iterator to keys < UpperBound.
	UpperBound []byte
}

func (o *IterOptions) lowerBound() []byte {
	if o == nil {
		return nil
	}
	return o.LowerBound
}

func (o *IterOptions) upperBound() []byte {
	if o == nil {
		return nil
	}
	return o.UpperBound
}
