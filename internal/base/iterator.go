// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

// InternalIterator iterates over a sorted run of internal keys: a memtable,
// a single table, or a merged view of several. Internal iterators expose
// every version of every user key; collapsing the per-key history down to
// the visible value is the caller's job.
//
// An iterator starts unpositioned. First and SeekGE position it; Next
// advances it. Each reports whether the iterator landed on an entry. After
// a false return the caller must check Error to distinguish exhaustion from
// corruption.
type InternalIterator interface {
	// First positions the iterator at the first entry.
	First() bool

	// SeekGE positions the iterator at the first entry with a key >= key.
	SeekGE(key InternalKey) bool

	// Next advances the iterator.
	Next() bool

	// Valid reports whether the iterator is positioned at an entry.
	Valid() bool

	// Key returns the current entry's key. The returned key is only valid
	// until the next positioning call.
	Key() InternalKey

	// Value returns the current entry's value, under the same validity rule
	// as Key.
	Value() []byte

	// Error returns any error encountered while iterating.
	Error() error

	// Close releases the iterator's resources.
	Close() error
}
