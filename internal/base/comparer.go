// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import "bytes"

// Compare returns -1, 0, or +1 depending on whether a is less than, equal
// to, or greater than b. An empty slice must sort before any non-empty
// slice with itself as a prefix.
type Compare func(a, b []byte) int

// Equal reports whether a and b are equivalent under Compare.
type Equal func(a, b []byte) bool

// Separator appends to dst a key k such that a <= k < b and returns the
// extended buffer. A short k reduces index-block size; returning a itself is
// always correct.
type Separator func(dst, a, b []byte) []byte

// Successor appends to dst a key k such that k >= a and returns the extended
// buffer. Returning a itself is always correct.
type Successor func(dst, a []byte) []byte

// Comparer is the injectable capability set defining a total ordering over
// user keys, plus the key-shortening hooks the sstable index uses. The Name
// is persisted in the manifest; opening a store with a comparer whose name
// differs from the one it was written with is an error.
type Comparer struct {
	Compare   Compare
	Equal     Equal
	Separator Separator
	Successor Successor

	// Name is the comparer's name, recorded durably on store creation.
	Name string
}

// DefaultComparer orders keys by their byte contents. Its name matches the
// one used by LevelDB and RocksDB so default-configured stores are mutually
// intelligible at the manifest level.
var DefaultComparer = &Comparer{
	Compare: bytes.Compare,
	Equal:   bytes.Equal,

	Separator: func(dst, a, b []byte) []byte {
		i, n := SharedPrefixLen(a, b), len(dst)
		dst = append(dst, a...)
		if len(b) > 0 && i < len(a) && i < len(b) {
			if c := dst[n+i]; c < 0xff && c+1 < b[i] {
				dst[n+i]++
				return dst[:n+i+1]
			}
		}
		return dst
	},

	Successor: func(dst, a []byte) []byte {
		n := len(dst)
		dst = append(dst, a...)
		for i := n; i < len(dst); i++ {
			if dst[i] != 0xff {
				dst[i]++
				return dst[:i+1]
			}
		}
		return dst
	},

	Name: "leveldb.BytewiseComparator",
}

// SharedPrefixLen returns the length of the common prefix of a and b.
func SharedPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
