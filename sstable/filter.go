// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package sstable

import (
	"math"

	"github.com/bits-and-blooms/bloom/v3"
)

// FilterPolicy is the injectable capability set for the table's membership
// filter. A policy's writer observes every user key added to a table and
// produces the filter block; MayContain consults a filter block produced by
// the same policy. False positives are permitted, false negatives are not.
type FilterPolicy interface {
	// Name identifies the policy. A filter written by one policy must not be
	// interpreted by another.
	Name() string

	// NewWriter returns a writer that accumulates the keys of one table.
	NewWriter() FilterWriter

	// MayContain reports whether the filter may contain the key. It must
	// return true for every key that was added to the filter's writer.
	MayContain(filter, key []byte) bool
}

// FilterWriter accumulates the user keys of a single table.
type FilterWriter interface {
	// AddKey adds a key to the filter being built.
	AddKey(key []byte)

	// Finish serializes the filter.
	Finish() []byte
}

// BloomFilterPolicy returns a FilterPolicy backed by a bloom filter sized to
// the given number of bits per key. Ten bits per key yields a filter with
// roughly a 1% false positive rate.
func BloomFilterPolicy(bitsPerKey int) FilterPolicy {
	if bitsPerKey < 1 {
		bitsPerKey = 1
	}
	return bloomFilterPolicy{bitsPerKey: bitsPerKey}
}

type bloomFilterPolicy struct {
	bitsPerKey int
}

func (p bloomFilterPolicy) Name() string { return "cobble.BloomFilter" }

func (p bloomFilterPolicy) NewWriter() FilterWriter {
	return &bloomFilterWriter{policy: p}
}

func (p bloomFilterPolicy) MayContain(filter, key []byte) bool {
	var f bloom.BloomFilter
	if err := f.UnmarshalBinary(filter); err != nil {
		// A malformed filter must not hide keys; fall through to the data
		// blocks.
		return true
	}
	return f.Test(key)
}

type bloomFilterWriter struct {
	policy bloomFilterPolicy
	keys   [][]byte
}

func (w *bloomFilterWriter) AddKey(key []byte) {
	w.keys = append(w.keys, append([]byte(nil), key...))
}

func (w *bloomFilterWriter) Finish() []byte {
	n := len(w.keys)
	if n == 0 {
		n = 1
	}
	m := uint(n * w.policy.bitsPerKey)
	k := uint(math.Max(1, math.Round(float64(w.policy.bitsPerKey)*math.Ln2)))
	f := bloom.New(m, k)
	for _, key := range w.keys {
		f.Add(key)
	}
	b, err := f.MarshalBinary()
	if err != nil {
		// Marshaling an in-memory bitset cannot fail; an empty filter block
		// disables filtering for this table rather than corrupting it.
		return nil
	}
	return b
}
