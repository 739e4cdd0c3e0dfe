// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrailer(t *testing.T) {
	tr := MakeTrailer(42, InternalKeyKindSet)
	require.Equal(t, SeqNum(42), tr.SeqNum())
	require.Equal(t, InternalKeyKindSet, tr.Kind())

	tr = MakeTrailer(SeqNumMax, InternalKeyKindDelete)
	require.Equal(t, SeqNumMax, tr.SeqNum())
	require.Equal(t, InternalKeyKindDelete, tr.Kind())
}

func TestInternalKeyEncodeDecode(t *testing.T) {
	for _, k := range []InternalKey{
		MakeInternalKey(nil, 0, InternalKeyKindDelete),
		MakeInternalKey([]byte("a"), 1, InternalKeyKindSet),
		MakeInternalKey([]byte("big"), SeqNumMax, InternalKeyKindMerge),
	} {
		got := DecodeInternalKey(k.Encode(nil))
		require.Equal(t, k.UserKey, append([]byte(nil), got.UserKey...))
		require.Equal(t, k.Trailer, got.Trailer)
	}
}

func TestDecodeShortKeyInvalid(t *testing.T) {
	k := DecodeInternalKey([]byte("short"))
	require.False(t, k.Valid())
}

func TestInternalCompare(t *testing.T) {
	cmp := DefaultComparer.Compare
	keys := []InternalKey{
		MakeInternalKey([]byte("a"), 9, InternalKeyKindSet),
		MakeInternalKey([]byte("a"), 3, InternalKeyKindSet),
		MakeInternalKey([]byte("a"), 1, InternalKeyKindDelete),
		MakeInternalKey([]byte("b"), 2, InternalKeyKindSet),
		MakeInternalKey([]byte("c"), 7, InternalKeyKindDelete),
	}
	// User key ascending, then sequence number descending.
	for i := 1; i < len(keys); i++ {
		require.Negative(t, InternalCompare(cmp, keys[i-1], keys[i]),
			"%s should sort before %s", keys[i-1], keys[i])
	}
	require.Zero(t, InternalCompare(cmp, keys[0], keys[0]))
}

func TestSearchKeyLandsOnNewestVisible(t *testing.T) {
	cmp := DefaultComparer.Compare
	entries := []InternalKey{
		MakeInternalKey([]byte("k"), 5, InternalKeyKindSet),
		MakeInternalKey([]byte("k"), 3, InternalKeyKindDelete),
		MakeInternalKey([]byte("k"), 1, InternalKeyKindSet),
	}
	// A search key at boundary 3 sorts after the seq 5 entry and before the
	// seq 3 entry, so the first entry >= it is the newest visible one.
	search := MakeSearchKey([]byte("k"), 3)
	require.Positive(t, InternalCompare(cmp, search, entries[0]))
	require.Negative(t, InternalCompare(cmp, search, entries[1]))
	require.Negative(t, InternalCompare(cmp, search, entries[2]))

	require.False(t, entries[0].Visible(3))
	require.True(t, entries[1].Visible(3))
	require.True(t, entries[1].Visible(4))
}

func TestSeparator(t *testing.T) {
	cmp := DefaultComparer.Compare
	a := MakeInternalKey([]byte("black"), 7, InternalKeyKindSet)
	b := MakeInternalKey([]byte("blue"), 2, InternalKeyKindSet)
	sep := a.Separator(cmp, DefaultComparer.Separator, nil, b)
	require.GreaterOrEqual(t, InternalCompare(cmp, sep, a), 0)
	require.Negative(t, InternalCompare(cmp, sep, b))
	require.Less(t, len(sep.UserKey), len(a.UserKey))
}

func TestSuccessor(t *testing.T) {
	cmp := DefaultComparer.Compare
	k := MakeInternalKey([]byte("apple"), 4, InternalKeyKindSet)
	succ := k.Successor(cmp, DefaultComparer.Successor, nil)
	require.GreaterOrEqual(t, InternalCompare(cmp, succ, k), 0)
}

func TestClone(t *testing.T) {
	buf := []byte("key")
	k := MakeInternalKey(buf, 1, InternalKeyKindSet)
	c := k.Clone()
	buf[0] = 'x'
	require.Equal(t, []byte("key"), c.UserKey)
}
