// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package cobble

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cobbledb/cobble/internal/base"
)

func TestBatchEmpty(t *testing.T) {
	var b Batch
	require.True(t, b.Empty())
	require.Zero(t, b.Count())
	require.Zero(t, b.SeqNum())
}

func TestBatchEntries(t *testing.T) {
	var b Batch
	b.Set([]byte("a"), []byte("1"))
	b.Delete([]byte("b"))
	b.Set([]byte("c"), nil)
	require.False(t, b.Empty())
	require.Equal(t, uint32(3), b.Count())

	r := b.iter()
	kind, ukey, value, ok := r.next()
	require.True(t, ok)
	require.Equal(t, base.InternalKeyKindSet, kind)
	require.Equal(t, "a", string(ukey))
	require.Equal(t, "1", string(value))

	kind, ukey, _, ok = r.next()
	require.True(t, ok)
	require.Equal(t, base.InternalKeyKindDelete, kind)
	require.Equal(t, "b", string(ukey))

	kind, ukey, value, ok = r.next()
	require.True(t, ok)
	require.Equal(t, base.InternalKeyKindSet, kind)
	require.Equal(t, "c", string(ukey))
	require.Empty(t, value)

	_, _, _, ok = r.next()
	require.False(t, ok)
	require.Empty(t, r)
}

func TestBatchSeqNum(t *testing.T) {
	var b Batch
	b.Set([]byte("k"), []byte("v"))
	b.setSeqNum(99)
	require.Equal(t, base.SeqNum(99), b.SeqNum())
	require.Equal(t, uint32(1), b.Count())
}

func TestBatchReset(t *testing.T) {
	var b Batch
	b.Set([]byte("k"), []byte("v"))
	b.setSeqNum(7)
	b.Reset()
	require.True(t, b.Empty())
	require.Zero(t, b.Count())
	require.Zero(t, b.SeqNum())
	b.Delete([]byte("x"))
	require.Equal(t, uint32(1), b.Count())
}

func TestBatchReprRoundTrip(t *testing.T) {
	var b Batch
	b.Set([]byte("key"), []byte("value"))
	b.Delete([]byte("gone"))
	b.setSeqNum(12)

	got, ok := batchRepr(append([]byte(nil), b.data...))
	require.True(t, ok)
	require.Equal(t, base.SeqNum(12), got.SeqNum())
	require.Equal(t, uint32(2), got.Count())

	_, ok = batchRepr([]byte("short"))
	require.False(t, ok)
}

func TestBatchApplyToMemTable(t *testing.T) {
	var b Batch
	b.Set([]byte("a"), []byte("1"))
	b.Set([]byte("a"), []byte("2"))
	b.Delete([]byte("z"))

	mem := newTestMemTable()
	require.NoError(t, applyBatchToMemTable(mem, &b, 10))

	// Later entries get later sequence numbers, so the second set wins.
	v, conclusive, err := mem.Get([]byte("a"), base.SeqNumMax)
	require.True(t, conclusive)
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)

	_, conclusive, err = mem.Get([]byte("z"), base.SeqNumMax)
	require.True(t, conclusive)
	require.ErrorIs(t, err, ErrNotFound)

	// At the boundary of the first entry only the first set is visible.
	v, conclusive, err = mem.Get([]byte("a"), 10)
	require.True(t, conclusive)
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
}
