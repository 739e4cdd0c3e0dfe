// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package memtable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cobbledb/cobble/internal/base"
)

func ikey(ukey string, seqNum base.SeqNum, kind base.InternalKeyKind) base.InternalKey {
	return base.MakeInternalKey([]byte(ukey), seqNum, kind)
}

func TestEmpty(t *testing.T) {
	m := New(base.DefaultComparer.Compare)
	require.True(t, m.Empty())
	_, conclusive, _ := m.Get([]byte("a"), base.SeqNumMax)
	require.False(t, conclusive)
	it := m.NewIter()
	require.False(t, it.First())
}

func TestSetGet(t *testing.T) {
	m := New(base.DefaultComparer.Compare)
	m.Set(ikey("apple", 1, base.InternalKeyKindSet), []byte("red"))
	m.Set(ikey("banana", 2, base.InternalKeyKindSet), []byte("yellow"))
	require.False(t, m.Empty())

	v, conclusive, err := m.Get([]byte("apple"), base.SeqNumMax)
	require.True(t, conclusive)
	require.NoError(t, err)
	require.Equal(t, []byte("red"), v)

	_, conclusive, _ = m.Get([]byte("cherry"), base.SeqNumMax)
	require.False(t, conclusive)
}

func TestVisibility(t *testing.T) {
	m := New(base.DefaultComparer.Compare)
	m.Set(ikey("k", 1, base.InternalKeyKindSet), []byte("v1"))
	m.Set(ikey("k", 2, base.InternalKeyKindSet), []byte("v2"))
	m.Set(ikey("k", 3, base.InternalKeyKindDelete), nil)

	// Not yet visible at boundary 0.
	_, conclusive, _ := m.Get([]byte("k"), 0)
	require.False(t, conclusive)

	v, conclusive, err := m.Get([]byte("k"), 1)
	require.True(t, conclusive)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)

	v, conclusive, err = m.Get([]byte("k"), 2)
	require.True(t, conclusive)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v)

	// The tombstone is a conclusive absent.
	_, conclusive, err = m.Get([]byte("k"), 3)
	require.True(t, conclusive)
	require.ErrorIs(t, err, base.ErrNotFound)
}

func TestIterOrder(t *testing.T) {
	m := New(base.DefaultComparer.Compare)
	// Inserted out of order; iterated in internal key order.
	m.Set(ikey("b", 2, base.InternalKeyKindSet), []byte("2"))
	m.Set(ikey("a", 1, base.InternalKeyKindSet), []byte("1"))
	m.Set(ikey("a", 3, base.InternalKeyKindSet), []byte("3"))
	m.Set(ikey("c", 4, base.InternalKeyKindDelete), nil)

	var got []string
	it := m.NewIter()
	for valid := it.First(); valid; valid = it.Next() {
		got = append(got, it.Key().String())
	}
	require.NoError(t, it.Close())
	require.Equal(t, []string{
		"a#3,SET", "a#1,SET", "b#2,SET", "c#4,DEL",
	}, got)
}

func TestIterSeekGE(t *testing.T) {
	m := New(base.DefaultComparer.Compare)
	for i := 0; i < 100; i += 2 {
		key := fmt.Sprintf("key%03d", i)
		m.Set(ikey(key, base.SeqNum(i+1), base.InternalKeyKindSet), []byte(key))
	}

	it := m.NewIter()
	require.True(t, it.SeekGE(base.MakeSearchKey([]byte("key041"), base.SeqNumMax)))
	require.Equal(t, "key042", string(it.Key().UserKey))

	require.True(t, it.SeekGE(base.MakeSearchKey([]byte("key042"), base.SeqNumMax)))
	require.Equal(t, "key042", string(it.Key().UserKey))

	require.False(t, it.SeekGE(base.MakeSearchKey([]byte("key099"), base.SeqNumMax)))
	require.False(t, it.Valid())
}

func TestApproximateSize(t *testing.T) {
	m := New(base.DefaultComparer.Compare)
	require.Zero(t, m.ApproximateSize())
	m.Set(ikey("key", 1, base.InternalKeyKindSet), []byte("value"))
	require.GreaterOrEqual(t, m.ApproximateSize(),
		int64(len("key")+base.InternalKeyTrailerLen+len("value")))
}

func TestSealedPanics(t *testing.T) {
	m := New(base.DefaultComparer.Compare)
	m.Set(ikey("a", 1, base.InternalKeyKindSet), []byte("v"))
	m.Seal()
	require.Panics(t, func() {
		m.Set(ikey("b", 2, base.InternalKeyKindSet), []byte("v"))
	})
	// Reads still work after sealing.
	v, conclusive, err := m.Get([]byte("a"), base.SeqNumMax)
	require.True(t, conclusive)
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func TestKeyAndValueCopied(t *testing.T) {
	m := New(base.DefaultComparer.Compare)
	key := []byte("k")
	value := []byte("v")
	m.Set(base.MakeInternalKey(key, 1, base.InternalKeyKindSet), value)
	key[0] = 'x'
	value[0] = 'y'
	v, conclusive, err := m.Get([]byte("k"), base.SeqNumMax)
	require.True(t, conclusive)
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}
