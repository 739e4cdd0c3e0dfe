// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package sstable

import (
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cobbledb/cobble/internal/base"
	"github.com/cobbledb/cobble/internal/cache"
	"github.com/cobbledb/cobble/vfs"
)

func ikey(ukey string, seqNum base.SeqNum, kind base.InternalKeyKind) base.InternalKey {
	return base.MakeInternalKey([]byte(ukey), seqNum, kind)
}

// buildTable writes n sequential entries to a table on fs and returns its
// filename and size.
func buildTable(t *testing.T, fs vfs.FS, name string, n int, wo WriterOptions) int64 {
	t.Helper()
	f, err := fs.Create(name)
	require.NoError(t, err)
	w := NewWriter(f, wo)
	for i := 0; i < n; i++ {
		key := ikey(fmt.Sprintf("key%05d", i), base.SeqNum(i+1), base.InternalKeyKindSet)
		require.NoError(t, w.Add(key, []byte(fmt.Sprintf("value%05d", i))))
	}
	require.NoError(t, w.Close())
	stat, err := fs.Stat(name)
	require.NoError(t, err)
	return stat.Size()
}

func openTable(t *testing.T, fs vfs.FS, name string, size int64, ro ReaderOptions) *Reader {
	t.Helper()
	f, err := fs.Open(name)
	require.NoError(t, err)
	r, err := NewReader(f, size, ro)
	require.NoError(t, err)
	return r
}

func TestRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		wo   WriterOptions
		ro   ReaderOptions
	}{
		{"defaults", WriterOptions{}, ReaderOptions{}},
		{"no-compression", WriterOptions{Compression: NoCompression}, ReaderOptions{}},
		{"zstd", WriterOptions{Compression: ZstdCompression}, ReaderOptions{}},
		{"xxhash64", WriterOptions{Checksum: ChecksumTypeXXHash64}, ReaderOptions{}},
		{"bloom", WriterOptions{FilterPolicy: BloomFilterPolicy(10)},
			ReaderOptions{FilterPolicy: BloomFilterPolicy(10)}},
		{"small-blocks", WriterOptions{BlockSize: 128, BlockRestartInterval: 4}, ReaderOptions{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fs := vfs.NewMem()
			const n = 1000
			size := buildTable(t, fs, "test.sst", n, tc.wo)
			r := openTable(t, fs, "test.sst", size, tc.ro)
			defer r.Close()

			it := r.NewIter()
			i := 0
			for valid := it.First(); valid; valid = it.Next() {
				require.Equal(t, fmt.Sprintf("key%05d", i), string(it.Key().UserKey))
				require.Equal(t, base.SeqNum(i+1), it.Key().SeqNum())
				require.Equal(t, fmt.Sprintf("value%05d", i), string(it.Value()))
				i++
			}
			require.NoError(t, it.Error())
			require.NoError(t, it.Close())
			require.Equal(t, n, i)
		})
	}
}

func TestSeekGE(t *testing.T) {
	fs := vfs.NewMem()
	const n = 500
	size := buildTable(t, fs, "test.sst", n, WriterOptions{BlockSize: 256})
	r := openTable(t, fs, "test.sst", size, ReaderOptions{})
	defer r.Close()

	it := r.NewIter()
	defer it.Close()

	// Exact key.
	require.True(t, it.SeekGE(base.MakeSearchKey([]byte("key00123"), base.SeqNumMax)))
	require.Equal(t, "key00123", string(it.Key().UserKey))

	// Between keys.
	require.True(t, it.SeekGE(base.MakeSearchKey([]byte("key00123a"), base.SeqNumMax)))
	require.Equal(t, "key00124", string(it.Key().UserKey))

	// Before the first key.
	require.True(t, it.SeekGE(base.MakeSearchKey([]byte("a"), base.SeqNumMax)))
	require.Equal(t, "key00000", string(it.Key().UserKey))

	// Past the last key.
	require.False(t, it.SeekGE(base.MakeSearchKey([]byte("zzz"), base.SeqNumMax)))
	require.NoError(t, it.Error())
}

func TestMetadata(t *testing.T) {
	fs := vfs.NewMem()
	f, err := fs.Create("test.sst")
	require.NoError(t, err)
	w := NewWriter(f, WriterOptions{})
	require.NoError(t, w.Add(ikey("alpha", 9, base.InternalKeyKindSet), []byte("a")))
	require.NoError(t, w.Add(ikey("omega", 4, base.InternalKeyKindDelete), nil))
	require.NoError(t, w.Close())

	meta, err := w.Metadata()
	require.NoError(t, err)
	require.Equal(t, uint64(2), meta.NumEntries)
	require.Equal(t, "alpha", string(meta.Smallest.UserKey))
	require.Equal(t, base.SeqNum(9), meta.Smallest.SeqNum())
	require.Equal(t, "omega", string(meta.Largest.UserKey))
	require.Equal(t, base.InternalKeyKindDelete, meta.Largest.Kind())

	stat, err := fs.Stat("test.sst")
	require.NoError(t, err)
	require.Equal(t, uint64(stat.Size()), meta.Size)
}

func TestOutOfOrderAdd(t *testing.T) {
	fs := vfs.NewMem()
	f, err := fs.Create("test.sst")
	require.NoError(t, err)
	w := NewWriter(f, WriterOptions{})
	require.NoError(t, w.Add(ikey("b", 1, base.InternalKeyKindSet), nil))
	require.Error(t, w.Add(ikey("a", 2, base.InternalKeyKindSet), nil))
	// The writer is poisoned; further adds and Close fail.
	require.Error(t, w.Add(ikey("c", 3, base.InternalKeyKindSet), nil))
	require.Error(t, w.Close())
}

func TestSameUserKeyDescendingSeqNum(t *testing.T) {
	fs := vfs.NewMem()
	f, err := fs.Create("test.sst")
	require.NoError(t, err)
	w := NewWriter(f, WriterOptions{})
	// Multiple entries for one user key must be added newest first.
	require.NoError(t, w.Add(ikey("k", 3, base.InternalKeyKindDelete), nil))
	require.NoError(t, w.Add(ikey("k", 2, base.InternalKeyKindSet), []byte("v2")))
	require.NoError(t, w.Add(ikey("k", 1, base.InternalKeyKindSet), []byte("v1")))
	// Ascending seqnum for the same user key is out of order.
	require.Error(t, w.Add(ikey("k", 5, base.InternalKeyKindSet), nil))
}

func TestFilter(t *testing.T) {
	fs := vfs.NewMem()
	wo := WriterOptions{FilterPolicy: BloomFilterPolicy(10)}
	size := buildTable(t, fs, "test.sst", 1000, wo)
	r := openTable(t, fs, "test.sst", size, ReaderOptions{FilterPolicy: BloomFilterPolicy(10)})
	defer r.Close()

	// No false negatives.
	for i := 0; i < 1000; i++ {
		require.True(t, r.MayContain([]byte(fmt.Sprintf("key%05d", i))))
	}
	// Mostly true negatives: at 10 bits per key the false positive rate is
	// around 1%, so 1000 absent probes should overwhelmingly miss.
	misses := 0
	for i := 0; i < 1000; i++ {
		if !r.MayContain([]byte(fmt.Sprintf("absent%05d", i))) {
			misses++
		}
	}
	require.Greater(t, misses, 900)
}

func TestCorruptBlockDetected(t *testing.T) {
	fs := vfs.NewMem()
	size := buildTable(t, fs, "test.sst", 100, WriterOptions{Compression: NoCompression})

	// Flip one byte in the first data block.
	f, err := fs.Open("test.sst")
	require.NoError(t, err)
	data := make([]byte, size)
	_, err = f.ReadAt(data, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	data[10] ^= 0xff
	g, err := fs.Create("corrupt.sst")
	require.NoError(t, err)
	_, err = g.Write(data)
	require.NoError(t, err)
	require.NoError(t, g.Close())

	r := openTable(t, fs, "corrupt.sst", size, ReaderOptions{})
	defer r.Close()
	it := r.NewIter()
	require.False(t, it.First())
	require.True(t, base.IsCorruptionError(it.Error()), "got %v", it.Error())
	_ = it.Close()
}

func TestBlockEntryLengthOverflow(t *testing.T) {
	// A block entry header claiming an unshared key length near 2^64 makes
	// the length sum wrap around. Decoding must report corruption, not
	// panic on a bogus slice bound.
	var buf []byte
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], 0) // shared
	buf = append(buf, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], math.MaxUint64) // unshared
	buf = append(buf, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], 1) // value length
	buf = append(buf, tmp[:n]...)
	buf = append(buf, "keyvalue"...)
	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], 0)
	buf = append(buf, tmp4[:]...) // restart point 0
	binary.LittleEndian.PutUint32(tmp4[:], 1)
	buf = append(buf, tmp4[:]...) // restart count

	it, err := newBlockIter(base.DefaultComparer.Compare, buf)
	require.NoError(t, err)
	require.False(t, it.First())
	require.True(t, base.IsCorruptionError(it.Error()), "got %v", it.Error())
}

func TestBadMagic(t *testing.T) {
	fs := vfs.NewMem()
	f, err := fs.Create("bogus.sst")
	require.NoError(t, err)
	data := make([]byte, 2*footerLen)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	g, err := fs.Open("bogus.sst")
	require.NoError(t, err)
	_, err = NewReader(g, int64(len(data)), ReaderOptions{})
	require.True(t, base.IsCorruptionError(err), "got %v", err)
}

func TestReadThroughCache(t *testing.T) {
	fs := vfs.NewMem()
	c := cache.New(1 << 20)
	size := buildTable(t, fs, "test.sst", 1000, WriterOptions{BlockSize: 256})
	r := openTable(t, fs, "test.sst", size, ReaderOptions{Cache: c, FileNum: 7})
	defer r.Close()

	it := r.NewIter()
	n := 0
	for valid := it.First(); valid; valid = it.Next() {
		n++
	}
	require.NoError(t, it.Close())
	require.Equal(t, 1000, n)
	require.Positive(t, c.Size())

	// A second pass is served from the cache and sees the same data.
	it = r.NewIter()
	require.True(t, it.SeekGE(base.MakeSearchKey([]byte("key00500"), base.SeqNumMax)))
	require.Equal(t, "value00500", string(it.Value()))
	require.NoError(t, it.Close())
}

func TestCompressionFallback(t *testing.T) {
	// Incompressible data must be stored raw rather than grown.
	b := []byte{0x01, 0xfe, 0x42, 0x99, 0x7a}
	codec, out := compressBlock(SnappyCompression, b, nil)
	require.Equal(t, NoCompression, codec)
	require.Equal(t, b, out)
}
