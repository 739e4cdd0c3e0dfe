// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package cobble

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cobbledb/cobble/internal/base"
)

func TestVersionEditRoundTrip(t *testing.T) {
	ve := versionEdit{
		comparatorName: "leveldb.BytewiseComparator",
		logNumber:      5,
		nextFileNumber: 9,
		lastSeqNum:     123456,
		hasLastSeqNum:  true,
		compactPointers: []compactPointerEntry{
			{level: 1, key: base.MakeInternalKey([]byte("pointer"), 7, base.InternalKeyKindSet)},
		},
		deletedFiles: map[deletedFileEntry]bool{
			{level: 0, fileNum: 3}: true,
			{level: 1, fileNum: 4}: true,
		},
		newFiles: []newFileEntry{
			{
				level: 1,
				meta: fileMetadata{
					fileNum:  8,
					size:     9001,
					smallest: base.MakeInternalKey([]byte("aaa"), 1, base.InternalKeyKindSet),
					largest:  base.MakeInternalKey([]byte("zzz"), 2, base.InternalKeyKindDelete),
				},
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, ve.encode(&buf))

	var got versionEdit
	require.NoError(t, got.decode(bytes.NewReader(buf.Bytes())))
	require.Equal(t, ve.comparatorName, got.comparatorName)
	require.Equal(t, ve.logNumber, got.logNumber)
	require.Equal(t, ve.nextFileNumber, got.nextFileNumber)
	require.True(t, got.hasLastSeqNum)
	require.Equal(t, ve.lastSeqNum, got.lastSeqNum)
	require.Equal(t, ve.deletedFiles, got.deletedFiles)
	require.Len(t, got.compactPointers, 1)
	require.Equal(t, 1, got.compactPointers[0].level)
	require.Equal(t, "pointer", string(got.compactPointers[0].key.UserKey))
	require.Len(t, got.newFiles, 1)
	require.Equal(t, ve.newFiles[0].level, got.newFiles[0].level)
	require.Equal(t, ve.newFiles[0].meta.fileNum, got.newFiles[0].meta.fileNum)
	require.Equal(t, ve.newFiles[0].meta.size, got.newFiles[0].meta.size)
	require.Equal(t, "aaa", string(got.newFiles[0].meta.smallest.UserKey))
	require.Equal(t, "zzz", string(got.newFiles[0].meta.largest.UserKey))
}

func TestVersionEditDecodeRejectsGarbage(t *testing.T) {
	var ve versionEdit
	// Unknown tag.
	err := ve.decode(bytes.NewReader([]byte{100}))
	require.True(t, base.IsCorruptionError(err), "got %v", err)

	// Truncated new-file entry.
	var buf bytes.Buffer
	good := versionEdit{
		newFiles: []newFileEntry{{
			level: 2,
			meta: fileMetadata{
				fileNum:  1,
				size:     10,
				smallest: base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindSet),
				largest:  base.MakeInternalKey([]byte("b"), 2, base.InternalKeyKindSet),
			},
		}},
	}
	require.NoError(t, good.encode(&buf))
	var got versionEdit
	err = got.decode(bytes.NewReader(buf.Bytes()[:buf.Len()-4]))
	require.Error(t, err)
}

func TestVersionEditApply(t *testing.T) {
	cmp := base.DefaultComparer.Compare
	mk := func(fn base.FileNum, lo, hi string) fileMetadata {
		return fileMetadata{
			fileNum:  fn,
			size:     100,
			smallest: base.MakeInternalKey([]byte(lo), 2, base.InternalKeyKindSet),
			largest:  base.MakeInternalKey([]byte(hi), 1, base.InternalKeyKindSet),
		}
	}

	add := versionEdit{
		newFiles: []newFileEntry{
			{level: 0, meta: mk(2, "a", "m")},
			{level: 0, meta: mk(1, "c", "z")},
			{level: 1, meta: mk(3, "n", "q")},
			{level: 1, meta: mk(4, "a", "d")},
		},
	}
	v, err := add.apply(nil, cmp)
	require.NoError(t, err)
	// Level 0 sorted by file number, level 1 by smallest key.
	require.Equal(t, base.FileNum(1), v.files[0][0].fileNum)
	require.Equal(t, base.FileNum(2), v.files[0][1].fileNum)
	require.Equal(t, base.FileNum(4), v.files[1][0].fileNum)
	require.Equal(t, base.FileNum(3), v.files[1][1].fileNum)

	del := versionEdit{
		deletedFiles: map[deletedFileEntry]bool{
			{level: 0, fileNum: 1}: true,
		},
		newFiles: []newFileEntry{
			{level: 1, meta: mk(5, "e", "f")},
		},
	}
	v2, err := del.apply(v, cmp)
	require.NoError(t, err)
	require.Len(t, v2.files[0], 1)
	require.Equal(t, base.FileNum(2), v2.files[0][0].fileNum)
	require.Len(t, v2.files[1], 3)
	require.Equal(t, base.FileNum(4), v2.files[1][0].fileNum)
	require.Equal(t, base.FileNum(5), v2.files[1][1].fileNum)
	require.Equal(t, base.FileNum(3), v2.files[1][2].fileNum)

	// Overlapping files on a level >= 1 are rejected.
	bad := versionEdit{
		newFiles: []newFileEntry{{level: 1, meta: mk(6, "p", "t")}},
	}
	_, err = bad.apply(v2, cmp)
	require.Error(t, err)
}
