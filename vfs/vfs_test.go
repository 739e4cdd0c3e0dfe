// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package vfs

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemBasics(t *testing.T) {
	fs := NewMem()
	require.NoError(t, fs.MkdirAll("dir/sub", 0755))

	f, err := fs.Create("dir/sub/file")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	g, err := fs.Open("dir/sub/file")
	require.NoError(t, err)
	b, err := io.ReadAll(g)
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))

	var at [3]byte
	_, err = g.ReadAt(at[:], 1)
	require.NoError(t, err)
	require.Equal(t, "ell", string(at[:]))
	require.NoError(t, g.Close())

	stat, err := fs.Stat("dir/sub/file")
	require.NoError(t, err)
	require.Equal(t, int64(5), stat.Size())

	names, err := fs.List("dir/sub")
	require.NoError(t, err)
	require.Equal(t, []string{"file"}, names)
}

func TestMemOpenMissing(t *testing.T) {
	fs := NewMem()
	_, err := fs.Open("nope")
	require.True(t, os.IsNotExist(err))
	_, err = fs.Stat("nope")
	require.True(t, os.IsNotExist(err))
}

func TestMemRename(t *testing.T) {
	fs := NewMem()
	f, err := fs.Create("old")
	require.NoError(t, err)
	_, err = f.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, fs.Rename("old", "new"))
	_, err = fs.Open("old")
	require.True(t, os.IsNotExist(err))
	stat, err := fs.Stat("new")
	require.NoError(t, err)
	require.Equal(t, int64(4), stat.Size())
}

func TestMemLock(t *testing.T) {
	fs := NewMem()
	l, err := fs.Lock("LOCK")
	require.NoError(t, err)
	_, err = fs.Lock("LOCK")
	require.Error(t, err)
	require.NoError(t, l.Close())
	l2, err := fs.Lock("LOCK")
	require.NoError(t, err)
	require.NoError(t, l2.Close())
	// Closing twice is harmless.
	require.NoError(t, l2.Close())
}

func TestMemCrashSemantics(t *testing.T) {
	fs := NewMem()

	f, err := fs.Create("synced")
	require.NoError(t, err)
	_, err = f.Write([]byte("durable"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	_, err = f.Write([]byte("+lost"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	g, err := fs.Create("never-synced")
	require.NoError(t, err)
	_, err = g.Write([]byte("gone"))
	require.NoError(t, err)
	require.NoError(t, g.Close())

	fs.ResetToSyncedState()

	b, err := io.ReadAll(mustOpen(t, fs, "synced"))
	require.NoError(t, err)
	require.Equal(t, "durable", string(b))

	b, err = io.ReadAll(mustOpen(t, fs, "never-synced"))
	require.NoError(t, err)
	require.Empty(t, b)
}

func TestMemIgnoreSyncs(t *testing.T) {
	fs := NewMem()
	f, err := fs.Create("f")
	require.NoError(t, err)
	_, err = f.Write([]byte("before"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())

	fs.SetIgnoreSyncs(true)
	_, err = f.Write([]byte("-after"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	fs.ResetToSyncedState()
	b, err := io.ReadAll(mustOpen(t, fs, "f"))
	require.NoError(t, err)
	require.Equal(t, "before", string(b))
}

func mustOpen(t *testing.T, fs FS, name string) File {
	t.Helper()
	f, err := fs.Open(name)
	require.NoError(t, err)
	return f
}
