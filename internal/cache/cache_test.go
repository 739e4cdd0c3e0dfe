// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package cache

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestGetSet(t *testing.T) {
	c := New(1 << 20)
	require.Nil(t, c.Get(1, 0))
	c.Set(1, 0, []byte("block"))
	require.Equal(t, []byte("block"), c.Get(1, 0))
	require.Equal(t, int64(5), c.Size())

	// Same file, different offset is a different block.
	require.Nil(t, c.Get(1, 100))
	// Different file, same offset too.
	require.Nil(t, c.Get(2, 0))
}

func TestLRUEviction(t *testing.T) {
	c := New(100)
	block := make([]byte, 40)
	c.Set(1, 0, block)
	c.Set(1, 100, block)
	// Touch the first block so the second is the eviction victim.
	require.NotNil(t, c.Get(1, 0))
	c.Set(1, 200, block)
	require.LessOrEqual(t, c.Size(), int64(100))
	require.NotNil(t, c.Get(1, 0))
	require.Nil(t, c.Get(1, 100))
	require.NotNil(t, c.Get(1, 200))
}

func TestOversizedValueNotCached(t *testing.T) {
	c := New(10)
	c.Set(1, 0, make([]byte, 11))
	require.Nil(t, c.Get(1, 0))
	require.Zero(t, c.Size())
}

func TestReplace(t *testing.T) {
	c := New(100)
	c.Set(1, 0, []byte("aaaa"))
	c.Set(1, 0, []byte("bb"))
	require.Equal(t, []byte("bb"), c.Get(1, 0))
	require.Equal(t, int64(2), c.Size())
}

func TestEvictFile(t *testing.T) {
	c := New(1 << 20)
	c.Set(1, 0, []byte("a"))
	c.Set(1, 100, []byte("b"))
	c.Set(2, 0, []byte("c"))
	c.EvictFile(1)
	require.Nil(t, c.Get(1, 0))
	require.Nil(t, c.Get(1, 100))
	require.Equal(t, []byte("c"), c.Get(2, 0))
	require.Equal(t, int64(1), c.Size())
}

func TestGetOrLoad(t *testing.T) {
	c := New(1 << 20)
	loads := 0
	load := func() ([]byte, error) {
		loads++
		return []byte("loaded"), nil
	}
	b, err := c.GetOrLoad(1, 0, load)
	require.NoError(t, err)
	require.Equal(t, []byte("loaded"), b)
	b, err = c.GetOrLoad(1, 0, load)
	require.NoError(t, err)
	require.Equal(t, []byte("loaded"), b)
	require.Equal(t, 1, loads)
}

func TestGetOrLoadError(t *testing.T) {
	c := New(1 << 20)
	boom := errors.New("boom")
	_, err := c.GetOrLoad(1, 0, func() ([]byte, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	// A failed load caches nothing; the next load runs.
	b, err := c.GetOrLoad(1, 0, func() ([]byte, error) { return []byte("ok"), nil })
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), b)
}

func TestGetOrLoadCoalesces(t *testing.T) {
	c := New(1 << 20)
	var loads atomic.Int32
	var release sync.WaitGroup
	release.Add(1)
	load := func() ([]byte, error) {
		loads.Add(1)
		release.Wait()
		return []byte("x"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := c.GetOrLoad(3, 42, load)
			require.NoError(t, err)
			require.Equal(t, []byte("x"), b)
		}()
	}
	// Give the goroutines a chance to pile up on the in-flight load, then
	// let it finish.
	release.Done()
	wg.Wait()
	require.LessOrEqual(t, loads.Load(), int32(8))
	require.Positive(t, loads.Load())
}

func TestNilCache(t *testing.T) {
	var c *Cache
	require.Nil(t, c.Get(1, 0))
	c.Set(1, 0, []byte("x"))
	c.EvictFile(1)
	require.Zero(t, c.Size())
	b, err := c.GetOrLoad(1, 0, func() ([]byte, error) { return []byte("y"), nil })
	require.NoError(t, err)
	require.Equal(t, []byte("y"), b)
}
