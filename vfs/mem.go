// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package vfs

import (
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

const sep = "/"

// NewMem returns a new memory-backed FS implementation. It is useful for
// tests and supports simulating a process crash: data written but not synced
// can be discarded with ResetToSyncedState.
func NewMem() *MemFS {
	return &MemFS{
		root: newMemDir(sep),
	}
}

// MemFS implements FS in memory.
type MemFS struct {
	mu   sync.Mutex
	root *memNode

	// ignoreSyncs, when set, makes Sync a no-op: subsequently written data is
	// treated as unsynced and is dropped by ResetToSyncedState. Tests use
	// this to model a crash that loses everything after a chosen point.
	ignoreSyncs bool
}

var _ FS = (*MemFS)(nil)

// SetIgnoreSyncs sets whether the filesystem ignores Sync calls. While set,
// all writes count as unsynced.
func (y *MemFS) SetIgnoreSyncs(ignore bool) {
	y.mu.Lock()
	y.ignoreSyncs = ignore
	y.mu.Unlock()
}

// ResetToSyncedState discards every write that was not followed by a Sync,
// simulating the storage state after a crash. Files that were never synced
// become empty rather than disappearing; the engine's recovery path treats
// an empty or truncated log tail as a clean end of log.
func (y *MemFS) ResetToSyncedState() {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.root.resetToSynced()
}

// walk walks the directory tree for the fullname, calling f at each step.
// dir is the directory at that step, frag is the name fragment, and final is
// whether it is the final step. Each walk is atomic: y.mu is held for the
// entire operation.
func (y *MemFS) walk(fullname string, f func(dir *memNode, frag string, final bool) error) error {
	y.mu.Lock()
	defer y.mu.Unlock()

	// The current working directory is the same as the root directory, so
	// strip any leading separators and start the walk at y.root.
	fullname = strings.TrimLeft(strings.ReplaceAll(fullname, "\\", sep), sep)
	dir := y.root
	for {
		frag, remaining, more := strings.Cut(fullname, sep)
		if err := f(dir, frag, !more); err != nil {
			return err
		}
		if !more {
			break
		}
		child := dir.children[frag]
		if child == nil {
			return &os.PathError{Op: "walk", Path: fullname, Err: os.ErrNotExist}
		}
		if !child.isDir {
			return errors.Newf("cobble/vfs: %q is not a directory", frag)
		}
		dir, fullname = child, strings.TrimLeft(remaining, sep)
	}
	return nil
}

// Create implements FS.Create.
func (y *MemFS) Create(fullname string) (File, error) {
	var ret *memHandle
	err := y.walk(fullname, func(dir *memNode, frag string, final bool) error {
		if final {
			if frag == "" {
				return errors.New("cobble/vfs: empty file name")
			}
			n := &memNode{name: frag}
			dir.children[frag] = n
			ret = &memHandle{fs: y, n: n, write: true}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// Open implements FS.Open.
func (y *MemFS) Open(fullname string) (File, error) {
	var ret *memHandle
	err := y.walk(fullname, func(dir *memNode, frag string, final bool) error {
		if final {
			n := dir.children[frag]
			if n == nil {
				return &os.PathError{Op: "open", Path: fullname, Err: os.ErrNotExist}
			}
			ret = &memHandle{fs: y, n: n}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// Remove implements FS.Remove.
func (y *MemFS) Remove(fullname string) error {
	return y.walk(fullname, func(dir *memNode, frag string, final bool) error {
		if final {
			if _, ok := dir.children[frag]; !ok {
				return &os.PathError{Op: "remove", Path: fullname, Err: os.ErrNotExist}
			}
			delete(dir.children, frag)
		}
		return nil
	})
}

// Rename implements FS.Rename.
func (y *MemFS) Rename(oldname, newname string) error {
	var n *memNode
	err := y.walk(oldname, func(dir *memNode, frag string, final bool) error {
		if final {
			n = dir.children[frag]
			if n == nil {
				return &os.PathError{Op: "rename", Path: oldname, Err: os.ErrNotExist}
			}
			delete(dir.children, frag)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return y.walk(newname, func(dir *memNode, frag string, final bool) error {
		if final {
			if frag == "" {
				return errors.New("cobble/vfs: empty file name")
			}
			n.name = frag
			dir.children[frag] = n
		}
		return nil
	})
}

// MkdirAll implements FS.MkdirAll.
func (y *MemFS) MkdirAll(dirname string, perm os.FileMode) error {
	return y.walk(dirname, func(dir *memNode, frag string, final bool) error {
		if frag == "" {
			return nil
		}
		child := dir.children[frag]
		if child == nil {
			dir.children[frag] = newMemDir(frag)
			return nil
		}
		if !child.isDir {
			return errors.Newf("cobble/vfs: %q is not a directory", frag)
		}
		return nil
	})
}

// Lock implements FS.Lock. Other processes cannot see this process' memory,
// so the lock only guards against two MemFS users within the process.
func (y *MemFS) Lock(fullname string) (io.Closer, error) {
	var locked *memNode
	err := y.walk(fullname, func(dir *memNode, frag string, final bool) error {
		if final {
			n := dir.children[frag]
			if n == nil {
				n = &memNode{name: frag}
				dir.children[frag] = n
			}
			if n.locked {
				return errors.Newf("cobble/vfs: file %q is locked", fullname)
			}
			n.locked = true
			locked = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &memLock{n: locked}, nil
}

// List implements FS.List.
func (y *MemFS) List(dirname string) ([]string, error) {
	if !strings.HasSuffix(dirname, sep) {
		dirname += sep
	}
	var ret []string
	err := y.walk(dirname, func(dir *memNode, frag string, final bool) error {
		if final {
			ret = make([]string, 0, len(dir.children))
			for s := range dir.children {
				ret = append(ret, s)
			}
			sort.Strings(ret)
		}
		return nil
	})
	return ret, err
}

// Stat implements FS.Stat.
func (y *MemFS) Stat(fullname string) (os.FileInfo, error) {
	f, err := y.Open(fullname)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Stat()
}

// memNode holds a file's state, or a directory's children.
type memNode struct {
	name    string
	isDir   bool
	modTime time.Time
	locked  bool

	data      []byte
	syncedLen int

	children map[string]*memNode
}

func newMemDir(name string) *memNode {
	return &memNode{
		name:     name,
		isDir:    true,
		children: make(map[string]*memNode),
	}
}

func (n *memNode) resetToSynced() {
	if n.isDir {
		for _, child := range n.children {
			child.resetToSynced()
		}
		return
	}
	n.data = n.data[:n.syncedLen]
}

// memHandle is an open file. Each handle has its own sequential read offset,
// so multiple readers of one file do not interfere.
type memHandle struct {
	fs    *MemFS
	n     *memNode
	write bool
	rpos  int
}

var _ File = (*memHandle)(nil)

func (f *memHandle) Close() error {
	return nil
}

func (f *memHandle) Read(p []byte) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if f.n.isDir {
		return 0, errors.New("cobble/vfs: cannot read a directory")
	}
	if f.rpos >= len(f.n.data) {
		return 0, io.EOF
	}
	n := copy(p, f.n.data[f.rpos:])
	f.rpos += n
	return n, nil
}

func (f *memHandle) ReadAt(p []byte, off int64) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if f.n.isDir {
		return 0, errors.New("cobble/vfs: cannot read a directory")
	}
	if off >= int64(len(f.n.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.n.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memHandle) Write(p []byte) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if !f.write {
		return 0, errors.New("cobble/vfs: file was not opened for writing")
	}
	f.n.modTime = time.Now()
	f.n.data = append(f.n.data, p...)
	return len(p), nil
}

func (f *memHandle) Sync() error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if !f.fs.ignoreSyncs {
		f.n.syncedLen = len(f.n.data)
	}
	return nil
}

func (f *memHandle) Stat() (os.FileInfo, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	return memFileInfo{
		name:    f.n.name,
		size:    int64(len(f.n.data)),
		modTime: f.n.modTime,
		isDir:   f.n.isDir,
	}, nil
}

type memFileInfo struct {
	name    string
	size    int64
	modTime time.Time
	isDir   bool
}

func (i memFileInfo) Name() string { return i.name }
func (i memFileInfo) Size() int64  { return i.size }
func (i memFileInfo) Mode() os.FileMode {
	if i.isDir {
		return os.ModeDir | 0755
	}
	return 0644
}
func (i memFileInfo) ModTime() time.Time { return i.modTime }
func (i memFileInfo) IsDir() bool        { return i.isDir }
func (i memFileInfo) Sys() interface{}   { return nil }

type memLock struct {
	n    *memNode
	once sync.Once
}

func (l *memLock) Close() error {
	l.once.Do(func() { l.n.locked = false })
	return nil
}
