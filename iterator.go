// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package cobble

import (
	"sort"

	"github.com/cobbledb/cobble/internal/base"
)

// mergingIter merges a set of internal iterators into one sorted stream.
// When two children hold equal internal keys the lower-indexed child wins,
// so callers list sources in precedence order, newest first.
type mergingIter struct {
	cmp   base.Compare
	iters []base.InternalIterator
	// heap holds the indexes of the valid children, ordered as a min-heap on
	// their current keys.
	heap []int
	err  error
}

func newMergingIter(cmp base.Compare, iters ...base.InternalIterator) *mergingIter {
	return &mergingIter{cmp: cmp, iters: iters}
}

func (m *mergingIter) less(i, j int) bool {
	a, b := m.iters[m.heap[i]], m.iters[m.heap[j]]
	if c := base.InternalCompare(m.cmp, a.Key(), b.Key()); c != 0 {
		return c < 0
	}
	return m.heap[i] < m.heap[j]
}

func (m *mergingIter) swap(i, j int) {
	m.heap[i], m.heap[j] = m.heap[j], m.heap[i]
}

func (m *mergingIter) initHeap() {
	m.heap = m.heap[:0]
	for i, it := range m.iters {
		if it.Valid() {
			m.heap = append(m.heap, i)
		} else if err := it.Error(); err != nil {
			m.err = err
		}
	}
	for i := len(m.heap)/2 - 1; i >= 0; i-- {
		m.down(i)
	}
}

func (m *mergingIter) down(i int) {
	for {
		l, r := 2*i+1, 2*i+2
		smallest := i
		if l < len(m.heap) && m.less(l, smallest) {
			smallest = l
		}
		if r < len(m.heap) && m.less(r, smallest) {
			smallest = r
		}
		if smallest == i {
			return
		}
		m.swap(i, smallest)
		i = smallest
	}
}

func (m *mergingIter) First() bool {
	if m.err != nil {
		return false
	}
	for _, it := range m.iters {
		it.First()
	}
	m.initHeap()
	return m.Valid()
}

func (m *mergingIter) SeekGE(key base.InternalKey) bool {
	if m.err != nil {
		return false
	}
	for _, it := range m.iters {
		it.SeekGE(key)
	}
	m.initHeap()
	return m.Valid()
}

func (m *mergingIter) Next() bool {
	if m.err != nil || len(m.heap) == 0 {
		return false
	}
	it := m.iters[m.heap[0]]
	if it.Next() {
		m.down(0)
	} else {
		if err := it.Error(); err != nil {
			m.err = err
			return false
		}
		m.heap[0] = m.heap[len(m.heap)-1]
		m.heap = m.heap[:len(m.heap)-1]
		if len(m.heap) > 0 {
			m.down(0)
		}
	}
	return m.Valid()
}

func (m *mergingIter) Valid() bool {
	return m.err == nil && len(m.heap) > 0
}

func (m *mergingIter) Key() base.InternalKey {
	return m.iters[m.heap[0]].Key()
}

func (m *mergingIter) Value() []byte {
	return m.iters[m.heap[0]].Value()
}

func (m *mergingIter) Error() error {
	return m.err
}

func (m *mergingIter) Close() error {
	err := m.err
	for _, it := range m.iters {
		err = firstError(err, it.Close())
	}
	m.iters = nil
	m.heap = nil
	return err
}

var _ base.InternalIterator = (*mergingIter)(nil)

// levelIter iterates over the files of one level >= 1, opening one table at
// a time. The level's files are pairwise disjoint and sorted by smallest
// key, so the concatenation of the per-file iterators is sorted.
type levelIter struct {
	cmp    base.Compare
	files  []*fileMetadata
	tables *tableCache
	// index is the position in files of the open table; len(files) once
	// exhausted.
	index int
	iter  base.InternalIterator
	err   error
}

func newLevelIter(cmp base.Compare, tables *tableCache, files []*fileMetadata) *levelIter {
	return &levelIter{cmp: cmp, files: files, tables: tables, index: len(files)}
}

// loadFile opens the table at index, closing any previously open table.
func (l *levelIter) loadFile(index int) bool {
	if l.iter != nil {
		l.err = firstError(l.err, l.iter.Close())
		l.iter = nil
	}
	l.index = index
	if l.err != nil || index >= len(l.files) {
		return false
	}
	iter, err := l.tables.newIter(l.files[index].fileNum)
	if err != nil {
		l.err = err
		return false
	}
	l.iter = iter
	return true
}

func (l *levelIter) First() bool {
	if !l.loadFile(0) {
		return false
	}
	if l.iter.First() {
		return true
	}
	l.err = firstError(l.err, l.iter.Error())
	return false
}

func (l *levelIter) SeekGE(key base.InternalKey) bool {
	// The first file whose largest key is >= key is the only file that can
	// contain an entry in [key, next file's range).
	index := sort.Search(len(l.files), func(i int) bool {
		return base.InternalCompare(l.cmp, l.files[i].largest, key) >= 0
	})
	if !l.loadFile(index) {
		return false
	}
	if l.iter.SeekGE(key) {
		return true
	}
	if l.err = firstError(l.err, l.iter.Error()); l.err != nil {
		return false
	}
	return l.nextFile()
}

func (l *levelIter) nextFile() bool {
	if !l.loadFile(l.index + 1) {
		return false
	}
	if l.iter.First() {
		return true
	}
	l.err = firstError(l.err, l.iter.Error())
	return false
}

func (l *levelIter) Next() bool {
	if l.err != nil || l.iter == nil {
		return false
	}
	if l.iter.Next() {
		return true
	}
	if l.err = firstError(l.err, l.iter.Error()); l.err != nil {
		return false
	}
	return l.nextFile()
}

func (l *levelIter) Valid() bool {
	return l.err == nil && l.iter != nil && l.iter.Valid()
}

func (l *levelIter) Key() base.InternalKey { return l.iter.Key() }

func (l *levelIter) Value() []byte { return l.iter.Value() }

func (l *levelIter) Error() error { return l.err }

func (l *levelIter) Close() error {
	if l.iter != nil {
		l.err = firstError(l.err, l.iter.Close())
		l.iter = nil
	}
	l.index = len(l.files)
	return l.err
}

var _ base.InternalIterator = (*levelIter)(nil)

// Iterator iterates over a DB's user keys in ascending order, presenting
// the point-in-time view at its sequence number: for each user key the
// newest visible entry decides, and deletion tombstones hide the key
// entirely. An Iterator holds its version and tables open; Close releases
// them.
//
// An Iterator is not safe for concurrent use.
type Iterator struct {
	d       *DB
	iter    base.InternalIterator
	version *version
	seqNum  base.SeqNum
	cmp     base.Compare

	lower, upper []byte

	// key holds a copy of the user key most recently surfaced or shadowed;
	// it detects older entries for the same user key.
	key    []byte
	keySet bool
	value  []byte
	valid  bool
	err    error
}

// First positions the iterator at the first key.
func (i *Iterator) First() bool {
	if i.err != nil {
		return false
	}
	i.keySet = false
	if i.lower != nil {
		i.iter.SeekGE(base.MakeSearchKey(i.lower, i.seqNum))
	} else {
		i.iter.First()
	}
	return i.findNextEntry()
}

// SeekGE positions the iterator at the first key >= key.
func (i *Iterator) SeekGE(key []byte) bool {
	if i.err != nil {
		return false
	}
	if i.lower != nil && i.cmp(key, i.lower) < 0 {
		key = i.lower
	}
	i.keySet = false
	i.iter.SeekGE(base.MakeSearchKey(key, i.seqNum))
	return i.findNextEntry()
}

// Next advances the iterator to the next key.
func (i *Iterator) Next() bool {
	if i.err != nil || !i.valid {
		return false
	}
	i.iter.Next()
	return i.findNextEntry()
}

// findNextEntry advances the internal iterator to the newest visible,
// non-deleted entry of the next unseen user key.
func (i *Iterator) findNextEntry() bool {
	i.valid = false
	for i.iter.Valid() {
		ik := i.iter.Key()
		if i.upper != nil && i.cmp(ik.UserKey, i.upper) >= 0 {
			break
		}
		if !ik.Visible(i.seqNum) {
			i.iter.Next()
			continue
		}
		if i.keySet && i.cmp(ik.UserKey, i.key) == 0 {
			// An older entry for a user key already decided.
			i.iter.Next()
			continue
		}
		i.key = append(i.key[:0], ik.UserKey...)
		i.keySet = true
		if ik.Kind() == base.InternalKeyKindDelete {
			i.iter.Next()
			continue
		}
		i.value = i.iter.Value()
		i.valid = true
		return true
	}
	i.err = firstError(i.err, i.iter.Error())
	return false
}

// Valid reports whether the iterator is positioned at a key.
func (i *Iterator) Valid() bool {
	return i.valid
}

// Key returns the current user key. It is valid until the next positioning
// call.
func (i *Iterator) Key() []byte {
	return i.key
}

// Value returns the current value, under the same validity rule as Key.
func (i *Iterator) Value() []byte {
	return i.value
}

// Error returns any error encountered while iterating.
func (i *Iterator) Error() error {
	return i.err
}

// Close releases the iterator's resources.
func (i *Iterator) Close() error {
	err := firstError(i.err, i.iter.Close())
	if i.version != nil {
		i.d.mu.Lock()
		i.version.unref()
		i.d.mu.Unlock()
		i.version = nil
	}
	i.valid = false
	i.err = err
	return err
}
