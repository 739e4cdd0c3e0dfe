// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package cobble

import (
	"github.com/cockroachdb/errors"

	"github.com/cobbledb/cobble/internal/base"
)

// Snapshot provides a read-only point-in-time view of the DB: every entry
// committed before NewSnapshot returned is visible, every later entry is
// not. An open snapshot pins its sequence number against compaction
// garbage collection, so long-lived snapshots retard space reclamation.
type Snapshot struct {
	db     *DB
	seqNum base.SeqNum

	prev, next *Snapshot
}

// Get retrieves the value for the given key at the snapshot's sequence
// number, returning base.ErrNotFound if the key was absent.
func (s *Snapshot) Get(key []byte) ([]byte, error) {
	if s.db == nil {
		return nil, errors.New("cobble: closed snapshot")
	}
	return s.db.getInternal(key, s.seqNum)
}

// NewIter returns an iterator over the snapshot's view.
func (s *Snapshot) NewIter(o *IterOptions) (*Iterator, error) {
	if s.db == nil {
		return nil, errors.New("cobble: closed snapshot")
	}
	return s.db.newIter(o, s.seqNum), nil
}

// Close releases the snapshot, allowing compactions to drop entries it
// pinned. It is an error to use the snapshot afterwards.
func (s *Snapshot) Close() error {
	if s.db == nil {
		return errors.New("cobble: closed snapshot")
	}
	db := s.db
	db.mu.Lock()
	db.snapshots.remove(s)
	db.mu.Unlock()
	s.db = nil
	return nil
}

// snapshotList is a doubly-linked list of the open snapshots, with a root
// sentinel. The DB mutex guards it.
type snapshotList struct {
	root Snapshot
}

func (l *snapshotList) init() {
	l.root.prev = &l.root
	l.root.next = &l.root
}

func (l *snapshotList) empty() bool {
	return l.root.next == &l.root
}

// earliest returns the smallest sequence number held by an open snapshot,
// or SeqNumMax if there is none. Entries at or below every boundary a live
// snapshot defines must be preserved by compaction; everything shadowed
// above the earliest boundary may be dropped.
func (l *snapshotList) earliest() base.SeqNum {
	if l.empty() {
		return base.SeqNumMax
	}
	// Snapshots are pushed at the back in sequence order, so the oldest is
	// at the front.
	return l.root.next.seqNum
}

func (l *snapshotList) pushBack(s *Snapshot) {
	s.prev = l.root.prev
	s.next = &l.root
	s.prev.next = s
	s.next.prev = s
}

func (l *snapshotList) remove(s *Snapshot) {
	s.prev.next = s.next
	s.next.prev = s.prev
	s.prev, s.next = nil, nil
}
