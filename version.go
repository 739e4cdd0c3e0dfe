// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package cobble

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cobbledb/cobble/internal/base"
)

// fileMetadata describes one table file in a version.
type fileMetadata struct {
	fileNum base.FileNum
	// size is the file's length in bytes.
	size uint64
	// smallest and largest are the inclusive internal key bounds of the
	// table's entries.
	smallest base.InternalKey
	largest  base.InternalKey
}

func (m *fileMetadata) String() string {
	return fmt.Sprintf("%s:[%s-%s]", m.fileNum, m.smallest, m.largest)
}

// overlaps reports whether the file's user key range intersects
// [ukey0, ukey1].
func (m *fileMetadata) overlaps(cmp base.Compare, ukey0, ukey1 []byte) bool {
	return cmp(m.largest.UserKey, ukey0) >= 0 && cmp(m.smallest.UserKey, ukey1) <= 0
}

// version is an immutable snapshot of the table files at each level. The
// level 0 slice is ordered by ascending file number, so the newest table is
// last; deeper levels are sorted by smallest key and are pairwise disjoint.
//
// Versions form a doubly-linked list owned by the versionSet. A version is
// referenced by the versionSet while current and by every open iterator
// over it; its files may be deleted from disk only once every reference is
// gone. The DB mutex guards the reference counts and the list links.
type version struct {
	refs int32

	files [numLevels][]*fileMetadata

	// compactionScore and compactionLevel cache the most compaction-worthy
	// level, computed when the version is installed. A score >= 1 means the
	// level is over budget.
	compactionScore float64
	compactionLevel int

	prev, next *version
}

func (v *version) ref() {
	v.refs++
}

// unref drops a reference. When the count reaches zero the version is
// removed from its list; the caller is responsible for then deleting any
// newly-unreferenced files. The DB mutex must be held.
func (v *version) unref() {
	v.refs--
	if v.refs == 0 && v.prev != nil {
		v.prev.next = v.next
		v.next.prev = v.prev
		v.prev, v.next = nil, nil
	}
}

func (v *version) String() string {
	var buf strings.Builder
	for level, files := range v.files {
		if len(files) == 0 {
			continue
		}
		fmt.Fprintf(&buf, "%d:", level)
		for _, f := range files {
			fmt.Fprintf(&buf, " %s", f)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

// computeCompactionScore fills in the version's cached compaction score.
// Level 0 is scored by table count so that a read-heavy workload with many
// small flushed tables still compacts; deeper levels are scored by bytes
// against their budget.
func (v *version) computeCompactionScore(opts *Options) {
	bestLevel, bestScore := 0, float64(len(v.files[0]))/float64(opts.L0CompactionThreshold)
	for level := 1; level < numLevels-1; level++ {
		var total int64
		for _, f := range v.files[level] {
			total += int64(f.size)
		}
		score := float64(total) / float64(opts.maxBytesForLevel(level))
		if score > bestScore {
			bestLevel, bestScore = level, score
		}
	}
	v.compactionLevel = bestLevel
	v.compactionScore = bestScore
}

// overlaps returns the files in the given level whose user key range
// intersects [ukey0, ukey1]. For level 0 the search is transitively
// expanded: a matched file widens the range, since level 0 files overlap
// each other and a compaction must take the whole connected set.
func (v *version) overlaps(level int, cmp base.Compare, ukey0, ukey1 []byte) []*fileMetadata {
	var out []*fileMetadata
	if level == 0 {
		ukey0 = append([]byte(nil), ukey0...)
		ukey1 = append([]byte(nil), ukey1...)
		for {
			grew := false
			out = out[:0]
			for _, f := range v.files[0] {
				if !f.overlaps(cmp, ukey0, ukey1) {
					continue
				}
				if cmp(f.smallest.UserKey, ukey0) < 0 {
					ukey0 = append(ukey0[:0], f.smallest.UserKey...)
					grew = true
				}
				if cmp(f.largest.UserKey, ukey1) > 0 {
					ukey1 = append(ukey1[:0], f.largest.UserKey...)
					grew = true
				}
				out = append(out, f)
			}
			if !grew {
				return out
			}
		}
	}

	files := v.files[level]
	// Skip files wholly before ukey0, take files until one starts past ukey1.
	i := sort.Search(len(files), func(i int) bool {
		return cmp(files[i].largest.UserKey, ukey0) >= 0
	})
	for ; i < len(files); i++ {
		if cmp(files[i].smallest.UserKey, ukey1) > 0 {
			break
		}
		out = append(out, files[i])
	}
	return out
}

// checkOrdering verifies the version's structural invariants: level 0
// sorted by file number, deeper levels sorted by smallest key and pairwise
// disjoint.
func (v *version) checkOrdering(cmp base.Compare) error {
	for level, files := range v.files {
		if level == 0 {
			for i := 1; i < len(files); i++ {
				if files[i-1].fileNum >= files[i].fileNum {
					return base.CorruptionErrorf(
						"cobble: level 0 files out of order: %s, %s", files[i-1], files[i])
				}
			}
			continue
		}
		for i := 1; i < len(files); i++ {
			prev, this := files[i-1], files[i]
			if base.InternalCompare(cmp, prev.largest, this.smallest) >= 0 ||
				cmp(prev.largest.UserKey, this.smallest.UserKey) >= 0 {
				return base.CorruptionErrorf(
					"cobble: level %d files overlap: %s, %s", level, prev, this)
			}
		}
	}
	return nil
}

// versionList is the doubly-linked list of live versions, oldest first,
// with a root sentinel. The DB mutex guards it.
type versionList struct {
	root version
}

func (l *versionList) init() {
	l.root.prev = &l.root
	l.root.next = &l.root
}

func (l *versionList) empty() bool {
	return l.root.next == &l.root
}

func (l *versionList) front() *version {
	return l.root.next
}

func (l *versionList) back() *version {
	return l.root.prev
}

func (l *versionList) pushBack(v *version) {
	v.prev = l.root.prev
	v.next = &l.root
	v.prev.next = v
	v.next.prev = v
}
