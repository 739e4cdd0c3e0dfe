// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package cobble

import (
	"github.com/cobbledb/cobble/internal/base"
	"github.com/cobbledb/cobble/sstable"
)

// expandedCompactionByteSizeLimit caps how far a compaction's input-level
// set may be grown beyond the seed file.
func expandedCompactionByteSizeLimit(opts *Options) uint64 {
	return uint64(25 * opts.TargetFileSize)
}

// compaction is a planned merge of the overlapping tables of one level into
// the next.
type compaction struct {
	version *version
	// level is the input level; outputs land on level+1.
	level int
	// inputs[0] are the level files, inputs[1] the overlapping level+1
	// files.
	inputs [2][]*fileMetadata
}

// pickCompaction selects the most compaction-worthy level of the current
// version and the files to merge, or nil when no level is over budget. The
// DB mutex must be held.
func pickCompaction(vs *versionSet) *compaction {
	v := vs.currentVersion()
	if v.compactionScore < 1 {
		return nil
	}
	level := v.compactionLevel
	c := &compaction{version: v, level: level}

	// Resume after the last key compacted out of this level, wrapping to the
	// start of the level so every file is eventually chosen.
	cptr := vs.compactPointers[level]
	for _, f := range v.files[level] {
		if len(cptr.UserKey) == 0 ||
			base.InternalCompare(vs.cmp.Compare, f.largest, cptr) > 0 {
			c.inputs[0] = []*fileMetadata{f}
			break
		}
	}
	if len(c.inputs[0]) == 0 {
		c.inputs[0] = []*fileMetadata{v.files[level][0]}
	}

	if level == 0 {
		// Level 0 files overlap each other, so the whole connected set must
		// move together.
		smallest, largest := keyRange(vs.cmp.Compare, c.inputs[0])
		c.inputs[0] = v.overlaps(0, vs.cmp.Compare, smallest.UserKey, largest.UserKey)
	}

	c.setupOtherInputs(vs)
	return c
}

// setupOtherInputs fills in inputs[1] and opportunistically grows inputs[0]
// when more level files can ride along without widening the level+1 set.
func (c *compaction) setupOtherInputs(vs *versionSet) {
	cmp := vs.cmp.Compare
	smallest, largest := keyRange(cmp, c.inputs[0])
	c.inputs[1] = c.version.overlaps(c.level+1, cmp, smallest.UserKey, largest.UserKey)

	if len(c.inputs[1]) == 0 {
		return
	}
	allSmallest, allLargest := keyRange(cmp, c.inputs[0], c.inputs[1])
	grown := c.version.overlaps(c.level, cmp, allSmallest.UserKey, allLargest.UserKey)
	if len(grown) <= len(c.inputs[0]) ||
		totalSize(grown)+totalSize(c.inputs[1]) >= expandedCompactionByteSizeLimit(vs.opts) {
		return
	}
	grownSmallest, grownLargest := keyRange(cmp, grown)
	grownOther := c.version.overlaps(c.level+1, cmp, grownSmallest.UserKey, grownLargest.UserKey)
	if len(grownOther) == len(c.inputs[1]) {
		c.inputs[0] = grown
	}
}

// isBaseLevelForUkey reports whether no level below the compaction's output
// level contains the user key. A deletion tombstone for such a key shadows
// nothing deeper and can be dropped once no snapshot needs it.
func (c *compaction) isBaseLevelForUkey(cmp base.Compare, ukey []byte) bool {
	for level := c.level + 2; level < numLevels; level++ {
		for _, f := range c.version.files[level] {
			if f.overlaps(cmp, ukey, ukey) {
				return false
			}
		}
	}
	return true
}

func keyRange(cmp base.Compare, inputs ...[]*fileMetadata) (smallest, largest base.InternalKey) {
	first := true
	for _, files := range inputs {
		for _, f := range files {
			if first {
				smallest, largest = f.smallest, f.largest
				first = false
				continue
			}
			if base.InternalCompare(cmp, f.smallest, smallest) < 0 {
				smallest = f.smallest
			}
			if base.InternalCompare(cmp, f.largest, largest) > 0 {
				largest = f.largest
			}
		}
	}
	return smallest, largest
}

func totalSize(files []*fileMetadata) uint64 {
	var n uint64
	for _, f := range files {
		n += f.size
	}
	return n
}

// runCompaction merges the compaction's inputs into new tables on the
// output level and returns the version edit installing them. The DB mutex
// must be held; it is released during I/O.
func (d *DB) runCompaction(c *compaction) (*versionEdit, error) {
	cmp := d.opts.Comparer.Compare
	// Entries at or below the earliest snapshot boundary may be dropped when
	// shadowed; everything above a live boundary must survive.
	smallestSnapshot := d.versions.lastSeqNum
	if s := d.snapshots.earliest(); s < smallestSnapshot {
		smallestSnapshot = s
	}

	d.mu.Unlock()
	defer d.mu.Lock()

	iters := make([]base.InternalIterator, 0, len(c.inputs[0])+len(c.inputs[1]))
	closeAll := func() {
		for _, it := range iters {
			_ = it.Close()
		}
	}
	for _, files := range c.inputs {
		for _, f := range files {
			it, err := d.tableCache.newIter(f.fileNum)
			if err != nil {
				closeAll()
				return nil, err
			}
			iters = append(iters, it)
		}
	}
	iter := newMergingIter(cmp, iters...)
	defer iter.Close()

	ve := &versionEdit{
		deletedFiles: make(map[deletedFileEntry]bool),
	}
	for which, files := range c.inputs {
		for _, f := range files {
			ve.deletedFiles[deletedFileEntry{
				level:   c.level + which,
				fileNum: f.fileNum,
			}] = true
		}
	}

	var (
		writer  *sstable.Writer
		fileNum base.FileNum
		outputs []base.FileNum
		curUkey []byte
		haveKey bool
		// lastSeqForKey is the sequence number of the previous entry seen for
		// curUkey, SeqNumMax when the entry at hand is the newest.
		lastSeqForKey base.SeqNum
	)
	finishOutput := func() error {
		if writer == nil {
			return nil
		}
		w := writer
		writer = nil
		if err := w.Close(); err != nil {
			return err
		}
		meta, err := w.Metadata()
		if err != nil {
			return err
		}
		ve.newFiles = append(ve.newFiles, newFileEntry{
			level: c.level + 1,
			meta: fileMetadata{
				fileNum:  fileNum,
				size:     meta.Size,
				smallest: meta.Smallest,
				largest:  meta.Largest,
			},
		})
		return nil
	}
	abort := func() {
		if writer != nil {
			_ = writer.Close()
		}
		d.mu.Lock()
		for _, fn := range outputs {
			delete(d.pendingOutputs, fn)
			_ = d.opts.FS.Remove(base.MakeFilename(d.dirname, base.FileTypeTable, fn))
		}
		d.mu.Unlock()
	}

	for valid := iter.First(); valid; valid = iter.Next() {
		ik := iter.Key()
		newUserKey := !haveKey || cmp(ik.UserKey, curUkey) != 0
		if newUserKey {
			curUkey = append(curUkey[:0], ik.UserKey...)
			haveKey = true
			lastSeqForKey = base.SeqNumMax
		}
		drop := false
		switch {
		case lastSeqForKey <= smallestSnapshot:
			// A newer entry for this user key survives in the oldest snapshot
			// stripe, so this one is invisible at every boundary.
			drop = true
		case ik.Kind() == base.InternalKeyKindDelete &&
			ik.SeqNum() <= smallestSnapshot &&
			c.isBaseLevelForUkey(cmp, ik.UserKey):
			// The tombstone shadows nothing deeper and no snapshot can see
			// through to an older entry.
			drop = true
		}
		lastSeqForKey = ik.SeqNum()
		if drop {
			continue
		}

		// Split outputs only between user keys: the read path probes a single
		// candidate table per level, so all entries of a user key must stay in
		// one table.
		if writer != nil && newUserKey &&
			writer.EstimatedSize() >= uint64(d.opts.TargetFileSize) {
			if err := finishOutput(); err != nil {
				abort()
				return nil, err
			}
		}
		if writer == nil {
			d.mu.Lock()
			fileNum = d.versions.nextFileNumber()
			d.pendingOutputs[fileNum] = struct{}{}
			d.mu.Unlock()
			outputs = append(outputs, fileNum)
			f, err := d.opts.FS.Create(base.MakeFilename(d.dirname, base.FileTypeTable, fileNum))
			if err != nil {
				abort()
				return nil, err
			}
			writer = sstable.NewWriter(f, d.writerOptions())
		}
		value := iter.Value()
		if d.compactionLimiter != nil {
			d.compactionLimiter.Wait(float64(ik.Size() + len(value)))
		}
		if err := writer.Add(ik, value); err != nil {
			abort()
			return nil, err
		}
	}
	if err := iter.Error(); err != nil {
		abort()
		return nil, err
	}
	if err := finishOutput(); err != nil {
		abort()
		return nil, err
	}

	// Remember how far this level has been compacted so the next compaction
	// picks up where this one left off.
	_, largest := keyRange(cmp, c.inputs[0])
	ve.compactPointers = append(ve.compactPointers,
		compactPointerEntry{level: c.level, key: largest.Clone()})
	return ve, nil
}

func (d *DB) writerOptions() sstable.WriterOptions {
	return sstable.WriterOptions{
		BlockSize:            d.opts.BlockSize,
		BlockRestartInterval: d.opts.BlockRestartInterval,
		Compression:          d.opts.Compression,
		Checksum:             d.opts.Checksum,
		FilterPolicy:         d.opts.FilterPolicy,
		Comparer:             d.opts.Comparer,
	}
}
