// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package cobble provides an embedded, persistent, ordered key-value store
// built on a log-structured merge tree: writes land in a write ahead log
// and an in-memory table, flushes turn memtables into immutable sorted
// table files, and a background compactor merges tables down a hierarchy of
// levels.
//
// The public entry points are Open, and the DB methods Get, Set, Delete,
// Apply, NewIter, NewSnapshot, Flush and Close.
package cobble

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"

	"github.com/cobbledb/cobble/internal/base"
	"github.com/cobbledb/cobble/internal/cache"
	"github.com/cobbledb/cobble/internal/rate"
	"github.com/cobbledb/cobble/memtable"
	"github.com/cobbledb/cobble/record"
	"github.com/cobbledb/cobble/sstable"
	"github.com/cobbledb/cobble/vfs"
)

// ErrNotFound means that a get found no value for the requested key. It is
// an expected outcome, not a failure.
var ErrNotFound = base.ErrNotFound

var errClosed = errors.New("cobble: closed")

// DB is a persistent ordered key-value store. It is safe for concurrent use
// by multiple goroutines.
type DB struct {
	dirname string
	opts    *Options
	cmp     base.Compare

	blockCache        *cache.Cache
	tableCache        tableCache
	compactionLimiter *rate.Limiter
	fileLock          io.Closer

	// mu is the central lock: it guards the memtables, the log, the
	// versionSet, the snapshot list and the background-work state. It is
	// released during background I/O.
	mu   sync.Mutex
	cond sync.Cond

	// mem is the active memtable; imm, when non-nil, is a sealed memtable
	// awaiting flush. There is at most one of each.
	mem *memtable.MemTable
	imm *memtable.MemTable

	log       *record.Writer
	logFile   vfs.File
	logNumber base.FileNum

	versions  versionSet
	snapshots snapshotList

	// pendingOutputs are table files being written by an in-flight flush or
	// compaction; they are protected from obsolete-file deletion until their
	// version edit lands or the work aborts.
	pendingOutputs map[base.FileNum]struct{}

	compacting bool
	closed     bool
}

// Open opens the store in dirname, creating it if necessary. The directory
// is locked against concurrent opens; the returned DB owns the lock until
// Close.
func Open(dirname string, opts *Options) (_ *DB, retErr error) {
	opts = opts.EnsureDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	d := &DB{
		dirname:        dirname,
		opts:           opts,
		cmp:            opts.Comparer.Compare,
		blockCache:     cache.New(opts.CacheSize),
		pendingOutputs: make(map[base.FileNum]struct{}),
	}
	d.cond.L = &d.mu
	d.tableCache.init(dirname, opts, d.blockCache)
	d.versions.init(dirname, opts, &d.mu)
	if opts.CompactionRateLimit > 0 {
		d.compactionLimiter = rate.NewLimiter(
			float64(opts.CompactionRateLimit), float64(opts.CompactionRateLimit))
	}

	fs := opts.FS
	if err := fs.MkdirAll(dirname, 0755); err != nil {
		return nil, err
	}
	fileLock, err := fs.Lock(base.MakeFilename(dirname, base.FileTypeLock, 0))
	if err != nil {
		return nil, err
	}
	d.fileLock = fileLock
	defer func() {
		if retErr != nil {
			_ = fileLock.Close()
		}
	}()

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := fs.Stat(base.MakeFilename(dirname, base.FileTypeCurrent, 0)); err != nil {
		if !oserror.IsNotExist(err) {
			return nil, err
		}
		if err := d.versions.create(); err != nil {
			return nil, err
		}
	} else if err := d.versions.load(); err != nil {
		return nil, err
	}

	// Replay any write ahead logs newer than the manifest's log number; their
	// entries were not yet flushed to tables.
	names, err := fs.List(dirname)
	if err != nil {
		return nil, err
	}
	var logNums []base.FileNum
	for _, name := range names {
		ft, fn, ok := base.ParseFilename(name)
		if !ok {
			continue
		}
		d.versions.markFileNumUsed(fn)
		if ft == base.FileTypeLog && fn >= d.versions.logNumber {
			logNums = append(logNums, fn)
		}
	}
	sort.Slice(logNums, func(i, j int) bool { return logNums[i] < logNums[j] })

	var ve versionEdit
	for _, fn := range logNums {
		maxSeqNum, err := d.replayLogFile(&ve, fn)
		if err != nil {
			return nil, err
		}
		if maxSeqNum > d.versions.lastSeqNum {
			d.versions.lastSeqNum = maxSeqNum
		}
	}

	// Start a fresh log for new writes and record it, together with any
	// tables recovered from the old logs, in the manifest.
	d.logNumber = d.versions.nextFileNumber()
	logFile, err := fs.Create(base.MakeFilename(dirname, base.FileTypeLog, d.logNumber))
	if err != nil {
		return nil, err
	}
	d.log = record.NewWriter(logFile)
	d.logFile = logFile
	ve.logNumber = d.logNumber
	if err := d.versions.logAndApply(&ve); err != nil {
		return nil, err
	}
	clear(d.pendingOutputs)

	d.mem = memtable.New(d.cmp)
	d.mem.SetLogNum(d.logNumber)
	d.snapshots.init()
	d.deleteObsoleteFiles()
	d.maybeScheduleCompaction()
	return d, nil
}

// replayLogFile applies the batches of one write ahead log to a fresh
// memtable, flushing it to level 0 tables recorded in ve. An invalid record
// at the log's tail marks the end of what was durably written and stops
// replay cleanly. d.mu must be held.
func (d *DB) replayLogFile(ve *versionEdit, fileNum base.FileNum) (base.SeqNum, error) {
	f, err := d.opts.FS.Open(base.MakeFilename(d.dirname, base.FileTypeLog, fileNum))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var maxSeqNum base.SeqNum
	mem := memtable.New(d.cmp)
	rr := record.NewReader(f)
	for {
		r, err := rr.Next()
		if err == io.EOF || record.IsInvalidRecord(err) {
			break
		}
		if err != nil {
			return 0, err
		}
		buf, err := io.ReadAll(r)
		if record.IsInvalidRecord(err) {
			break
		}
		if err != nil {
			return 0, err
		}
		b, ok := batchRepr(buf)
		if !ok {
			return 0, base.CorruptionErrorf("cobble: log %s: record is not a batch", fileNum)
		}
		seqNum := b.SeqNum()
		if err := applyBatchToMemTable(mem, b, seqNum); err != nil {
			return 0, err
		}
		if s := seqNum + base.SeqNum(b.Count()) - 1; s > maxSeqNum {
			maxSeqNum = s
		}

		if mem.ApproximateSize() >= int64(d.opts.MemTableSize) {
			meta, err := d.writeLevel0Table(mem)
			if err != nil {
				return 0, err
			}
			ve.newFiles = append(ve.newFiles, newFileEntry{level: 0, meta: meta})
			mem = memtable.New(d.cmp)
		}
	}
	if !mem.Empty() {
		meta, err := d.writeLevel0Table(mem)
		if err != nil {
			return 0, err
		}
		ve.newFiles = append(ve.newFiles, newFileEntry{level: 0, meta: meta})
	}
	return maxSeqNum, nil
}

// applyBatchToMemTable inserts a batch's entries into mem with sequence
// numbers counting up from seqNum.
func applyBatchToMemTable(mem *memtable.MemTable, b *Batch, seqNum base.SeqNum) error {
	r := b.iter()
	for n := b.Count(); n > 0; n-- {
		kind, ukey, value, ok := r.next()
		if !ok {
			return base.CorruptionErrorf("cobble: corrupt batch")
		}
		mem.Set(base.MakeInternalKey(ukey, seqNum, kind), value)
		seqNum++
	}
	if len(r) != 0 {
		return base.CorruptionErrorf("cobble: corrupt batch: trailing bytes")
	}
	return nil
}

// Set stores the value for the given key, overwriting any previous value.
func (d *DB) Set(key, value []byte, opts *WriteOptions) error {
	var b Batch
	b.Set(key, value)
	return d.Apply(&b, opts)
}

// Delete removes any value for the given key. Deleting a key that holds no
// value succeeds.
func (d *DB) Delete(key []byte, opts *WriteOptions) error {
	var b Batch
	b.Delete(key)
	return d.Apply(&b, opts)
}

// Apply commits the batch atomically: its entries receive consecutive
// sequence numbers, land in the write ahead log as one record, and become
// visible together. With opts requesting sync, Apply does not return until
// the log record is on stable storage.
func (d *DB) Apply(batch *Batch, opts *WriteOptions) error {
	if batch.Empty() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed
	}
	if err := d.makeRoomForWrite(false); err != nil {
		return err
	}

	seqNum := d.versions.lastSeqNum + 1
	batch.setSeqNum(seqNum)
	if _, err := d.log.WriteRecord(batch.data); err != nil {
		return err
	}
	if opts.GetSync() {
		if err := d.logFile.Sync(); err != nil {
			return err
		}
	}
	if err := applyBatchToMemTable(d.mem, batch, seqNum); err != nil {
		return err
	}
	d.versions.lastSeqNum += base.SeqNum(batch.Count())
	return nil
}

// Get retrieves the value for the given key, returning ErrNotFound if the
// key is absent. The returned slice is the caller's to keep.
func (d *DB) Get(key []byte) ([]byte, error) {
	return d.getInternal(key, base.SeqNumMax)
}

// getInternal reads key at the given sequence number boundary. SeqNumMax
// means the current boundary; a snapshot of an empty store legitimately
// reads at boundary zero and must see nothing.
func (d *DB) getInternal(key []byte, seqNum base.SeqNum) ([]byte, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, errClosed
	}
	if seqNum == base.SeqNumMax {
		seqNum = d.versions.lastSeqNum
	}
	mem, imm := d.mem, d.imm
	v := d.versions.currentVersion()
	v.ref()
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		v.unref()
		d.mu.Unlock()
	}()

	// Search newest to oldest; the first conclusive answer wins. A deletion
	// tombstone is a conclusive absent.
	if value, conclusive, err := mem.Get(key, seqNum); conclusive {
		return cloneValue(value), err
	}
	if imm != nil {
		if value, conclusive, err := imm.Get(key, seqNum); conclusive {
			return cloneValue(value), err
		}
	}

	// Level 0 tables may overlap; newest first.
	for i := len(v.files[0]) - 1; i >= 0; i-- {
		f := v.files[0][i]
		if !f.overlaps(d.cmp, key, key) {
			continue
		}
		if value, conclusive, err := d.tableGet(f, key, seqNum); conclusive {
			return value, err
		}
	}
	// Deeper levels are disjoint: at most one candidate table each.
	for level := 1; level < numLevels; level++ {
		files := v.files[level]
		i := sort.Search(len(files), func(i int) bool {
			return d.cmp(files[i].largest.UserKey, key) >= 0
		})
		if i >= len(files) || d.cmp(key, files[i].smallest.UserKey) < 0 {
			continue
		}
		if value, conclusive, err := d.tableGet(files[i], key, seqNum); conclusive {
			return value, err
		}
	}
	return nil, ErrNotFound
}

// tableGet looks key up in one table, consulting the filter first.
func (d *DB) tableGet(
	f *fileMetadata, key []byte, seqNum base.SeqNum,
) (value []byte, conclusive bool, err error) {
	ferr := d.tableCache.withReader(f.fileNum, func(r *sstable.Reader) error {
		if !r.MayContain(key) {
			return nil
		}
		it := r.NewIter()
		if it.SeekGE(base.MakeSearchKey(key, seqNum)) {
			if ik := it.Key(); d.cmp(ik.UserKey, key) == 0 && ik.Visible(seqNum) {
				conclusive = true
				if ik.Kind() == base.InternalKeyKindDelete {
					err = ErrNotFound
				} else {
					value = cloneValue(it.Value())
				}
			}
		}
		return it.Close()
	})
	if ferr != nil {
		return nil, true, ferr
	}
	return value, conclusive, err
}

func cloneValue(v []byte) []byte {
	if v == nil {
		return nil
	}
	return append([]byte(nil), v...)
}

// NewIter returns an iterator over the DB's current view. The iterator
// observes no writes committed after NewIter returns.
func (d *DB) NewIter(o *IterOptions) (*Iterator, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, errClosed
	}
	d.mu.Unlock()
	return d.newIter(o, base.SeqNumMax), nil
}

// NewSnapshot returns a point-in-time view of the current state. The caller
// must Close it when done.
func (d *DB) NewSnapshot() *Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &Snapshot{db: d, seqNum: d.versions.lastSeqNum}
	d.snapshots.pushBack(s)
	return s
}

// newIter builds an iterator reading at the given boundary; SeqNumMax means
// the current boundary.
func (d *DB) newIter(o *IterOptions, seqNum base.SeqNum) *Iterator {
	d.mu.Lock()
	if seqNum == base.SeqNumMax {
		seqNum = d.versions.lastSeqNum
	}
	mem, imm := d.mem, d.imm
	v := d.versions.currentVersion()
	v.ref()
	d.mu.Unlock()

	// Sources in precedence order, newest first: the merging iterator breaks
	// internal key ties in favor of earlier sources.
	var iters []base.InternalIterator
	iters = append(iters, mem.NewIter())
	if imm != nil {
		iters = append(iters, imm.NewIter())
	}
	var buildErr error
	for i := len(v.files[0]) - 1; i >= 0; i-- {
		it, err := d.tableCache.newIter(v.files[0][i].fileNum)
		if err != nil {
			buildErr = firstError(buildErr, err)
			continue
		}
		iters = append(iters, it)
	}
	for level := 1; level < numLevels; level++ {
		if len(v.files[level]) == 0 {
			continue
		}
		iters = append(iters, newLevelIter(d.cmp, &d.tableCache, v.files[level]))
	}

	return &Iterator{
		d:       d,
		iter:    newMergingIter(d.cmp, iters...),
		version: v,
		seqNum:  seqNum,
		cmp:     d.cmp,
		lower:   o.lowerBound(),
		upper:   o.upperBound(),
		err:     buildErr,
	}
}

// makeRoomForWrite ensures the active memtable has room for a write,
// sealing it and rotating the log when it is full. With force it always
// seals. Blocks while level 0 is at the stop threshold or while a previous
// memtable is still flushing. d.mu must be held.
func (d *DB) makeRoomForWrite(force bool) error {
	allowDelay := !force
	for {
		if d.closed {
			return errClosed
		}
		if allowDelay && len(d.versions.currentVersion().files[0]) >= d.opts.l0SlowdownThreshold() {
			// Getting close to the hard limit: surrender a little latency to
			// each write instead of stalling some writes for seconds.
			d.mu.Unlock()
			time.Sleep(time.Millisecond)
			d.mu.Lock()
			allowDelay = false
			continue
		}
		if !force && d.mem.ApproximateSize() < int64(d.opts.MemTableSize) {
			return nil
		}
		if d.imm != nil {
			// One sealed memtable at a time; wait for the flush.
			d.cond.Wait()
			continue
		}
		if len(d.versions.currentVersion().files[0]) >= d.opts.L0StopWritesThreshold {
			d.cond.Wait()
			continue
		}

		newLogNumber := d.versions.nextFileNumber()
		newLogFile, err := d.opts.FS.Create(
			base.MakeFilename(d.dirname, base.FileTypeLog, newLogNumber))
		if err != nil {
			return err
		}
		if err := d.log.Close(); err != nil {
			_ = newLogFile.Close()
			return err
		}
		_ = d.logFile.Close()
		d.log = record.NewWriter(newLogFile)
		d.logFile = newLogFile
		d.logNumber = newLogNumber

		d.imm = d.mem
		d.imm.Seal()
		d.mem = memtable.New(d.cmp)
		d.mem.SetLogNum(newLogNumber)
		force = false
		d.maybeScheduleCompaction()
	}
}

// Flush writes the contents of the active memtable to a level 0 table and
// returns once it is durable. Flushing an empty store is a no-op.
func (d *DB) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed
	}
	if d.mem.Empty() && d.imm == nil {
		return nil
	}
	if err := d.makeRoomForWrite(true); err != nil {
		return err
	}
	for d.imm != nil {
		if d.closed {
			return errClosed
		}
		d.cond.Wait()
	}
	return nil
}

// maybeScheduleCompaction starts the background worker if there is work and
// none is running. d.mu must be held.
func (d *DB) maybeScheduleCompaction() {
	if d.compacting || d.closed {
		return
	}
	if d.imm == nil && d.versions.currentVersion().compactionScore < 1 {
		return
	}
	d.compacting = true
	go d.compact()
}

// compact is the background worker: it performs one flush or compaction,
// then reschedules itself while work remains.
func (d *DB) compact() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.compact1(); err != nil && !d.closed {
		// Background errors are retried on the next cycle; the failed work
		// installed nothing.
		d.opts.Logger.Errorf("cobble: background error: %v", err)
	}
	d.compacting = false
	d.cond.Broadcast()
	d.maybeScheduleCompaction()
}

// compact1 runs one unit of background work: flushing the sealed memtable
// takes priority over a table compaction. d.mu must be held.
func (d *DB) compact1() error {
	if d.imm != nil {
		return d.flushMemTable()
	}
	c := pickCompaction(&d.versions)
	if c == nil {
		return nil
	}
	ve, err := d.runCompaction(c)
	if err != nil {
		return err
	}
	if err := d.versions.logAndApply(ve); err != nil {
		return err
	}
	for _, nf := range ve.newFiles {
		delete(d.pendingOutputs, nf.meta.fileNum)
	}
	d.deleteObsoleteFiles()
	return nil
}

// flushMemTable writes the sealed memtable to a level 0 table and installs
// it. An empty sealed memtable installs only the log number advance, so the
// old log still becomes deletable. d.mu must be held.
func (d *DB) flushMemTable() error {
	var ve versionEdit
	if !d.imm.Empty() {
		meta, err := d.writeLevel0Table(d.imm)
		if err != nil {
			return err
		}
		ve.newFiles = append(ve.newFiles, newFileEntry{level: 0, meta: meta})
	}
	ve.logNumber = d.logNumber
	if err := d.versions.logAndApply(&ve); err != nil {
		for _, nf := range ve.newFiles {
			delete(d.pendingOutputs, nf.meta.fileNum)
			_ = d.opts.FS.Remove(base.MakeFilename(d.dirname, base.FileTypeTable, nf.meta.fileNum))
		}
		return err
	}
	for _, nf := range ve.newFiles {
		delete(d.pendingOutputs, nf.meta.fileNum)
	}
	d.imm = nil
	d.deleteObsoleteFiles()
	return nil
}

// writeLevel0Table writes mem's contents to a new table file and returns
// its metadata. The file number stays in pendingOutputs; the caller removes
// it once the version edit lands or deletes the file on failure. d.mu must
// be held and is released during I/O.
func (d *DB) writeLevel0Table(mem *memtable.MemTable) (_ fileMetadata, retErr error) {
	fileNum := d.versions.nextFileNumber()
	d.pendingOutputs[fileNum] = struct{}{}
	d.mu.Unlock()
	defer d.mu.Lock()

	filename := base.MakeFilename(d.dirname, base.FileTypeTable, fileNum)
	defer func() {
		if retErr != nil {
			_ = d.opts.FS.Remove(filename)
			d.mu.Lock()
			delete(d.pendingOutputs, fileNum)
			d.mu.Unlock()
		}
	}()

	f, err := d.opts.FS.Create(filename)
	if err != nil {
		return fileMetadata{}, err
	}
	w := sstable.NewWriter(f, d.writerOptions())
	it := mem.NewIter()
	for valid := it.First(); valid; valid = it.Next() {
		value := it.Value()
		if d.compactionLimiter != nil {
			d.compactionLimiter.Wait(float64(it.Key().Size() + len(value)))
		}
		if err := w.Add(it.Key(), value); err != nil {
			_ = w.Close()
			return fileMetadata{}, err
		}
	}
	_ = it.Close()
	if err := w.Close(); err != nil {
		return fileMetadata{}, err
	}
	meta, err := w.Metadata()
	if err != nil {
		return fileMetadata{}, err
	}
	return fileMetadata{
		fileNum:  fileNum,
		size:     meta.Size,
		smallest: meta.Smallest,
		largest:  meta.Largest,
	}, nil
}

// deleteObsoleteFiles removes files no longer referenced by any live
// version, pending output, the current log or the current manifest. d.mu
// must be held.
func (d *DB) deleteObsoleteFiles() {
	live := make(map[base.FileNum]struct{}, len(d.pendingOutputs))
	for fn := range d.pendingOutputs {
		live[fn] = struct{}{}
	}
	d.versions.addLiveFileNums(live)

	names, err := d.opts.FS.List(d.dirname)
	if err != nil {
		d.opts.Logger.Errorf("cobble: could not list %s: %v", d.dirname, err)
		return
	}
	for _, name := range names {
		ft, fn, ok := base.ParseFilename(name)
		if !ok {
			continue
		}
		keep := true
		switch ft {
		case base.FileTypeLog:
			keep = fn >= d.versions.logNumber || fn == d.logNumber
		case base.FileTypeManifest:
			keep = fn == d.versions.manifestFileNum
		case base.FileTypeTable:
			_, keep = live[fn]
		case base.FileTypeTemp:
			keep = false
		}
		if keep {
			continue
		}
		if ft == base.FileTypeTable {
			d.tableCache.evict(fn)
		}
		if err := d.opts.FS.Remove(base.MakeFilename(d.dirname, ft, fn)); err != nil {
			d.opts.Logger.Errorf("cobble: could not delete %s: %v", name, err)
		}
	}
}

// Close waits for background work to finish and releases the DB's
// resources. Open iterators and snapshots must be closed first. The store
// may be reopened afterwards.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	for d.compacting {
		d.cond.Wait()
	}
	d.closed = true
	d.cond.Broadcast()

	err := d.log.Close()
	err = firstError(err, d.logFile.Close())
	err = firstError(err, d.versions.close())
	err = firstError(err, d.tableCache.Close())
	err = firstError(err, d.fileLock.Close())
	return err
}
