// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package cobble

import (
	"fmt"
	"io"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/cobbledb/cobble/internal/base"
	"github.com/cobbledb/cobble/record"
	"github.com/cobbledb/cobble/vfs"
)

// manifestRotationSize is the manifest length at which the next version
// edit is written to a fresh manifest seeded with a snapshot of the current
// version, bounding recovery time.
const manifestRotationSize = 128 << 10

// versionSet manages the live versions and the manifest that makes them
// durable. All mutation happens with the DB mutex held.
type versionSet struct {
	dirname string
	fs      vfs.FS
	opts    *Options
	cmp     *base.Comparer
	mu      *sync.Mutex

	// versions lists the live versions, oldest to newest. The newest is the
	// current version; the versionSet holds one reference to it.
	versions versionList

	// logNumber is the write ahead log holding entries not yet flushed to a
	// table. Logs with smaller numbers are obsolete.
	logNumber       base.FileNum
	manifestFileNum base.FileNum
	nextFileNum     base.FileNum
	// lastSeqNum is the sequence number of the most recently committed
	// entry. Reads at this boundary see every committed write.
	lastSeqNum base.SeqNum

	// compactPointers remember, per level, the largest key of the last
	// compaction out of that level, so file selection round-robins across
	// the keyspace. An empty user key means the level has not been compacted
	// yet.
	compactPointers [numLevels]base.InternalKey

	manifest     *record.Writer
	manifestFile vfs.File
}

func (vs *versionSet) init(dirname string, opts *Options, mu *sync.Mutex) {
	vs.dirname = dirname
	vs.fs = opts.FS
	vs.opts = opts
	vs.cmp = opts.Comparer
	vs.mu = mu
	vs.versions.init()
	vs.nextFileNum = 1
}

// create initializes a brand new store: an empty version, a manifest
// holding its creation edit, and a CURRENT file pointing at the manifest.
func (vs *versionSet) create() error {
	vs.manifestFileNum = vs.nextFileNumber()
	ve := versionEdit{
		comparatorName: vs.cmp.Name,
		nextFileNumber: vs.nextFileNum,
		hasLastSeqNum:  true,
	}
	m, f, err := vs.createManifest(vs.manifestFileNum, &ve)
	if err != nil {
		return err
	}
	vs.manifest, vs.manifestFile = m, f
	if err := vs.manifest.Flush(); err != nil {
		return err
	}
	if err := vs.manifestFile.Sync(); err != nil {
		return err
	}
	if err := vs.setCurrentFile(vs.manifestFileNum); err != nil {
		return err
	}

	v := &version{}
	v.computeCompactionScore(vs.opts)
	v.ref()
	vs.versions.pushBack(v)
	return nil
}

// load recovers the version state from the manifest named by CURRENT.
func (vs *versionSet) load() error {
	current, err := vs.readCurrent()
	if err != nil {
		return err
	}
	vs.manifestFileNum = current

	f, err := vs.fs.Open(base.MakeFilename(vs.dirname, base.FileTypeManifest, current))
	if err != nil {
		return errors.Wrapf(err, "cobble: could not open MANIFEST-%s", current)
	}
	defer f.Close()

	var v *version
	var haveComparator, haveNextFileNum, haveLastSeqNum bool
	rr := record.NewReader(f)
	for {
		r, err := rr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return base.MarkCorruptionError(errors.Wrap(err, "cobble: manifest"))
		}
		var ve versionEdit
		if err := ve.decode(r); err != nil {
			return err
		}
		if ve.comparatorName != "" {
			haveComparator = true
			if ve.comparatorName != vs.cmp.Name {
				return errors.Newf("cobble: manifest comparator %q does not match Options comparator %q",
					ve.comparatorName, vs.cmp.Name)
			}
		}
		if v, err = ve.apply(v, vs.cmp.Compare); err != nil {
			return err
		}
		if ve.logNumber != 0 {
			vs.logNumber = ve.logNumber
		}
		if ve.nextFileNumber != 0 {
			vs.nextFileNum = ve.nextFileNumber
			haveNextFileNum = true
		}
		if ve.hasLastSeqNum {
			vs.lastSeqNum = ve.lastSeqNum
			haveLastSeqNum = true
		}
		for _, cp := range ve.compactPointers {
			vs.compactPointers[cp.level] = cp.key
		}
	}
	if !haveComparator || !haveNextFileNum || !haveLastSeqNum {
		return base.CorruptionErrorf("cobble: manifest missing required records")
	}
	vs.markFileNumUsed(current)

	v.computeCompactionScore(vs.opts)
	v.ref()
	vs.versions.pushBack(v)
	return nil
}

func (vs *versionSet) readCurrent() (base.FileNum, error) {
	f, err := vs.fs.Open(base.MakeFilename(vs.dirname, base.FileTypeCurrent, 0))
	if err != nil {
		return 0, errors.Wrap(err, "cobble: could not open CURRENT")
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return 0, err
	}
	if len(b) == 0 || b[len(b)-1] != '\n' {
		return 0, base.CorruptionErrorf("cobble: CURRENT file is malformed")
	}
	ft, fn, ok := base.ParseFilename(string(b[:len(b)-1]))
	if !ok || ft != base.FileTypeManifest {
		return 0, base.CorruptionErrorf("cobble: CURRENT does not name a manifest: %q", b)
	}
	return fn, nil
}

func (vs *versionSet) currentVersion() *version {
	return vs.versions.back()
}

func (vs *versionSet) nextFileNumber() base.FileNum {
	n := vs.nextFileNum
	vs.nextFileNum++
	return n
}

// markFileNumUsed records that fn was observed in the store directory, so
// the counter never re-allocates it.
func (vs *versionSet) markFileNumUsed(fn base.FileNum) {
	if vs.nextFileNum <= fn {
		vs.nextFileNum = fn + 1
	}
}

// logAndApply makes ve durable in the manifest and installs the version it
// produces as current. On any error nothing is installed; the previous
// version remains current and the caller may retry the whole operation.
// The DB mutex must be held.
func (vs *versionSet) logAndApply(ve *versionEdit) error {
	ve.nextFileNumber = vs.nextFileNum
	ve.lastSeqNum = vs.lastSeqNum
	ve.hasLastSeqNum = true

	v, err := ve.apply(vs.currentVersion(), vs.cmp.Compare)
	if err != nil {
		return err
	}

	// load opens the manifest read-only, so the first edit after recovery
	// always lands in a fresh manifest.
	if vs.manifest == nil || vs.manifest.Size() >= manifestRotationSize {
		if err := vs.rotateManifest(); err != nil {
			return err
		}
	}
	w, err := vs.manifest.Next()
	if err != nil {
		return err
	}
	if err := ve.encode(w); err != nil {
		return err
	}
	if err := vs.manifest.Flush(); err != nil {
		return err
	}
	if err := vs.manifestFile.Sync(); err != nil {
		return err
	}

	if ve.logNumber != 0 {
		vs.logNumber = ve.logNumber
	}
	for _, cp := range ve.compactPointers {
		vs.compactPointers[cp.level] = cp.key
	}

	v.computeCompactionScore(vs.opts)
	v.ref()
	vs.versions.pushBack(v)
	prev := v.prev
	if prev != &vs.versions.root {
		prev.unref()
	}
	return nil
}

// rotateManifest starts a new manifest seeded with a snapshot of the
// current state and swings CURRENT to it. The old manifest becomes
// obsolete.
func (vs *versionSet) rotateManifest() error {
	newNum := vs.nextFileNumber()
	snapshot := versionEdit{
		comparatorName: vs.cmp.Name,
		logNumber:      vs.logNumber,
		nextFileNumber: vs.nextFileNum,
		lastSeqNum:     vs.lastSeqNum,
		hasLastSeqNum:  true,
	}
	for level, key := range vs.compactPointers {
		if len(key.UserKey) != 0 {
			snapshot.compactPointers = append(snapshot.compactPointers,
				compactPointerEntry{level: level, key: key})
		}
	}
	cur := vs.currentVersion()
	for level, files := range cur.files {
		for _, f := range files {
			snapshot.newFiles = append(snapshot.newFiles, newFileEntry{level: level, meta: *f})
		}
	}

	m, f, err := vs.createManifest(newNum, &snapshot)
	if err != nil {
		// Keep appending to the old manifest.
		vs.nextFileNum = newNum
		return err
	}
	// The old writer pair stays installed until CURRENT names the new
	// manifest: a failure below must leave later edits appending to the
	// manifest that CURRENT still references.
	cleanup := func() {
		_ = m.Close()
		_ = f.Close()
		_ = vs.fs.Remove(base.MakeFilename(vs.dirname, base.FileTypeManifest, newNum))
	}
	if err := m.Flush(); err != nil {
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := vs.setCurrentFile(newNum); err != nil {
		cleanup()
		return err
	}
	oldManifest, oldFile := vs.manifest, vs.manifestFile
	vs.manifest, vs.manifestFile = m, f
	vs.manifestFileNum = newNum
	if oldManifest != nil {
		_ = oldManifest.Close()
	}
	if oldFile != nil {
		_ = oldFile.Close()
	}
	return nil
}

// createManifest opens a fresh manifest file and writes first as its first
// record. The caller installs the returned writer pair; on failure nothing
// is left on disk.
func (vs *versionSet) createManifest(
	fileNum base.FileNum, first *versionEdit,
) (*record.Writer, vfs.File, error) {
	filename := base.MakeFilename(vs.dirname, base.FileTypeManifest, fileNum)
	f, err := vs.fs.Create(filename)
	if err != nil {
		return nil, nil, err
	}
	m := record.NewWriter(f)
	w, err := m.Next()
	if err == nil {
		err = first.encode(w)
	}
	if err != nil {
		_ = m.Close()
		_ = f.Close()
		_ = vs.fs.Remove(filename)
		return nil, nil, err
	}
	return m, f, nil
}

// setCurrentFile atomically points CURRENT at the given manifest, via a
// synced temporary file and a rename.
func (vs *versionSet) setCurrentFile(manifestNum base.FileNum) error {
	tmpName := base.MakeFilename(vs.dirname, base.FileTypeTemp, manifestNum)
	f, err := vs.fs.Create(tmpName)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "MANIFEST-%s\n", manifestNum); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return vs.fs.Rename(tmpName, base.MakeFilename(vs.dirname, base.FileTypeCurrent, 0))
}

// addLiveFileNums adds the file numbers referenced by any live version to
// m. The DB mutex must be held.
func (vs *versionSet) addLiveFileNums(m map[base.FileNum]struct{}) {
	for v := vs.versions.front(); v != &vs.versions.root; v = v.next {
		for _, files := range v.files {
			for _, f := range files {
				m[f.fileNum] = struct{}{}
			}
		}
	}
}

func (vs *versionSet) close() error {
	var err error
	if vs.manifest != nil {
		err = firstError(err, vs.manifest.Close())
	}
	if vs.manifestFile != nil {
		err = firstError(err, vs.manifestFile.Close())
	}
	return err
}

func firstError(a, b error) error {
	if a != nil {
		return a
	}
	return b
}
