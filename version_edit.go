// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package cobble

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/cobbledb/cobble/internal/base"
)

// Manifest record tags. These are part of the on-disk format and must not
// be changed.
const (
	tagComparator     = 1
	tagLogNumber      = 2
	tagNextFileNumber = 3
	tagLastSequence   = 4
	tagCompactPointer = 5
	tagDeletedFile    = 6
	tagNewFile        = 7
)

type compactPointerEntry struct {
	level int
	key   base.InternalKey
}

type deletedFileEntry struct {
	level   int
	fileNum base.FileNum
}

type newFileEntry struct {
	level int
	meta  fileMetadata
}

// versionEdit describes a transition between two versions: files added and
// removed per level, plus updates to the store's counters. One edit is
// appended to the manifest, durably, before the version it produces becomes
// visible to readers.
type versionEdit struct {
	comparatorName string
	// logNumber is the smallest write ahead log number still needed after
	// this edit; earlier logs are fully flushed. Zero means unchanged.
	logNumber      base.FileNum
	nextFileNumber base.FileNum
	lastSeqNum     base.SeqNum
	hasLastSeqNum  bool
	// compactPointers persist per-level round-robin positions so compaction
	// resumes where it left off across restarts.
	compactPointers []compactPointerEntry
	deletedFiles    map[deletedFileEntry]bool
	newFiles        []newFileEntry
}

func (ve *versionEdit) empty() bool {
	return ve.comparatorName == "" && ve.logNumber == 0 && ve.nextFileNumber == 0 &&
		!ve.hasLastSeqNum && len(ve.compactPointers) == 0 &&
		len(ve.deletedFiles) == 0 && len(ve.newFiles) == 0
}

// encode writes the edit to w in manifest record format.
func (ve *versionEdit) encode(w io.Writer) error {
	e := versionEditEncoder{new(bytes.Buffer)}
	if ve.comparatorName != "" {
		e.writeUvarint(tagComparator)
		e.writeString(ve.comparatorName)
	}
	if ve.logNumber != 0 {
		e.writeUvarint(tagLogNumber)
		e.writeUvarint(uint64(ve.logNumber))
	}
	if ve.nextFileNumber != 0 {
		e.writeUvarint(tagNextFileNumber)
		e.writeUvarint(uint64(ve.nextFileNumber))
	}
	if ve.hasLastSeqNum {
		e.writeUvarint(tagLastSequence)
		e.writeUvarint(uint64(ve.lastSeqNum))
	}
	for _, cp := range ve.compactPointers {
		e.writeUvarint(tagCompactPointer)
		e.writeUvarint(uint64(cp.level))
		e.writeKey(cp.key)
	}
	for df := range ve.deletedFiles {
		e.writeUvarint(tagDeletedFile)
		e.writeUvarint(uint64(df.level))
		e.writeUvarint(uint64(df.fileNum))
	}
	for _, nf := range ve.newFiles {
		e.writeUvarint(tagNewFile)
		e.writeUvarint(uint64(nf.level))
		e.writeUvarint(uint64(nf.meta.fileNum))
		e.writeUvarint(nf.meta.size)
		e.writeKey(nf.meta.smallest)
		e.writeKey(nf.meta.largest)
	}
	_, err := w.Write(e.buf.Bytes())
	return err
}

type versionEditEncoder struct {
	buf *bytes.Buffer
}

func (e versionEditEncoder) writeUvarint(u uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], u)
	e.buf.Write(buf[:n])
}

func (e versionEditEncoder) writeString(s string) {
	e.writeUvarint(uint64(len(s)))
	e.buf.WriteString(s)
}

func (e versionEditEncoder) writeKey(k base.InternalKey) {
	e.writeUvarint(uint64(k.Size()))
	e.buf.Write(k.Encode(nil))
}

// decode reads an edit from r, a single manifest record.
func (ve *versionEdit) decode(r io.Reader) error {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	d := versionEditDecoder{br}
	for {
		tag, err := binary.ReadUvarint(d.byteReader)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch tag {
		case tagComparator:
			s, err := d.readString()
			if err != nil {
				return err
			}
			ve.comparatorName = s

		case tagLogNumber:
			n, err := d.readFileNum()
			if err != nil {
				return err
			}
			ve.logNumber = n

		case tagNextFileNumber:
			n, err := d.readFileNum()
			if err != nil {
				return err
			}
			ve.nextFileNumber = n

		case tagLastSequence:
			n, err := d.readUvarint()
			if err != nil {
				return err
			}
			ve.lastSeqNum = base.SeqNum(n)
			ve.hasLastSeqNum = true

		case tagCompactPointer:
			level, err := d.readLevel()
			if err != nil {
				return err
			}
			key, err := d.readKey()
			if err != nil {
				return err
			}
			ve.compactPointers = append(ve.compactPointers,
				compactPointerEntry{level: level, key: key})

		case tagDeletedFile:
			level, err := d.readLevel()
			if err != nil {
				return err
			}
			fileNum, err := d.readFileNum()
			if err != nil {
				return err
			}
			if ve.deletedFiles == nil {
				ve.deletedFiles = make(map[deletedFileEntry]bool)
			}
			ve.deletedFiles[deletedFileEntry{level, fileNum}] = true

		case tagNewFile:
			level, err := d.readLevel()
			if err != nil {
				return err
			}
			fileNum, err := d.readFileNum()
			if err != nil {
				return err
			}
			size, err := d.readUvarint()
			if err != nil {
				return err
			}
			smallest, err := d.readKey()
			if err != nil {
				return err
			}
			largest, err := d.readKey()
			if err != nil {
				return err
			}
			ve.newFiles = append(ve.newFiles, newFileEntry{
				level: level,
				meta: fileMetadata{
					fileNum:  fileNum,
					size:     size,
					smallest: smallest,
					largest:  largest,
				},
			})

		default:
			return base.CorruptionErrorf("cobble: manifest: unknown tag %d", tag)
		}
	}
}

type versionEditDecoder struct {
	byteReader io.ByteReader
}

func (d versionEditDecoder) readUvarint() (uint64, error) {
	u, err := binary.ReadUvarint(d.byteReader)
	if err != nil {
		if err == io.EOF {
			return 0, base.CorruptionErrorf("cobble: manifest: truncated edit")
		}
		return 0, err
	}
	return u, nil
}

func (d versionEditDecoder) readFileNum() (base.FileNum, error) {
	u, err := d.readUvarint()
	return base.FileNum(u), err
}

func (d versionEditDecoder) readLevel() (int, error) {
	u, err := d.readUvarint()
	if err != nil {
		return 0, err
	}
	if u >= numLevels {
		return 0, base.CorruptionErrorf("cobble: manifest: level %d out of range", u)
	}
	return int(u), nil
}

func (d versionEditDecoder) readString() (string, error) {
	n, err := d.readUvarint()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	for i := range buf {
		c, err := d.byteReader.ReadByte()
		if err != nil {
			if err == io.EOF {
				return "", base.CorruptionErrorf("cobble: manifest: truncated edit")
			}
			return "", err
		}
		buf[i] = c
	}
	return string(buf), nil
}

func (d versionEditDecoder) readKey() (base.InternalKey, error) {
	s, err := d.readString()
	if err != nil {
		return base.InternalKey{}, err
	}
	k := base.DecodeInternalKey([]byte(s))
	if !k.Valid() {
		return base.InternalKey{}, base.CorruptionErrorf("cobble: manifest: invalid internal key")
	}
	return k, nil
}

// apply builds the version that results from applying the edit to cur. cur
// may be nil, meaning the empty version.
func (ve *versionEdit) apply(cur *version, cmp base.Compare) (*version, error) {
	v := &version{}
	for level := range v.files {
		var deleted map[base.FileNum]bool
		for df := range ve.deletedFiles {
			if df.level == level {
				if deleted == nil {
					deleted = make(map[base.FileNum]bool)
				}
				deleted[df.fileNum] = true
			}
		}

		if cur != nil {
			for _, f := range cur.files[level] {
				if !deleted[f.fileNum] {
					v.files[level] = append(v.files[level], f)
				}
			}
		}
		for _, nf := range ve.newFiles {
			if nf.level == level {
				meta := nf.meta
				v.files[level] = append(v.files[level], &meta)
			}
		}

		if level == 0 {
			sort.Slice(v.files[level], func(i, j int) bool {
				return v.files[level][i].fileNum < v.files[level][j].fileNum
			})
		} else {
			sort.Slice(v.files[level], func(i, j int) bool {
				return base.InternalCompare(cmp,
					v.files[level][i].smallest, v.files[level][j].smallest) < 0
			})
		}
	}
	if err := v.checkOrdering(cmp); err != nil {
		return nil, errors.Wrap(err, "cobble: version edit produced invalid version")
	}
	return v, nil
}
