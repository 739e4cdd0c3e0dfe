// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// FileNum is an identifier for a file within a store directory. File numbers
// are allocated from a single monotonic counter recorded in the manifest and
// are never reused, so a file number identifies a file's contents for the
// lifetime of the store.
type FileNum uint64

func (fn FileNum) String() string { return fmt.Sprintf("%06d", uint64(fn)) }

// FileType enumerates the types of files found in a store directory.
type FileType int

// The FileType enumeration.
const (
	FileTypeLog FileType = iota
	FileTypeLock
	FileTypeTable
	FileTypeManifest
	FileTypeCurrent
	FileTypeTemp
)

// MakeFilename builds the name for a file of the given type and number
// within dirname.
func MakeFilename(dirname string, fileType FileType, fileNum FileNum) string {
	switch fileType {
	case FileTypeLog:
		return filepath.Join(dirname, fmt.Sprintf("%s.log", fileNum))
	case FileTypeLock:
		return filepath.Join(dirname, "LOCK")
	case FileTypeTable:
		return filepath.Join(dirname, fmt.Sprintf("%s.sst", fileNum))
	case FileTypeManifest:
		return filepath.Join(dirname, fmt.Sprintf("MANIFEST-%s", fileNum))
	case FileTypeCurrent:
		return filepath.Join(dirname, "CURRENT")
	case FileTypeTemp:
		return filepath.Join(dirname, fmt.Sprintf("%s.tmp", fileNum))
	}
	panic("unreachable")
}

// ParseFilename parses the type and number out of a base filename (no
// directory component). ok is false for names this package did not produce.
func ParseFilename(filename string) (fileType FileType, fileNum FileNum, ok bool) {
	switch {
	case filename == "CURRENT":
		return FileTypeCurrent, 0, true
	case filename == "LOCK":
		return FileTypeLock, 0, true
	case strings.HasPrefix(filename, "MANIFEST-"):
		u, err := strconv.ParseUint(filename[len("MANIFEST-"):], 10, 64)
		if err != nil {
			break
		}
		return FileTypeManifest, FileNum(u), true
	default:
		i := strings.IndexByte(filename, '.')
		if i < 0 {
			break
		}
		u, err := strconv.ParseUint(filename[:i], 10, 64)
		if err != nil {
			break
		}
		switch filename[i+1:] {
		case "log":
			return FileTypeLog, FileNum(u), true
		case "sst":
			return FileTypeTable, FileNum(u), true
		case "tmp":
			return FileTypeTemp, FileNum(u), true
		}
	}
	return 0, 0, false
}
