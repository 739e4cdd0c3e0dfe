// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"github.com/cockroachdb/errors"
)

// ErrNotFound means that a get call did not find the requested key.
var ErrNotFound = errors.New("cobble: not found")

// ErrCorruption is the marker for on-disk corruption: a checksum mismatch or
// a malformed block, footer, or record. Errors carrying this marker are fatal
// for the affected file and are never silently masked, with the single
// exception of a truncated WAL tail during recovery.
var ErrCorruption = errors.New("cobble: corruption")

// CorruptionErrorf formats a corruption error.
func CorruptionErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorruption)
}

// MarkCorruptionError marks err as a corruption error.
func MarkCorruptionError(err error) error {
	if IsCorruptionError(err) {
		return err
	}
	return errors.Mark(err, ErrCorruption)
}

// IsCorruptionError reports whether err is a corruption error.
func IsCorruptionError(err error) bool {
	return errors.Is(err, ErrCorruption)
}
