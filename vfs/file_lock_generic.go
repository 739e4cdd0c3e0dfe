// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

//go:build !unix

package vfs

import (
	"io"

	"github.com/cockroachdb/errors"
)

func lockFile(name string) (io.Closer, error) {
	return nil, errors.Newf("cobble/vfs: file locking is not supported on this platform")
}
