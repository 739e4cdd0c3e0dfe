// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package cobble

import (
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/cobbledb/cobble/internal/base"
	"github.com/cobbledb/cobble/vfs"
)

// blockTempFS fails Create calls for temp files while armed, which makes the
// CURRENT swing of a manifest rotation fail after the new manifest has been
// written.
type blockTempFS struct {
	vfs.FS
	armed bool
}

func (fs *blockTempFS) Create(name string) (vfs.File, error) {
	if fs.armed && strings.HasSuffix(name, ".tmp") {
		return nil, errors.New("injected create failure")
	}
	return fs.FS.Create(name)
}

func TestManifestRotationFailureKeepsOldManifest(t *testing.T) {
	fs := &blockTempFS{FS: vfs.NewMem()}
	opts := (&Options{FS: fs}).EnsureDefaults()
	require.NoError(t, fs.MkdirAll("db", 0755))

	var mu sync.Mutex
	var vs versionSet
	vs.init("db", opts, &mu)
	require.NoError(t, vs.create())
	oldNum := vs.manifestFileNum
	oldManifest := vs.manifest

	fs.armed = true
	require.Error(t, vs.rotateManifest())
	fs.armed = false

	// The failed rotation must leave the writer on the manifest that CURRENT
	// still names; otherwise later edits land in a file no recovery reads.
	require.Equal(t, oldNum, vs.manifestFileNum)
	require.Same(t, oldManifest, vs.manifest)

	ve := versionEdit{
		newFiles: []newFileEntry{{
			level: 0,
			meta: fileMetadata{
				fileNum:  vs.nextFileNumber(),
				size:     10,
				smallest: base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindSet),
				largest:  base.MakeInternalKey([]byte("b"), 2, base.InternalKeyKindSet),
			},
		}},
	}
	require.NoError(t, vs.logAndApply(&ve))
	require.NoError(t, vs.close())

	// Recovery through CURRENT sees the edit appended after the failure.
	var vs2 versionSet
	vs2.init("db", opts, &mu)
	require.NoError(t, vs2.load())
	require.Equal(t, oldNum, vs2.manifestFileNum)
	require.Len(t, vs2.currentVersion().files[0], 1)
	require.Equal(t, ve.newFiles[0].meta.fileNum, vs2.currentVersion().files[0][0].fileNum)
}
