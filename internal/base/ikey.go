// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"encoding/binary"
	"fmt"
)

// SeqNum is a sequence number defining precedence among identical user keys.
// A key with a higher sequence number takes precedence over an equal user key
// with a lower sequence number. Sequence numbers are stored durably within
// the internal key "trailer" as a 7-byte uint, so the maximum sequence number
// is 2^56-1. As batches are committed, their entries are assigned strictly
// increasing sequence numbers. Readers use sequence numbers to read a
// consistent database state, ignoring entries with sequence numbers larger
// than the reader's visible sequence number.
type SeqNum uint64

const (
	// SeqNumZero is the zero sequence number. No committed entry carries it;
	// it is reserved so that a zero trailer is always invalid.
	SeqNumZero SeqNum = 0
	// SeqNumStart is the first sequence number assigned to a committed entry.
	SeqNumStart SeqNum = 1
	// SeqNumMax is the largest valid sequence number, used by search keys so
	// that they sort before every real entry for the same user key.
	SeqNumMax SeqNum = 1<<56 - 1
)

// InternalKeyKind enumerates the kind of an entry: a deletion tombstone or a
// set value. The Merge kind is reserved in the file format but never produced
// by a Batch; merge-operator registration lives outside this engine.
type InternalKeyKind uint8

// These constants are part of the file format and must not be changed.
const (
	InternalKeyKindDelete InternalKeyKind = 0
	InternalKeyKindSet    InternalKeyKind = 1
	InternalKeyKindMerge  InternalKeyKind = 2

	// InternalKeyKindMax is the largest valid kind. Search keys use it so
	// that, for a given user key and sequence number, they sort before (or
	// equal to) every entry with that user key and sequence number.
	InternalKeyKindMax InternalKeyKind = 2

	// InternalKeyKindInvalid marks a decoded key that failed validation. It
	// never appears in a file.
	InternalKeyKindInvalid InternalKeyKind = 255
)

var internalKeyKindNames = map[InternalKeyKind]string{
	InternalKeyKindDelete:  "DEL",
	InternalKeyKindSet:     "SET",
	InternalKeyKindMerge:   "MERGE",
	InternalKeyKindInvalid: "INVALID",
}

func (k InternalKeyKind) String() string {
	if s, ok := internalKeyKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN:%d", k)
}

// InternalKeyTrailer encodes a SeqNum and an InternalKeyKind as
// seqNum<<8 | kind.
type InternalKeyTrailer uint64

// MakeTrailer constructs a trailer from a sequence number and kind.
func MakeTrailer(seqNum SeqNum, kind InternalKeyKind) InternalKeyTrailer {
	return InternalKeyTrailer(seqNum)<<8 | InternalKeyTrailer(kind)
}

// SeqNum returns the sequence number component of the trailer.
func (t InternalKeyTrailer) SeqNum() SeqNum {
	return SeqNum(t >> 8)
}

// Kind returns the kind component of the trailer.
func (t InternalKeyTrailer) Kind() InternalKeyKind {
	return InternalKeyKind(t & 0xff)
}

func (t InternalKeyTrailer) String() string {
	return fmt.Sprintf("#%d,%s", t.SeqNum(), t.Kind())
}

// InternalKeyTrailerLen is the number of bytes the trailer occupies in an
// encoded internal key.
const InternalKeyTrailerLen = 8

// InternalKey is a key used for the in-memory and on-disk partial stores that
// make up a cobble DB.
//
// It consists of the user key (as given by the caller) followed by 8 bytes of
// metadata: 1 byte for the kind and 7 bytes for a sequence number, packed
// little-endian as seqNum<<8 | kind.
type InternalKey struct {
	UserKey []byte
	Trailer InternalKeyTrailer
}

// MakeInternalKey constructs an internal key from a user key, sequence number
// and kind.
func MakeInternalKey(userKey []byte, seqNum SeqNum, kind InternalKeyKind) InternalKey {
	return InternalKey{UserKey: userKey, Trailer: MakeTrailer(seqNum, kind)}
}

// MakeSearchKey constructs an internal key appropriate for searching for the
// given user key at the given visible sequence number. It sorts before every
// entry for that user key whose sequence number is <= seqNum.
func MakeSearchKey(userKey []byte, seqNum SeqNum) InternalKey {
	return MakeInternalKey(userKey, seqNum, InternalKeyKindMax)
}

// DecodeInternalKey decodes an encoded internal key. Keys too short to hold a
// trailer decode to an invalid key.
func DecodeInternalKey(encoded []byte) InternalKey {
	n := len(encoded) - InternalKeyTrailerLen
	if n < 0 {
		return InternalKey{Trailer: InternalKeyTrailer(InternalKeyKindInvalid)}
	}
	return InternalKey{
		UserKey: encoded[:n:n],
		Trailer: InternalKeyTrailer(binary.LittleEndian.Uint64(encoded[n:])),
	}
}

// InternalCompare compares two internal keys using the given user-key
// comparison function: ascending by user key, then descending by trailer so
// that newer entries for the same user key sort first.
func InternalCompare(userCmp Compare, a, b InternalKey) int {
	if x := userCmp(a.UserKey, b.UserKey); x != 0 {
		return x
	}
	if a.Trailer > b.Trailer {
		return -1
	}
	if a.Trailer < b.Trailer {
		return 1
	}
	return 0
}

// Encode appends the encoded form of k to buf and returns the extended
// buffer.
func (k InternalKey) Encode(buf []byte) []byte {
	buf = append(buf, k.UserKey...)
	var t [InternalKeyTrailerLen]byte
	binary.LittleEndian.PutUint64(t[:], uint64(k.Trailer))
	return append(buf, t[:]...)
}

// Size returns the encoded size of the key.
func (k InternalKey) Size() int {
	return len(k.UserKey) + InternalKeyTrailerLen
}

// SeqNum returns the key's sequence number.
func (k InternalKey) SeqNum() SeqNum {
	return k.Trailer.SeqNum()
}

// Kind returns the key's kind.
func (k InternalKey) Kind() InternalKeyKind {
	return k.Trailer.Kind()
}

// Valid reports whether the key has a representable kind.
func (k InternalKey) Valid() bool {
	return k.Kind() <= InternalKeyKindMax
}

// Visible reports whether the key is visible at the given read sequence
// number.
func (k InternalKey) Visible(seqNum SeqNum) bool {
	return k.SeqNum() <= seqNum
}

// Clone returns a copy of the key whose UserKey does not alias the original
// buffer.
func (k InternalKey) Clone() InternalKey {
	if len(k.UserKey) == 0 {
		return InternalKey{Trailer: k.Trailer}
	}
	return InternalKey{
		UserKey: append([]byte(nil), k.UserKey...),
		Trailer: k.Trailer,
	}
}

// Separator overwrites k's user key with a separator between k and other: a
// key k' such that k <= k' < other under the internal ordering. It is used to
// shorten index-block keys.
func (k *InternalKey) Separator(cmp Compare, sep Separator, buf []byte, other InternalKey) InternalKey {
	ukey := sep(buf, k.UserKey, other.UserKey)
	if len(ukey) < len(k.UserKey) && cmp(k.UserKey, ukey) < 0 {
		// A shorter separator strictly above k.UserKey sorts after every
		// entry for k's user key when paired with the maximal trailer.
		return MakeInternalKey(ukey, SeqNumMax, InternalKeyKindMax)
	}
	return InternalKey{UserKey: ukey, Trailer: k.Trailer}
}

// Successor overwrites k's user key with a short key >= k.
func (k *InternalKey) Successor(cmp Compare, succ Successor, buf []byte) InternalKey {
	ukey := succ(buf, k.UserKey)
	if len(ukey) < len(k.UserKey) && cmp(k.UserKey, ukey) < 0 {
		return MakeInternalKey(ukey, SeqNumMax, InternalKeyKindMax)
	}
	return InternalKey{UserKey: ukey, Trailer: k.Trailer}
}

func (k InternalKey) String() string {
	return fmt.Sprintf("%s%s", k.UserKey, k.Trailer)
}
