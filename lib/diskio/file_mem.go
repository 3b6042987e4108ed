// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import (
	"io"
)

// MemFile is an in-memory File, for tests and for assembling device
// images without touching real block devices.  The zero value is an
// empty file; WriteAt past the end grows it.
type MemFile[A ~int64] struct {
	MName string
	Dat   []byte
}

var _ File[assertAddr] = (*MemFile[assertAddr])(nil)

func (f *MemFile[A]) Name() string { return f.MName }
func (f *MemFile[A]) Size() A      { return A(len(f.Dat)) }
func (f *MemFile[A]) Close() error { return nil }

func (f *MemFile[A]) ReadAt(dat []byte, off A) (int, error) {
	if off < 0 || off > A(len(f.Dat)) {
		return 0, io.EOF
	}
	n := copy(dat, f.Dat[off:])
	if n < len(dat) {
		return n, io.EOF
	}
	return n, nil
}

func (f *MemFile[A]) WriteAt(dat []byte, off A) (int, error) {
	if need := int(off) + len(dat); need > len(f.Dat) {
		grown := make([]byte, need)
		copy(grown, f.Dat)
		f.Dat = grown
	}
	return copy(f.Dat[off:], dat), nil
}
