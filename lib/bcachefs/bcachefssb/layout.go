// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bcachefssb

import (
	"fmt"

	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsprim"
	"git.lukeshu.com/bcachefs-progs-ng/lib/binstruct"
)

// LayoutMaxSuperblocks is the number of offset slots in a Layout.
const LayoutMaxSuperblocks = 61

// Layout records where every copy of the superblock lives on a
// device, and how big a copy is allowed to grow.  It is embedded in
// each superblock and additionally written standalone at
// bcachefsprim.SbLayoutSector, so that backups can be found even when
// the primary superblock is unreadable.
type Layout struct {
	Magic         [16]byte                                    `bin:"off=0x0, siz=0x10"`
	LayoutType    uint8                                       `bin:"off=0x10, siz=0x1"`
	SbMaxSizeBits uint8                                       `bin:"off=0x11, siz=0x1"` // log2 of the max superblock size, in 512-byte units
	NrSuperblocks uint8                                       `bin:"off=0x12, siz=0x1"`
	Pad           [5]byte                                     `bin:"off=0x13, siz=0x5"`
	SbOffset      [LayoutMaxSuperblocks]bcachefsprim.Sector   `bin:"off=0x18, siz=0x1e8"`
	binstruct.End `bin:"off=0x200"`
}

// LayoutSize is 512 bytes, one sector.
var LayoutSize = binstruct.StaticSize(Layout{})

// MaxBytes is the maximum size a superblock copy may grow to under
// this layout.
func (l Layout) MaxBytes() int64 {
	return int64(bcachefsprim.SectorSize) << l.SbMaxSizeBits
}

func (l Layout) MaxSectors() bcachefsprim.Sector {
	return bcachefsprim.Sector(1) << l.SbMaxSizeBits
}

// Offsets returns the in-use offset slots.
func (l Layout) Offsets() []bcachefsprim.Sector {
	n := int(l.NrSuperblocks)
	if n > LayoutMaxSuperblocks {
		n = LayoutMaxSuperblocks
	}
	return l.SbOffset[:n:n]
}

func (l Layout) Validate() error {
	if l.Magic != Magic {
		return fmt.Errorf("Not a bcachefs superblock layout")
	}
	if l.LayoutType != 0 {
		return fmt.Errorf("Invalid superblock layout type %v", l.LayoutType)
	}
	if l.NrSuperblocks == 0 {
		return fmt.Errorf("Invalid superblock layout: no superblocks")
	}
	if l.NrSuperblocks > LayoutMaxSuperblocks {
		return fmt.Errorf("Invalid superblock layout: too many superblocks")
	}
	prev := l.SbOffset[0]
	for _, offset := range l.Offsets()[1:] {
		if offset < prev+l.MaxSectors() {
			return fmt.Errorf("Invalid superblock layout: superblocks overlap")
		}
		prev = offset
	}
	return nil
}

// NewLayout builds a layout with nr copies: the first at the usual
// superblock sector, the rest packed after it at max-size intervals.
func NewLayout(maxSizeBits uint8, nr int) (Layout, error) {
	ret := Layout{
		Magic:         Magic,
		SbMaxSizeBits: maxSizeBits,
		NrSuperblocks: uint8(nr),
	}
	offset := bcachefsprim.SbSector
	for i := 0; i < nr && i < LayoutMaxSuperblocks; i++ {
		ret.SbOffset[i] = offset
		offset += ret.MaxSectors()
	}
	if err := ret.Validate(); err != nil {
		return Layout{}, err
	}
	return ret, nil
}
