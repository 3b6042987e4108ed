// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package bcachefssb implements the on-disk superblock: the
// fixed-layout header, the embedded backup layout, and the packed
// sequence of variable-length optional fields that follows the
// header.
package bcachefssb

import (
	"bytes"

	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsprim"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefssum"
	"git.lukeshu.com/bcachefs-progs-ng/lib/binstruct"
)

// Magic identifies a superblock (and a superblock layout); it is the
// little-endian encoding of the UUID c68573f6-4e1a-45ca-8265-f57f48ba6d81.
var Magic = [16]byte{
	0xc6, 0x85, 0x73, 0xf6, 0x1a, 0x4e, 0x45, 0xca,
	0x82, 0x65, 0xf5, 0x7f, 0x48, 0xba, 0x6d, 0x81,
}

// Version is the (only) on-disk format version that this library
// understands.
const Version uint64 = 6

const (
	// HeaderSize is the size of the fixed part of the superblock,
	// including the embedded Layout; the variable-length field
	// area begins immediately after it.
	HeaderSize = 0x300

	// FieldHeaderSize is the size of the {u64s, type} header at
	// the start of every optional field.
	FieldHeaderSize = 8
)

// Header is the fixed part of the superblock.  The checksum covers
// everything from the byte after Csum to the end of the field area;
// Csum, Offset, DevIdx, and Layout are per-copy or per-device and are
// excluded when comparing or propagating superblocks.
type Header struct {
	Csum          bcachefssum.CSum       `bin:"off=0x0, siz=0x10"`
	Magic         [16]byte               `bin:"off=0x10, siz=0x10"`
	Version       uint64                 `bin:"off=0x20, siz=0x8"`
	Seq           uint64                 `bin:"off=0x28, siz=0x8"`
	UUID          bcachefsprim.UUID      `bin:"off=0x30, siz=0x10"` // never changes; ties devices together
	UserUUID      bcachefsprim.UUID      `bin:"off=0x40, siz=0x10"` // user-facing; changed by migrations
	Label         [0x20]byte             `bin:"off=0x50, siz=0x20"`
	Offset        bcachefsprim.Sector    `bin:"off=0x70, siz=0x8"` // sector this copy was read from/written to
	TimeBaseLo    uint64                 `bin:"off=0x78, siz=0x8"`
	TimeBaseHi    uint32                 `bin:"off=0x80, siz=0x4"`
	TimePrecision uint32                 `bin:"off=0x84, siz=0x4"` // nanoseconds per time unit
	BlockSize     uint16                 `bin:"off=0x88, siz=0x2"` // sectors
	DevIdx        uint8                  `bin:"off=0x8a, siz=0x1"`
	NrDevices     uint8                  `bin:"off=0x8b, siz=0x1"`
	U64s          uint32                 `bin:"off=0x8c, siz=0x4"` // size of the field area, in u64s
	Flags         [4]uint64              `bin:"off=0x90, siz=0x20"`
	Features      [2]uint64              `bin:"off=0xb0, siz=0x10"`
	Compat        [2]uint64              `bin:"off=0xc0, siz=0x10"`
	Reserved      [0x30]byte             `bin:"off=0xd0, siz=0x30"`
	Layout        Layout                 `bin:"off=0x100, siz=0x200"`
	binstruct.End `bin:"off=0x300"`
}

func (sb Header) LabelString() string {
	return string(bytes.TrimRight(sb.Label[:], "\x00"))
}

func (sb *Header) SetLabel(label string) {
	sb.Label = [0x20]byte{}
	copy(sb.Label[:], label)
}

// Bitfields within Flags[0].

func getFlagBits(word uint64, lo, hi uint) uint64 {
	return (word >> lo) & ((1 << (hi - lo)) - 1)
}

func setFlagBits(word *uint64, lo, hi uint, val uint64) {
	mask := uint64((1<<(hi-lo))-1) << lo
	*word = (*word &^ mask) | ((val << lo) & mask)
}

func (sb Header) CsumType() bcachefssum.CSumType {
	return bcachefssum.CSumType(getFlagBits(sb.Flags[0], 0, 4))
}

func (sb *Header) SetCsumType(typ bcachefssum.CSumType) {
	setFlagBits(&sb.Flags[0], 0, 4, uint64(typ))
}

func (sb Header) StrHashType() uint64         { return getFlagBits(sb.Flags[0], 4, 8) }
func (sb *Header) SetStrHashType(val uint64)  { setFlagBits(&sb.Flags[0], 4, 8, val) }
func (sb Header) EncryptionType() uint64      { return getFlagBits(sb.Flags[0], 8, 12) }
func (sb *Header) SetEncryptionType(v uint64) { setFlagBits(&sb.Flags[0], 8, 12, v) }

// BtreeNodeSize is in sectors.
func (sb Header) BtreeNodeSize() bcachefsprim.Sector {
	return bcachefsprim.Sector(getFlagBits(sb.Flags[0], 12, 28))
}

func (sb *Header) SetBtreeNodeSize(size bcachefsprim.Sector) {
	setFlagBits(&sb.Flags[0], 12, 28, uint64(size))
}

func (sb Header) GCReservePercent() uint8 {
	return uint8(getFlagBits(sb.Flags[0], 28, 36))
}

func (sb *Header) SetGCReservePercent(pct uint8) {
	setFlagBits(&sb.Flags[0], 28, 36, uint64(pct))
}

func (sb Header) MetaReplicasWant() uint8      { return uint8(getFlagBits(sb.Flags[0], 36, 40)) }
func (sb *Header) SetMetaReplicasWant(n uint8) { setFlagBits(&sb.Flags[0], 36, 40, uint64(n)) }
func (sb Header) DataReplicasWant() uint8      { return uint8(getFlagBits(sb.Flags[0], 40, 44)) }
func (sb *Header) SetDataReplicasWant(n uint8) { setFlagBits(&sb.Flags[0], 40, 44, uint64(n)) }
func (sb Header) MetaReplicasReq() uint8       { return uint8(getFlagBits(sb.Flags[0], 44, 48)) }
func (sb *Header) SetMetaReplicasReq(n uint8)  { setFlagBits(&sb.Flags[0], 44, 48, uint64(n)) }
func (sb Header) DataReplicasReq() uint8       { return uint8(getFlagBits(sb.Flags[0], 48, 52)) }
func (sb *Header) SetDataReplicasReq(n uint8)  { setFlagBits(&sb.Flags[0], 48, 52, uint64(n)) }

func (sb Header) Clean() bool             { return getFlagBits(sb.Flags[0], 52, 53) != 0 }
func (sb *Header) SetClean(clean bool)    { setFlagBits(&sb.Flags[0], 52, 53, boolBit(clean)) }
func (sb Header) Initialized() bool       { return getFlagBits(sb.Flags[0], 53, 54) != 0 }
func (sb *Header) SetInitialized(ok bool) { setFlagBits(&sb.Flags[0], 53, 54, boolBit(ok)) }

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
