// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bcachefssb

import (
	"encoding/binary"
	"fmt"

	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsprim"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefssum"
	"git.lukeshu.com/bcachefs-progs-ng/lib/binstruct"
)

// Raw byte offsets of the header members that get read or rewritten
// in place, without going through a full Header round-trip.  A test
// cross-checks these against the `bin:` tags on Header.
const (
	offCsum      = 0x0
	offMagic     = 0x10
	offVersion   = 0x20
	offSeq       = 0x28
	offOffset    = 0x70
	offBlockSize = 0x88
	offDevIdx    = 0x8a
	offNrDevices = 0x8b
	offU64s      = 0x8c
	offFlags0    = 0x90
	offLayout    = 0x100

	offLayoutMaxSizeBits = offLayout + 0x11
)

// Buffer is an in-memory superblock: the fixed header plus the
// variable-length field area, in their on-disk byte representation.
// The allocation is always a power-of-two number of pages, and only
// ever grows.
type Buffer struct {
	dat []byte
}

func NewBuffer() *Buffer {
	return &Buffer{
		dat: make([]byte, bcachefsprim.PageSize),
	}
}

// BufferFromBytes copies dat into a fresh Buffer, rounding the
// allocation up to a whole number of pages.
func BufferFromBytes(dat []byte) *Buffer {
	size := bcachefsprim.PageSize << getOrder(len(dat))
	ret := &Buffer{
		dat: make([]byte, size),
	}
	copy(ret.dat, dat)
	return ret
}

// getOrder returns the smallest n such that PageSize<<n >= bytes.
func getOrder(bytes int) int {
	order := 0
	for bcachefsprim.PageSize<<order < bytes {
		order++
	}
	return order
}

func (b *Buffer) Clone() *Buffer {
	ret := &Buffer{
		dat: make([]byte, len(b.dat)),
	}
	copy(ret.dat, b.dat)
	return ret
}

// Bytes is the full allocation; the meaningful prefix is
// VStructBytes long.
func (b *Buffer) Bytes() []byte { return b.dat }

func (b *Buffer) Len() int { return len(b.dat) }

// VStructBytes is the size of the meaningful part of the superblock:
// the header plus the field area.
func (b *Buffer) VStructBytes() int64 {
	return HeaderSize + int64(b.U64s())*8
}

// MaxBytes is the size cap from the embedded layout.
func (b *Buffer) MaxBytes() int64 {
	return int64(bcachefsprim.SectorSize) << b.dat[offLayoutMaxSizeBits]
}

func (b *Buffer) Magic() [16]byte {
	var ret [16]byte
	copy(ret[:], b.dat[offMagic:])
	return ret
}

func (b *Buffer) Version() uint64 { return binary.LittleEndian.Uint64(b.dat[offVersion:]) }
func (b *Buffer) Seq() uint64     { return binary.LittleEndian.Uint64(b.dat[offSeq:]) }

func (b *Buffer) SetSeq(seq uint64) {
	binary.LittleEndian.PutUint64(b.dat[offSeq:], seq)
}

func (b *Buffer) Offset() bcachefsprim.Sector {
	return bcachefsprim.Sector(binary.LittleEndian.Uint64(b.dat[offOffset:]))
}

func (b *Buffer) SetOffset(offset bcachefsprim.Sector) {
	binary.LittleEndian.PutUint64(b.dat[offOffset:], uint64(offset))
}

func (b *Buffer) BlockSize() bcachefsprim.Sector {
	return bcachefsprim.Sector(binary.LittleEndian.Uint16(b.dat[offBlockSize:]))
}

func (b *Buffer) DevIdx() uint8    { return b.dat[offDevIdx] }
func (b *Buffer) NrDevices() uint8 { return b.dat[offNrDevices] }

func (b *Buffer) U64s() uint32 { return binary.LittleEndian.Uint32(b.dat[offU64s:]) }

func (b *Buffer) setU64s(u64s uint32) {
	binary.LittleEndian.PutUint32(b.dat[offU64s:], u64s)
}

func (b *Buffer) Csum() bcachefssum.CSum {
	var ret bcachefssum.CSum
	copy(ret[:], b.dat[offCsum:])
	return ret
}

func (b *Buffer) SetCsum(csum bcachefssum.CSum) {
	copy(b.dat[offCsum:offCsum+len(csum)], csum[:])
}

func (b *Buffer) CsumType() bcachefssum.CSumType {
	word := binary.LittleEndian.Uint64(b.dat[offFlags0:])
	return bcachefssum.CSumType(getFlagBits(word, 0, 4))
}

func (b *Buffer) SetCsumType(typ bcachefssum.CSumType) {
	word := binary.LittleEndian.Uint64(b.dat[offFlags0:])
	setFlagBits(&word, 0, 4, uint64(typ))
	binary.LittleEndian.PutUint64(b.dat[offFlags0:], word)
}

// ChecksumData is the region covered by the superblock checksum:
// everything after the Csum member, through the end of the field
// area.
func (b *Buffer) ChecksumData() []byte {
	return b.dat[offMagic:b.VStructBytes()]
}

// ComputeCsum checksums the buffer with its own declared checksum
// type.
func (b *Buffer) ComputeCsum() (bcachefssum.CSum, error) {
	return b.CsumType().Sum(b.ChecksumData())
}

func (b *Buffer) ParseHeader() (Header, error) {
	var ret Header
	_, err := binstruct.Unmarshal(b.dat[:HeaderSize], &ret)
	return ret, err
}

func (b *Buffer) SetHeader(sb Header) error {
	dat, err := binstruct.Marshal(sb)
	if err != nil {
		return err
	}
	copy(b.dat[:HeaderSize], dat)
	return nil
}

func (b *Buffer) Layout() (Layout, error) {
	var ret Layout
	_, err := binstruct.Unmarshal(b.dat[offLayout:HeaderSize], &ret)
	return ret, err
}

func (b *Buffer) SetLayout(l Layout) error {
	dat, err := binstruct.Marshal(l)
	if err != nil {
		return err
	}
	copy(b.dat[offLayout:HeaderSize], dat)
	return nil
}

// Realloc grows the allocation so that a field area of u64s fits.  A
// positive maxBytes is the layout's size cap (device superblocks);
// maxBytes<=0 means uncapped (the filesystem's in-memory copy).  The
// allocation never shrinks.
func (b *Buffer) Realloc(u64s uint32, maxBytes int64) error {
	newBytes := HeaderSize + int64(u64s)*8
	if maxBytes > 0 && newBytes > maxBytes {
		return fmt.Errorf("superblock too big: %v > max %v", newBytes, maxBytes)
	}
	if int64(len(b.dat)) < newBytes {
		newDat := make([]byte, bcachefsprim.PageSize<<getOrder(int(newBytes)))
		copy(newDat, b.dat)
		b.dat = newDat
	}
	return nil
}

// Fields walks the field area.  It returns an error for a
// zero-length field or a field extending past the end of the area;
// it does not check whether field types are recognized (that is the
// validator's job).
func (b *Buffer) Fields() ([]RawField, error) {
	var ret []RawField
	off := HeaderSize
	end := int(b.VStructBytes())
	for off < end {
		if end-off < FieldHeaderSize {
			return ret, fmt.Errorf("Invalid superblock: invalid optional field (too big)")
		}
		f := RawField{
			U64s: binary.LittleEndian.Uint32(b.dat[off:]),
			Type: FieldType(binary.LittleEndian.Uint32(b.dat[off+4:])),
			Off:  off,
		}
		if f.U64s == 0 {
			return ret, fmt.Errorf("Invalid superblock: invalid optional field (u64s 0)")
		}
		if off+f.NumBytes() > end {
			return ret, fmt.Errorf("Invalid superblock: invalid optional field (too big)")
		}
		ret = append(ret, f)
		off += f.NumBytes()
	}
	return ret, nil
}

// FieldGet returns the field with the given type, if present.  A
// malformed field area simply terminates the search early.
func (b *Buffer) FieldGet(typ FieldType) (RawField, bool) {
	fields, _ := b.Fields()
	for _, f := range fields {
		if f.Type == typ {
			return f, true
		}
	}
	return RawField{}, false
}

// FieldPayload is the field's data, after the {u64s, type} header.
func (b *Buffer) FieldPayload(f RawField) []byte {
	return b.dat[f.Off+FieldHeaderSize : f.Off+f.NumBytes()]
}

// FieldResize resizes (creating or deleting as needed) the field with
// the given type to u64s (header included), moving any subsequent
// fields and updating the header's total.  u64s==0 deletes the field
// outright.  maxBytes is as for Realloc.  On success it returns the
// field's new payload, or nil for a deletion.
func (b *Buffer) FieldResize(typ FieldType, u64s uint32, maxBytes int64) ([]byte, error) {
	f, ok := b.FieldGet(typ)
	var oldU64s uint32
	if ok {
		oldU64s = f.U64s
	}
	d := int64(u64s) - int64(oldU64s)

	if err := b.Realloc(uint32(int64(b.U64s())+d), maxBytes); err != nil {
		return nil, err
	}

	if !ok {
		if u64s == 0 {
			return nil, nil
		}
		// Append a fresh field at the end of the area.
		off := int(b.VStructBytes())
		for i := 0; i < int(u64s)*8; i++ {
			b.dat[off+i] = 0
		}
		binary.LittleEndian.PutUint32(b.dat[off:], u64s)
		binary.LittleEndian.PutUint32(b.dat[off+4:], uint32(typ))
		b.setU64s(uint32(int64(b.U64s()) + d))
		return b.dat[off+FieldHeaderSize : off+int(u64s)*8], nil
	}

	oldEnd := f.Off + f.NumBytes()
	newEnd := f.Off + int(u64s)*8
	areaEnd := int(b.VStructBytes())

	copy(b.dat[newEnd:newEnd+(areaEnd-oldEnd)], b.dat[oldEnd:areaEnd])
	if newEnd > oldEnd {
		for i := oldEnd; i < newEnd; i++ {
			b.dat[i] = 0
		}
	}
	b.setU64s(uint32(int64(b.U64s()) + d))

	if u64s == 0 {
		return nil, nil
	}
	binary.LittleEndian.PutUint32(b.dat[f.Off:], u64s)
	binary.LittleEndian.PutUint32(b.dat[f.Off+4:], uint32(typ))
	return b.dat[f.Off+FieldHeaderSize : newEnd], nil
}
