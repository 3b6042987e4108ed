// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bcachefssum

import (
	"encoding"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"hash/crc64"

	"git.lukeshu.com/bcachefs-progs-ng/lib/fmtutil"
)

// CSum is a 128-bit checksum as stored on disk; checksum types with
// fewer bits store their result in the low-order bytes, with the
// remainder zero.
type CSum [0x10]byte

var (
	_ fmt.Stringer             = CSum{}
	_ fmt.Formatter            = CSum{}
	_ encoding.TextMarshaler   = CSum{}
	_ encoding.TextUnmarshaler = (*CSum)(nil)
)

func (csum CSum) String() string {
	return hex.EncodeToString(csum[:])
}

func (csum CSum) MarshalText() ([]byte, error) {
	var ret [len(csum) * 2]byte
	hex.Encode(ret[:], csum[:])
	return ret[:], nil
}

func (csum *CSum) UnmarshalText(text []byte) error {
	*csum = CSum{}
	_, err := hex.Decode(csum[:], text)
	return err
}

func (csum CSum) Fmt(typ CSumType) string {
	return hex.EncodeToString(csum[:typ.Size()])
}

func (csum CSum) Format(f fmt.State, verb rune) {
	fmtutil.FormatByteArrayStringer(csum, csum[:], f, verb)
}

type CSumType uint8

const (
	TYPE_NONE = CSumType(iota)
	TYPE_CRC32C
	TYPE_CRC64
	TYPE_NR
)

func (typ CSumType) String() string {
	names := map[CSumType]string{
		TYPE_NONE:   "none",
		TYPE_CRC32C: "crc32c",
		TYPE_CRC64:  "crc64",
	}
	if name, ok := names[typ]; ok {
		return name
	}
	return fmt.Sprintf("%d", typ)
}

func (typ CSumType) Size() int {
	sizes := map[CSumType]int{
		TYPE_NONE:   0,
		TYPE_CRC32C: 4,
		TYPE_CRC64:  8,
	}
	if size, ok := sizes[typ]; ok {
		return size
	}
	return len(CSum{})
}

var crc64Table = crc64.MakeTable(crc64.ECMA)

func (typ CSumType) Sum(data []byte) (CSum, error) {
	switch typ {
	case TYPE_NONE:
		return CSum{}, nil
	case TYPE_CRC32C:
		crc := crc32.Update(0, crc32.MakeTable(crc32.Castagnoli), data)

		var ret CSum
		binary.LittleEndian.PutUint32(ret[:], crc)
		return ret, nil
	case TYPE_CRC64:
		crc := crc64.Update(0, crc64Table, data)

		var ret CSum
		binary.LittleEndian.PutUint64(ret[:], crc)
		return ret, nil
	default:
		return CSum{}, fmt.Errorf("unknown checksum type: %v", typ)
	}
}
