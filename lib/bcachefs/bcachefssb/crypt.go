// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bcachefssb

import (
	"git.lukeshu.com/bcachefs-progs-ng/lib/binstruct"
)

// Crypt is the encryption parameters field: key-derivation settings
// and the (encrypted) filesystem key.  This library only carries it
// around; it never derives or uses the key.
type Crypt struct {
	Flags         uint64    `bin:"off=0x0, siz=0x8"`
	KDFFlags      uint64    `bin:"off=0x8, siz=0x8"`
	Key           [48]byte  `bin:"off=0x10, siz=0x30"`
	binstruct.End `bin:"off=0x40"`
}

var CryptSize = binstruct.StaticSize(Crypt{})

func (c Crypt) ScryptN() uint64 { return getFlagBits(c.KDFFlags, 0, 16) }
func (c Crypt) ScryptR() uint64 { return getFlagBits(c.KDFFlags, 16, 32) }
func (c Crypt) ScryptP() uint64 { return getFlagBits(c.KDFFlags, 32, 48) }

// CryptFromSb parses the crypt field, if present.
func CryptFromSb(b *Buffer) (Crypt, bool, error) {
	f, ok := b.FieldGet(FIELD_CRYPT)
	if !ok {
		return Crypt{}, false, nil
	}
	var ret Crypt
	if _, err := binstruct.Unmarshal(b.FieldPayload(f), &ret); err != nil {
		return Crypt{}, true, err
	}
	return ret, true, nil
}
