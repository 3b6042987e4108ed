// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bcachefssb

import (
	"fmt"
)

// FieldType is the type tag of an optional superblock field.
type FieldType uint32

const (
	FIELD_JOURNAL = FieldType(iota)
	FIELD_MEMBERS
	FIELD_CRYPT
	FIELD_REPLICAS
	FIELD_NR
)

func (typ FieldType) String() string {
	names := map[FieldType]string{
		FIELD_JOURNAL:  "journal",
		FIELD_MEMBERS:  "members",
		FIELD_CRYPT:    "crypt",
		FIELD_REPLICAS: "replicas",
	}
	if name, ok := names[typ]; ok {
		return name
	}
	return fmt.Sprintf("%d", typ)
}

// RawField locates one optional field within a superblock buffer.
type RawField struct {
	Type FieldType
	U64s uint32 // of the whole field, header included
	Off  int    // byte offset of the field header within the buffer
}

// NumBytes is the total size of the field, header included.
func (f RawField) NumBytes() int {
	return int(f.U64s) * 8
}
