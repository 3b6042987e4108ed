// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bcachefssb

import (
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsreplicas"
)

// ReplicasFromSb parses the replicas field.  No field means no
// entries.
func ReplicasFromSb(b *Buffer) ([]bcachefsreplicas.Entry, error) {
	f, ok := b.FieldGet(FIELD_REPLICAS)
	if !ok {
		return nil, nil
	}
	return bcachefsreplicas.ParseEntries(b.FieldPayload(f))
}

// SetReplicas writes the replicas field; trailing zero padding up to
// the u64 boundary acts as the entry-list terminator.
func SetReplicas(b *Buffer, entries []bcachefsreplicas.Entry, maxBytes int64) error {
	dat := bcachefsreplicas.EntriesBytes(entries)
	var u64s uint32
	if len(dat) > 0 {
		u64s = uint32((FieldHeaderSize + len(dat) + 7) / 8)
	}
	payload, err := b.FieldResize(FIELD_REPLICAS, u64s, maxBytes)
	if err != nil {
		return err
	}
	copy(payload, dat)
	for i := len(dat); i < len(payload); i++ {
		payload[i] = 0
	}
	return nil
}
