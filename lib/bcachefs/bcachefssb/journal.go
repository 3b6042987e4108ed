// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bcachefssb

import (
	"encoding/binary"
)

// JournalBucketsFromSb parses the journal field: a plain list of
// bucket numbers on this device, in no particular order.  No journal
// field (or an empty one) is fine; it just means no journal here.
func JournalBucketsFromSb(b *Buffer) []uint64 {
	f, ok := b.FieldGet(FIELD_JOURNAL)
	if !ok {
		return nil
	}
	payload := b.FieldPayload(f)
	ret := make([]uint64, len(payload)/8)
	for i := range ret {
		ret[i] = binary.LittleEndian.Uint64(payload[i*8:])
	}
	return ret
}

// SetJournalBuckets writes the journal field.
func SetJournalBuckets(b *Buffer, buckets []uint64, maxBytes int64) error {
	var u64s uint32
	if len(buckets) > 0 {
		u64s = uint32(FieldHeaderSize/8 + len(buckets))
	}
	payload, err := b.FieldResize(FIELD_JOURNAL, u64s, maxBytes)
	if err != nil {
		return err
	}
	for i, bucket := range buckets {
		binary.LittleEndian.PutUint64(payload[i*8:], bucket)
	}
	return nil
}
