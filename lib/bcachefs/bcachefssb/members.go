// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bcachefssb

import (
	"fmt"

	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsprim"
	"git.lukeshu.com/bcachefs-progs-ng/lib/binstruct"
)

// Member is one slot in the member-info field.  A slot whose UUID is
// all-zero is absent; slots are never re-ordered, since the replicas
// field and data on disk refer to devices by slot index.
type Member struct {
	UUID          bcachefsprim.UUID `bin:"off=0x0, siz=0x10"`
	NBuckets      uint64            `bin:"off=0x10, siz=0x8"`
	FirstBucket   uint16            `bin:"off=0x18, siz=0x2"`
	BucketSize    uint16            `bin:"off=0x1a, siz=0x2"` // sectors
	Pad           uint32            `bin:"off=0x1c, siz=0x4"`
	LastMount     uint64            `bin:"off=0x20, siz=0x8"` // seconds since the epoch
	Flags         [2]uint64         `bin:"off=0x28, siz=0x10"`
	binstruct.End `bin:"off=0x38"`
}

var MemberSize = binstruct.StaticSize(Member{})

func (m Member) Exists() bool {
	return !m.UUID.IsZero()
}

type MemberState uint8

const (
	MEMBER_STATE_RW = MemberState(iota)
	MEMBER_STATE_RO
	MEMBER_STATE_FAILED
	MEMBER_STATE_SPARE
	MEMBER_STATE_NR
)

func (st MemberState) String() string {
	names := map[MemberState]string{
		MEMBER_STATE_RW:     "rw",
		MEMBER_STATE_RO:     "ro",
		MEMBER_STATE_FAILED: "failed",
		MEMBER_STATE_SPARE:  "spare",
	}
	if name, ok := names[st]; ok {
		return name
	}
	return fmt.Sprintf("%d", st)
}

func (m Member) State() MemberState {
	return MemberState(getFlagBits(m.Flags[0], 0, 4))
}

func (m *Member) SetState(st MemberState) {
	setFlagBits(&m.Flags[0], 0, 4, uint64(st))
}

func (m Member) Group() uint64         { return getFlagBits(m.Flags[0], 4, 20) }
func (m *Member) SetGroup(grp uint64)  { setFlagBits(&m.Flags[0], 4, 20, grp) }
func (m Member) Discard() bool         { return getFlagBits(m.Flags[0], 20, 21) != 0 }
func (m *Member) SetDiscard(on bool)   { setFlagBits(&m.Flags[0], 20, 21, boolBit(on)) }

// MembersFromSb parses the member-info field.  It returns exactly
// sb.NrDevices entries (absent slots included), and errors if the
// field is missing or too small to hold them.
func MembersFromSb(b *Buffer) ([]Member, error) {
	f, ok := b.FieldGet(FIELD_MEMBERS)
	if !ok {
		return nil, fmt.Errorf("Invalid superblock: member info area missing")
	}
	nr := int(b.NrDevices())
	payload := b.FieldPayload(f)
	if len(payload) < nr*MemberSize {
		return nil, fmt.Errorf("Invalid superblock: bad member info")
	}
	ret := make([]Member, nr)
	for i := range ret {
		if _, err := binstruct.Unmarshal(payload[i*MemberSize:], &ret[i]); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// SetMembers writes the member-info field, resizing it to hold
// exactly len(members) slots.  The caller is responsible for keeping
// sb.NrDevices in sync.
func SetMembers(b *Buffer, members []Member, maxBytes int64) error {
	u64s := uint32((FieldHeaderSize + len(members)*MemberSize) / 8)
	payload, err := b.FieldResize(FIELD_MEMBERS, u64s, maxBytes)
	if err != nil {
		return err
	}
	for i, m := range members {
		dat, err := binstruct.Marshal(m)
		if err != nil {
			return err
		}
		copy(payload[i*MemberSize:], dat)
	}
	return nil
}
