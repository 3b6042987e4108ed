// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bcachefssb_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsprim"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsreplicas"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefssb"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefssum"
	"git.lukeshu.com/bcachefs-progs-ng/lib/binstruct"
)

func TestStaticSizes(t *testing.T) {
	t.Parallel()
	assert.Equal(t, bcachefssb.HeaderSize, binstruct.StaticSize(bcachefssb.Header{}))
	assert.Equal(t, 0x200, bcachefssb.LayoutSize)
	assert.Equal(t, 0x38, bcachefssb.MemberSize)
	assert.Equal(t, 0x40, bcachefssb.CryptSize)
}

// TestHeaderRoundTrip cross-checks the Buffer's raw in-place
// accessors against the declarative Header layout.
func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	layout, err := bcachefssb.NewLayout(7, 2)
	require.NoError(t, err)

	hdr := bcachefssb.Header{
		Magic:         bcachefssb.Magic,
		Version:       bcachefssb.Version,
		Seq:           42,
		UUID:          bcachefsprim.MustParseUUID("a0dd94ed-e60c-42e8-8632-64e8d4765a43"),
		UserUUID:      bcachefsprim.MustParseUUID("d04d54ed-05a2-42e8-8632-64e8d4765a43"),
		Offset:        bcachefsprim.SbSector,
		TimePrecision: 1,
		BlockSize:     1,
		DevIdx:        1,
		NrDevices:     2,
		Layout:        layout,
	}
	hdr.SetLabel("testfs")
	hdr.SetCsumType(bcachefssum.TYPE_CRC32C)
	hdr.SetBtreeNodeSize(8)

	b := bcachefssb.NewBuffer()
	require.NoError(t, b.SetHeader(hdr))

	assert.Equal(t, bcachefssb.Magic, b.Magic())
	assert.Equal(t, bcachefssb.Version, b.Version())
	assert.EqualValues(t, 42, b.Seq())
	assert.Equal(t, bcachefsprim.SbSector, b.Offset())
	assert.EqualValues(t, 1, b.BlockSize())
	assert.EqualValues(t, 1, b.DevIdx())
	assert.EqualValues(t, 2, b.NrDevices())
	assert.EqualValues(t, 0, b.U64s())
	assert.Equal(t, bcachefssum.TYPE_CRC32C, b.CsumType())
	assert.EqualValues(t, 512<<7, b.MaxBytes())

	hdr2, err := b.ParseHeader()
	require.NoError(t, err)
	assert.Equal(t, hdr, hdr2)
	assert.Equal(t, "testfs", hdr2.LabelString())
	assert.Equal(t, bcachefsprim.Sector(8), hdr2.BtreeNodeSize())

	gotLayout, err := b.Layout()
	require.NoError(t, err)
	assert.Equal(t, layout, gotLayout)

	b.SetSeq(43)
	assert.EqualValues(t, 43, b.Seq())
	b.SetOffset(136)
	assert.Equal(t, bcachefsprim.Sector(136), b.Offset())

	csum, err := b.ComputeCsum()
	require.NoError(t, err)
	b.SetCsum(csum)
	assert.Equal(t, csum, b.Csum())
	assert.NotEqual(t, bcachefssum.CSum{}, csum)
}

func TestFieldResize(t *testing.T) {
	t.Parallel()

	b := bcachefssb.NewBuffer()
	require.NoError(t, b.SetHeader(bcachefssb.Header{
		Magic:     bcachefssb.Magic,
		Version:   bcachefssb.Version,
		NrDevices: 2,
	}))

	members := []bcachefssb.Member{
		{UUID: bcachefsprim.MustParseUUID("a0dd94ed-e60c-42e8-8632-64e8d4765a43"), NBuckets: 2048, BucketSize: 128},
		{UUID: bcachefsprim.MustParseUUID("d04d54ed-05a2-42e8-8632-64e8d4765a43"), NBuckets: 2048, BucketSize: 128},
	}
	require.NoError(t, bcachefssb.SetMembers(b, members, 0))
	require.NoError(t, bcachefssb.SetJournalBuckets(b, []uint64{10, 11, 12}, 0))

	entries := []bcachefsreplicas.Entry{
		{DataType: bcachefsreplicas.DATA_JOURNAL, Devs: []uint8{0, 1}},
		{DataType: bcachefsreplicas.DATA_USER, Devs: []uint8{0, 1}},
	}
	require.NoError(t, bcachefssb.SetReplicas(b, entries, 0))

	fields, err := b.Fields()
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.Equal(t, bcachefssb.FIELD_MEMBERS, fields[0].Type)
	assert.Equal(t, bcachefssb.FIELD_JOURNAL, fields[1].Type)
	assert.Equal(t, bcachefssb.FIELD_REPLICAS, fields[2].Type)

	wantU64s := fields[0].U64s + fields[1].U64s + fields[2].U64s
	assert.Equal(t, wantU64s, b.U64s())

	// Shrink the journal field (in the middle); the members and
	// replicas fields must survive byte-for-byte.
	require.NoError(t, bcachefssb.SetJournalBuckets(b, []uint64{20}, 0))

	gotMembers, err := bcachefssb.MembersFromSb(b)
	require.NoError(t, err)
	assert.Equal(t, members, gotMembers)
	assert.Equal(t, []uint64{20}, bcachefssb.JournalBucketsFromSb(b))
	gotEntries, err := bcachefssb.ReplicasFromSb(b)
	require.NoError(t, err)
	assert.Equal(t, entries, gotEntries)

	// Grow it back past its original size.
	require.NoError(t, bcachefssb.SetJournalBuckets(b, []uint64{20, 21, 22, 23, 24}, 0))
	assert.Equal(t, []uint64{20, 21, 22, 23, 24}, bcachefssb.JournalBucketsFromSb(b))
	gotEntries, err = bcachefssb.ReplicasFromSb(b)
	require.NoError(t, err)
	assert.Equal(t, entries, gotEntries)

	// A resize to zero deletes the field outright.
	require.NoError(t, bcachefssb.SetJournalBuckets(b, nil, 0))
	_, ok := b.FieldGet(bcachefssb.FIELD_JOURNAL)
	assert.False(t, ok)
	assert.Nil(t, bcachefssb.JournalBucketsFromSb(b))
	gotMembers, err = bcachefssb.MembersFromSb(b)
	require.NoError(t, err)
	assert.Equal(t, members, gotMembers)
}

func TestFieldResizeTooBig(t *testing.T) {
	t.Parallel()

	b := bcachefssb.NewBuffer()
	_, err := b.FieldResize(bcachefssb.FIELD_JOURNAL, 100, 512)
	require.EqualError(t, err, "superblock too big: 1568 > max 512")

	// An uncapped resize of the same size is fine, and grows the
	// allocation as needed.
	_, err = b.FieldResize(bcachefssb.FIELD_JOURNAL, 1000, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, b.U64s())
	assert.GreaterOrEqual(t, int64(b.Len()), b.VStructBytes())
}

func TestLayoutValidate(t *testing.T) {
	t.Parallel()

	good, err := bcachefssb.NewLayout(7, 3)
	require.NoError(t, err)
	require.NoError(t, good.Validate())
	assert.Equal(t, []bcachefsprim.Sector{8, 136, 264}, good.Offsets())

	type TestCase struct {
		Mutate func(*bcachefssb.Layout)
		Err    string
	}
	testcases := map[string]TestCase{
		"bad-magic": {
			Mutate: func(l *bcachefssb.Layout) { l.Magic[0] ^= 0xff },
			Err:    "Not a bcachefs superblock layout",
		},
		"bad-type": {
			Mutate: func(l *bcachefssb.Layout) { l.LayoutType = 1 },
			Err:    "Invalid superblock layout type 1",
		},
		"no-superblocks": {
			Mutate: func(l *bcachefssb.Layout) { l.NrSuperblocks = 0 },
			Err:    "Invalid superblock layout: no superblocks",
		},
		"too-many": {
			Mutate: func(l *bcachefssb.Layout) { l.NrSuperblocks = 62 },
			Err:    "Invalid superblock layout: too many superblocks",
		},
		"overlap": {
			Mutate: func(l *bcachefssb.Layout) { l.SbOffset[1] = l.SbOffset[0] + 1 },
			Err:    "Invalid superblock layout: superblocks overlap",
		},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			l := good
			tc.Mutate(&l)
			require.EqualError(t, l.Validate(), tc.Err)
		})
	}
}
