// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bcachefssb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsprim"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsreplicas"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefssb"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefssum"
)

const testDevSectors = bcachefsprim.Sector(2048 * 128)

// validSB builds a minimal superblock that passes Validate.
func validSB(t *testing.T) *bcachefssb.Buffer {
	t.Helper()

	layout, err := bcachefssb.NewLayout(7, 2)
	require.NoError(t, err)

	hdr := bcachefssb.Header{
		Magic:         bcachefssb.Magic,
		Version:       bcachefssb.Version,
		Seq:           1,
		UUID:          bcachefsprim.MustParseUUID("a0dd94ed-e60c-42e8-8632-64e8d4765a43"),
		UserUUID:      bcachefsprim.MustParseUUID("d04d54ed-05a2-42e8-8632-64e8d4765a43"),
		Offset:        bcachefsprim.SbSector,
		TimePrecision: 1,
		BlockSize:     1,
		DevIdx:        0,
		NrDevices:     2,
		Layout:        layout,
	}
	hdr.SetLabel("testfs")
	hdr.SetCsumType(bcachefssum.TYPE_CRC32C)
	hdr.SetBtreeNodeSize(8)
	hdr.SetGCReservePercent(8)
	hdr.SetMetaReplicasWant(2)
	hdr.SetMetaReplicasReq(1)
	hdr.SetDataReplicasWant(2)
	hdr.SetDataReplicasReq(1)
	hdr.SetClean(true)

	b := bcachefssb.NewBuffer()
	require.NoError(t, b.SetHeader(hdr))

	require.NoError(t, bcachefssb.SetMembers(b, []bcachefssb.Member{
		{UUID: bcachefsprim.MustParseUUID("11111111-e60c-42e8-8632-64e8d4765a43"), NBuckets: 2048, BucketSize: 128},
		{UUID: bcachefsprim.MustParseUUID("22222222-e60c-42e8-8632-64e8d4765a43"), NBuckets: 2048, BucketSize: 128},
	}, 0))
	require.NoError(t, bcachefssb.SetJournalBuckets(b, []uint64{10, 11, 12}, 0))
	require.NoError(t, bcachefssb.SetReplicas(b, []bcachefsreplicas.Entry{
		{DataType: bcachefsreplicas.DATA_JOURNAL, Devs: []uint8{0, 1}},
		{DataType: bcachefsreplicas.DATA_BTREE, Devs: []uint8{0}},
		{DataType: bcachefsreplicas.DATA_USER, Devs: []uint8{0, 1}},
	}, 0))

	return b
}

func mutateHeader(t *testing.T, b *bcachefssb.Buffer, fn func(*bcachefssb.Header)) {
	t.Helper()
	hdr, err := b.ParseHeader()
	require.NoError(t, err)
	fn(&hdr)
	require.NoError(t, b.SetHeader(hdr))
}

func mutateMembers(t *testing.T, b *bcachefssb.Buffer, fn func([]bcachefssb.Member)) {
	t.Helper()
	members, err := bcachefssb.MembersFromSb(b)
	require.NoError(t, err)
	fn(members)
	require.NoError(t, bcachefssb.SetMembers(b, members, 0))
}

func TestValidateOK(t *testing.T) {
	t.Parallel()
	b := validSB(t)
	require.NoError(t, bcachefssb.Validate(b, testDevSectors))
	// 0 skips only the device-capacity check.
	require.NoError(t, bcachefssb.Validate(b, 0))
}

func TestValidate(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		Mutate     func(*testing.T, *bcachefssb.Buffer)
		DevSectors bcachefsprim.Sector
		Err        string
	}
	testcases := map[string]TestCase{
		"bad-version": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				mutateHeader(t, b, func(hdr *bcachefssb.Header) { hdr.Version = bcachefssb.Version + 1 })
			},
			Err: "Unsupported superblock version",
		},
		"bad-block-size": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				mutateHeader(t, b, func(hdr *bcachefssb.Header) { hdr.BlockSize = 3 })
			},
			Err: "Bad block size",
		},
		"zero-user-uuid": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				mutateHeader(t, b, func(hdr *bcachefssb.Header) { hdr.UserUUID = bcachefsprim.UUID{} })
			},
			Err: "Bad user UUID",
		},
		"zero-internal-uuid": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				mutateHeader(t, b, func(hdr *bcachefssb.Header) { hdr.UUID = bcachefsprim.UUID{} })
			},
			Err: "Bad internal UUID",
		},
		"zero-devices": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				mutateHeader(t, b, func(hdr *bcachefssb.Header) { hdr.NrDevices = 0 })
			},
			Err: "Bad number of member devices",
		},
		"dev-idx-out-of-range": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				mutateHeader(t, b, func(hdr *bcachefssb.Header) { hdr.DevIdx = 2 })
			},
			Err: "Bad number of member devices",
		},
		"zero-meta-replicas": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				mutateHeader(t, b, func(hdr *bcachefssb.Header) { hdr.SetMetaReplicasWant(0) })
			},
			Err: "Invalid number of metadata replicas",
		},
		"zero-data-replicas": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				mutateHeader(t, b, func(hdr *bcachefssb.Header) { hdr.SetDataReplicasReq(0) })
			},
			Err: "Invalid number of data replicas",
		},
		"btree-node-size-unset": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				mutateHeader(t, b, func(hdr *bcachefssb.Header) { hdr.SetBtreeNodeSize(0) })
			},
			Err: "Btree node size not set",
		},
		"btree-node-size-not-pow2": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				mutateHeader(t, b, func(hdr *bcachefssb.Header) { hdr.SetBtreeNodeSize(9) })
			},
			Err: "Btree node size not power of two",
		},
		"btree-node-size-too-big": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				mutateHeader(t, b, func(hdr *bcachefssb.Header) { hdr.SetBtreeNodeSize(1024) })
			},
			Err: "Btree node size too large",
		},
		"gc-reserve": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				mutateHeader(t, b, func(hdr *bcachefssb.Header) { hdr.SetGCReservePercent(2) })
			},
			Err: "gc reserve percentage too small",
		},
		"time-precision": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				mutateHeader(t, b, func(hdr *bcachefssb.Header) { hdr.TimePrecision = 0 })
			},
			Err: "invalid time precision",
		},
		"bad-layout": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				mutateHeader(t, b, func(hdr *bcachefssb.Header) { hdr.Layout.Magic[0] ^= 0xff })
			},
			Err: "Not a bcachefs superblock layout",
		},
		"unknown-field-type": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				f, ok := b.FieldGet(bcachefssb.FIELD_JOURNAL)
				require.True(t, ok)
				// Poke the type half of the field header.
				b.Bytes()[f.Off+4] = 9
			},
			Err: "Invalid superblock: unknown optional field type",
		},
		"truncated-field": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				f, ok := b.FieldGet(bcachefssb.FIELD_REPLICAS)
				require.True(t, ok)
				// Poke the u64s half of the field header so that
				// the field claims to extend past the area.
				b.Bytes()[f.Off] = 0xff
			},
			Err: "Invalid superblock: invalid optional field (too big)",
		},
		"zero-length-field": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				f, ok := b.FieldGet(bcachefssb.FIELD_JOURNAL)
				require.True(t, ok)
				b.Bytes()[f.Off] = 0
			},
			Err: "Invalid superblock: invalid optional field (u64s 0)",
		},
		"bucket-size-lt-btree-node": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				mutateMembers(t, b, func(members []bcachefssb.Member) { members[1].BucketSize = 4 })
			},
			Err: "bucket size smaller than btree node size",
		},
		"absent-self-member": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				mutateMembers(t, b, func(members []bcachefssb.Member) { members[0].UUID = bcachefsprim.UUID{} })
			},
			Err: "Invalid superblock: device index references absent member",
		},
		"not-enough-buckets": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				mutateMembers(t, b, func(members []bcachefssb.Member) { members[0].NBuckets = 1000 })
			},
			Err: "Not enough buckets",
		},
		"bad-bucket-size": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				mutateMembers(t, b, func(members []bcachefssb.Member) { members[0].BucketSize = 24 })
			},
			Err: "Bad bucket size",
		},
		"device-too-small": {
			Mutate:     func(t *testing.T, b *bcachefssb.Buffer) {},
			DevSectors: 1000,
			Err:        "Invalid superblock: device too small",
		},
		"journal-bucket-zero": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				require.NoError(t, bcachefssb.SetJournalBuckets(b, []uint64{0, 11, 12}, 0))
			},
			Err: "journal bucket at sector 0",
		},
		"journal-bucket-before-first": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				mutateMembers(t, b, func(members []bcachefssb.Member) { members[0].FirstBucket = 20 })
			},
			Err: "journal bucket before first bucket",
		},
		"journal-bucket-past-end": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				require.NoError(t, bcachefssb.SetJournalBuckets(b, []uint64{10, 5000}, 0))
			},
			Err: "journal bucket past end of device",
		},
		"journal-bucket-dup": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				require.NoError(t, bcachefssb.SetJournalBuckets(b, []uint64{10, 11, 10}, 0))
			},
			Err: "duplicate journal buckets",
		},
		"replicas-bad-data-type": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				require.NoError(t, bcachefssb.SetReplicas(b, []bcachefsreplicas.Entry{
					{DataType: bcachefsreplicas.DataType(7), Devs: []uint8{0}},
				}, 0))
			},
			Err: "invalid replicas entry: invalid data type",
		},
		"replicas-too-many-devs": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				require.NoError(t, bcachefssb.SetReplicas(b, []bcachefsreplicas.Entry{
					{DataType: bcachefsreplicas.DATA_USER, Devs: []uint8{0, 1, 0, 1}},
				}, 0))
			},
			Err: "invalid replicas entry: too many devices",
		},
		"replicas-bad-dev": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				require.NoError(t, bcachefssb.SetReplicas(b, []bcachefsreplicas.Entry{
					{DataType: bcachefsreplicas.DATA_USER, Devs: []uint8{5}},
				}, 0))
			},
			Err: "invalid replicas entry: invalid device",
		},
		"replicas-dup": {
			Mutate: func(t *testing.T, b *bcachefssb.Buffer) {
				require.NoError(t, bcachefssb.SetReplicas(b, []bcachefsreplicas.Entry{
					{DataType: bcachefsreplicas.DATA_USER, Devs: []uint8{0, 1}},
					{DataType: bcachefsreplicas.DATA_USER, Devs: []uint8{1, 0}},
				}, 0))
			},
			Err: "duplicate replicas entry",
		},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			b := validSB(t)
			tc.Mutate(t, b)
			devSectors := tc.DevSectors
			if devSectors == 0 {
				devSectors = testDevSectors
			}
			require.EqualError(t, bcachefssb.Validate(b, devSectors), tc.Err)
		})
	}
}
