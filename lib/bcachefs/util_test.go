// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bcachefs_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsprim"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsreplicas"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefssb"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefssum"
	"git.lukeshu.com/bcachefs-progs-ng/lib/diskio"
)

const (
	testNBuckets   = 1100
	testBucketSize = 8 // sectors
	// Devices must be big enough for NBuckets*BucketSize.
	testDevBytes = testNBuckets * testBucketSize * bcachefsprim.SectorSize
)

var (
	testFSUUID   = bcachefsprim.MustParseUUID("a0dd94ed-e60c-42e8-8632-64e8d4765a43")
	testUserUUID = bcachefsprim.MustParseUUID("d04d54ed-05a2-42e8-8632-64e8d4765a43")
	testDevUUIDs = []bcachefsprim.UUID{
		bcachefsprim.MustParseUUID("11111111-e60c-42e8-8632-64e8d4765a43"),
		bcachefsprim.MustParseUUID("22222222-e60c-42e8-8632-64e8d4765a43"),
	}
)

// buildSB builds a valid superblock for device devIdx of a
// two-device filesystem.
func buildSB(t *testing.T, devIdx uint8, layout bcachefssb.Layout, journal []uint64) *bcachefssb.Buffer {
	t.Helper()

	hdr := bcachefssb.Header{
		Magic:         bcachefssb.Magic,
		Version:       bcachefssb.Version,
		Seq:           1,
		UUID:          testFSUUID,
		UserUUID:      testUserUUID,
		Offset:        bcachefsprim.SbSector,
		TimePrecision: 1,
		BlockSize:     1,
		DevIdx:        devIdx,
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

	b := bcachefssb.NewBuffer()
	require.NoError(t, b.SetHeader(hdr))

	require.NoError(t, bcachefssb.SetMembers(b, []bcachefssb.Member{
		{UUID: testDevUUIDs[0], NBuckets: testNBuckets, BucketSize: testBucketSize},
		{UUID: testDevUUIDs[1], NBuckets: testNBuckets, BucketSize: testBucketSize},
	}, 0))
	if len(journal) > 0 {
		require.NoError(t, bcachefssb.SetJournalBuckets(b, journal, 0))
	}
	require.NoError(t, bcachefssb.SetReplicas(b, []bcachefsreplicas.Entry{
		{DataType: bcachefsreplicas.DATA_JOURNAL, Devs: []uint8{0, 1}},
		{DataType: bcachefsreplicas.DATA_BTREE, Devs: []uint8{0}},
	}, 0))

	return b
}

// writeDev writes every superblock copy (and the standalone layout)
// of the given superblock out to a fresh in-memory device.
func writeDev(t *testing.T, ctx context.Context, name string, b *bcachefssb.Buffer) *diskio.MemFile[bcachefsprim.PhysicalAddr] {
	t.Helper()

	file := &diskio.MemFile[bcachefsprim.PhysicalAddr]{
		MName: name,
		Dat:   make([]byte, testDevBytes),
	}
	layout, err := b.Layout()
	require.NoError(t, err)
	require.NoError(t, bcachefs.WriteSbLayout(ctx, file, layout))
	for _, offset := range layout.Offsets() {
		b.SetOffset(offset)
		csum, err := b.ComputeCsum()
		require.NoError(t, err)
		b.SetCsum(csum)
		_, err = file.WriteAt(b.Bytes()[:b.VStructBytes()], offset.PhysicalAddr())
		require.NoError(t, err)
	}
	return file
}

// newTestFS builds a two-device filesystem on in-memory files.
// devA has two superblock copies, devB only one.
func newTestFS(t *testing.T, ctx context.Context) (*bcachefs.FS, *diskio.MemFile[bcachefsprim.PhysicalAddr], *diskio.MemFile[bcachefsprim.PhysicalAddr]) {
	t.Helper()

	layoutA, err := bcachefssb.NewLayout(7, 2)
	require.NoError(t, err)
	layoutB, err := bcachefssb.NewLayout(7, 1)
	require.NoError(t, err)

	devA := writeDev(t, ctx, "devA", buildSB(t, 0, layoutA, []uint64{10, 11, 12}))
	devB := writeDev(t, ctx, "devB", buildSB(t, 1, layoutB, []uint64{20, 21}))

	sbA, err := bcachefs.ReadSuper(ctx, devA, bcachefs.Opts{})
	require.NoError(t, err)
	sbB, err := bcachefs.ReadSuper(ctx, devB, bcachefs.Opts{})
	require.NoError(t, err)

	fs, err := bcachefs.NewFS(ctx, []*bcachefs.DiskSb{sbA, sbB}, bcachefs.Opts{})
	require.NoError(t, err)
	return fs, devA, devB
}
