// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bcachefssb

import (
	"fmt"
	"math"

	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsprim"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsreplicas"
	"git.lukeshu.com/bcachefs-progs-ng/lib/slices"
)

func isPowerOf2(x uint64) bool {
	return x != 0 && x&(x-1) == 0
}

// Validate checks every invariant of an in-memory superblock,
// fail-fast, and returns the first violation.  devSectors is the
// capacity of the device the superblock was read from; pass 0 to
// skip the capacity check (e.g. for the filesystem's in-memory
// copy).  A non-nil error means the superblock must be neither
// trusted nor written.
func Validate(b *Buffer, devSectors bcachefsprim.Sector) error {
	sb, err := b.ParseHeader()
	if err != nil {
		return err
	}

	if sb.Version != Version {
		return fmt.Errorf("Unsupported superblock version")
	}

	if !isPowerOf2(uint64(sb.BlockSize)) ||
		bcachefsprim.Sector(sb.BlockSize) > bcachefsprim.PageSectors {
		return fmt.Errorf("Bad block size")
	}

	if sb.UserUUID.IsZero() {
		return fmt.Errorf("Bad user UUID")
	}
	if sb.UUID.IsZero() {
		return fmt.Errorf("Bad internal UUID")
	}

	if sb.NrDevices == 0 ||
		sb.NrDevices > bcachefsprim.MembersMax ||
		sb.NrDevices <= sb.DevIdx {
		return fmt.Errorf("Bad number of member devices")
	}

	if sb.MetaReplicasWant() == 0 || sb.MetaReplicasWant() >= bcachefsprim.ReplicasMax ||
		sb.MetaReplicasReq() == 0 || sb.MetaReplicasReq() >= bcachefsprim.ReplicasMax {
		return fmt.Errorf("Invalid number of metadata replicas")
	}
	if sb.DataReplicasWant() == 0 || sb.DataReplicasWant() >= bcachefsprim.ReplicasMax ||
		sb.DataReplicasReq() == 0 || sb.DataReplicasReq() >= bcachefsprim.ReplicasMax {
		return fmt.Errorf("Invalid number of data replicas")
	}

	switch {
	case sb.BtreeNodeSize() == 0:
		return fmt.Errorf("Btree node size not set")
	case !isPowerOf2(uint64(sb.BtreeNodeSize())):
		return fmt.Errorf("Btree node size not power of two")
	case sb.BtreeNodeSize() > bcachefsprim.BtreeNodeSizeMax:
		return fmt.Errorf("Btree node size too large")
	}

	if sb.GCReservePercent() < 5 {
		return fmt.Errorf("gc reserve percentage too small")
	}

	if sb.TimePrecision == 0 || sb.TimePrecision > uint32(1e9) {
		return fmt.Errorf("invalid time precision")
	}

	if err := sb.Layout.Validate(); err != nil {
		return err
	}

	fields, err := b.Fields()
	if err != nil {
		return err
	}
	for _, f := range fields {
		if f.Type >= FIELD_NR {
			return fmt.Errorf("Invalid superblock: unknown optional field type")
		}
	}

	members, err := MembersFromSb(b)
	if err != nil {
		return err
	}

	for _, m := range members {
		if !m.Exists() {
			continue
		}
		if bcachefsprim.Sector(m.BucketSize) < sb.BtreeNodeSize() {
			return fmt.Errorf("bucket size smaller than btree node size")
		}
	}

	mi := members[sb.DevIdx]
	if !mi.Exists() {
		return fmt.Errorf("Invalid superblock: device index references absent member")
	}
	if mi.NBuckets > math.MaxInt64 {
		return fmt.Errorf("Too many buckets")
	}
	if mi.NBuckets-uint64(mi.FirstBucket) < bcachefsprim.BucketsMin {
		return fmt.Errorf("Not enough buckets")
	}
	if !isPowerOf2(uint64(mi.BucketSize)) ||
		bcachefsprim.Sector(mi.BucketSize) < bcachefsprim.PageSectors ||
		mi.BucketSize < sb.BlockSize {
		return fmt.Errorf("Bad bucket size")
	}
	if devSectors != 0 &&
		devSectors < bcachefsprim.Sector(mi.NBuckets)*bcachefsprim.Sector(mi.BucketSize) {
		return fmt.Errorf("Invalid superblock: device too small")
	}

	if err := validateJournal(b, mi); err != nil {
		return err
	}

	return validateReplicas(b, members)
}

func validateJournal(b *Buffer, mi Member) error {
	buckets := JournalBucketsFromSb(b)
	if len(buckets) == 0 {
		return nil
	}

	buckets = append([]uint64(nil), buckets...)
	slices.Sort(buckets)

	if buckets[0] == 0 {
		return fmt.Errorf("journal bucket at sector 0")
	}
	if buckets[0] < uint64(mi.FirstBucket) {
		return fmt.Errorf("journal bucket before first bucket")
	}
	if buckets[len(buckets)-1] >= mi.NBuckets {
		return fmt.Errorf("journal bucket past end of device")
	}
	for i := 1; i < len(buckets); i++ {
		if buckets[i] == buckets[i-1] {
			return fmt.Errorf("duplicate journal buckets")
		}
	}
	return nil
}

func validateReplicas(b *Buffer, members []Member) error {
	entries, err := ReplicasFromSb(b)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.DataType >= bcachefsreplicas.DATA_NR {
			return fmt.Errorf("invalid replicas entry: invalid data type")
		}
		if len(e.Devs) >= bcachefsprim.ReplicasMax {
			return fmt.Errorf("invalid replicas entry: too many devices")
		}
		for _, dev := range e.Devs {
			if int(dev) >= len(members) || !members[dev].Exists() {
				return fmt.Errorf("invalid replicas entry: invalid device")
			}
		}
	}
	if bcachefsreplicas.FromEntries(entries).HasAdjacentDups() {
		return fmt.Errorf("duplicate replicas entry")
	}
	return nil
}
