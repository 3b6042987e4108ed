// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package bcachefsprim contains the core types and constants that the
// rest of the bcachefs libraries build on.
package bcachefsprim

// PhysicalAddr is a byte offset within a device.
type PhysicalAddr int64

// Sector is a 512-byte unit within a device; all on-disk offsets in
// the superblock are expressed in sectors regardless of the block
// size of the filesystem or of the underlying device.
type Sector int64

const (
	SectorSize = 512

	PageSize    = 4096
	PageSectors = Sector(PageSize / SectorSize)
)

func (s Sector) PhysicalAddr() PhysicalAddr {
	return PhysicalAddr(s) * SectorSize
}

func (a PhysicalAddr) Sector() Sector {
	return Sector(a / SectorSize)
}

const (
	// SbSector is the sector of the primary superblock on every
	// member device.
	SbSector Sector = 8

	// SbLayoutSector is the sector of the standalone copy of the
	// superblock layout, kept outside of any superblock so that
	// the backup locations can be found even when the primary
	// superblock is unreadable.
	SbLayoutSector Sector = 7
)

const (
	// MembersMax is the maximum number of member devices in a
	// filesystem; device indexes are single bytes in the replicas
	// field, but the member-info field caps them well below that.
	MembersMax = 64

	// ReplicasMax is the maximum number of devices a single
	// replicas entry may reference.
	ReplicasMax = 4

	// BucketsMin is the minimum number of usable buckets a member
	// device must have.
	BucketsMin = 1 << 10

	// BtreeNodeSizeMax is the maximum btree node size, in
	// sectors.
	BtreeNodeSizeMax Sector = 512
)
