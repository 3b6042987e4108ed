// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package bcachefs ties the on-disk superblock structures together
// into a filesystem handle: opening a set of member devices, keeping
// the authoritative in-memory superblock, propagating it back out to
// every device and every backup location, and tracking which device
// sets hold which classes of data.
package bcachefs

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsprim"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsreplicas"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefssb"
)

type Opts struct {
	// Sector is where to look for the superblock; 0 means the
	// usual location (and permits falling back to the backup
	// locations from the superblock layout).
	Sector bcachefsprim.Sector

	// NoChanges opens the devices read-only and suppresses all
	// superblock writes.
	NoChanges bool

	// PhysBlockSize is the logical block size of the underlying
	// devices, in bytes; superblock writes are padded to a
	// multiple of it.  0 means 512.
	PhysBlockSize int64

	// CacheSize, if >0, is the number of pages of read cache to
	// put in front of each device.
	CacheSize int
}

func (o Opts) withDefaults() Opts {
	if o.PhysBlockSize == 0 {
		o.PhysBlockSize = bcachefsprim.SectorSize
	}
	return o
}

// Dev is one online member device.
type Dev struct {
	Idx    uint8
	SB     *DiskSb
	Member bcachefssb.Member

	// IOErrs counts failed superblock writes to this device.
	IOErrs atomic.Uint64
}

// SbSummary is a parsed snapshot of the interesting top-level
// superblock members; it is refreshed after every superblock update.
type SbSummary struct {
	UUID          bcachefsprim.UUID
	UserUUID      bcachefsprim.UUID
	Label         string
	Version       uint64
	Seq           uint64
	NrDevices     uint8
	BlockSize     bcachefsprim.Sector
	BtreeNodeSize bcachefsprim.Sector
	Clean         bool
}

// FS is an open filesystem.
type FS struct {
	opts Opts

	// mu guards sb, devs' superblock buffers, summary, and
	// replicasGC; it is the in-memory equivalent of owning the
	// superblock.
	mu      sync.Mutex
	sb      *bcachefssb.Buffer // authoritative; has no journal field
	devs    []*Dev             // indexed by device index; nil = offline
	summary SbSummary

	// replicas is the current replica table; readers Load it and
	// may keep using the snapshot without any locking.  Writers
	// swap in a whole new table while holding mu.  replicasGC is
	// the shadow table of an active GC pass (nil otherwise); it
	// is read lock-free too, since the mark fast path must see
	// it.
	replicas   atomic.Pointer[bcachefsreplicas.Table]
	replicasGC atomic.Pointer[bcachefsreplicas.Table]

	// errored means the filesystem hit an inconsistency; further
	// superblock writes are suppressed.
	errored atomic.Bool
}

// Open opens the given device files as one filesystem.
func Open(ctx context.Context, filenames []string, opts Opts) (*FS, error) {
	opts = opts.withDefaults()
	flag := os.O_RDWR
	if opts.NoChanges {
		flag = os.O_RDONLY
	}
	sbs := make([]*DiskSb, 0, len(filenames))
	closeAll := func() {
		for _, sb := range sbs {
			_ = sb.File.Close()
		}
	}
	for i, filename := range filenames {
		dlog.Debugf(ctx, "Opening device file %d/%d %q...", i, len(filenames), filename)
		sb, err := OpenDevice(ctx, filename, flag, opts)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("device file %q: %w", filename, err)
		}
		sbs = append(sbs, sb)
	}
	fs, err := NewFS(ctx, sbs, opts)
	if err != nil {
		closeAll()
		return nil, err
	}
	return fs, nil
}

// NewFS assembles a filesystem from already-read device superblocks
// (typically from ReadSuper; tests use in-memory files).  On error
// the caller still owns the device files.
func NewFS(ctx context.Context, sbs []*DiskSb, opts Opts) (*FS, error) {
	if len(sbs) == 0 {
		return nil, fmt.Errorf("no devices")
	}
	opts = opts.withDefaults()

	fs := &FS{
		opts: opts,
		sb:   bcachefssb.NewBuffer(),
	}
	fs.replicas.Store(bcachefsreplicas.FromEntries(nil))

	best := sbs[0]
	for _, sb := range sbs {
		if err := bcachefssb.Validate(sb.Buf, sb.DevSectors()); err != nil {
			return nil, fmt.Errorf("device %q: %w", sb.File.Name(), err)
		}
		if sb.Buf.Seq() > best.Buf.Seq() {
			best = sb
		}
	}

	bestHdr, err := best.Buf.ParseHeader()
	if err != nil {
		return nil, err
	}
	fs.devs = make([]*Dev, bestHdr.NrDevices)
	for _, sb := range sbs {
		hdr, err := sb.Buf.ParseHeader()
		if err != nil {
			return nil, err
		}
		if hdr.UUID != bestHdr.UUID {
			return nil, fmt.Errorf("device %q is not a member of this filesystem (UUID %v != %v)",
				sb.File.Name(), hdr.UUID, bestHdr.UUID)
		}
		if int(hdr.DevIdx) >= len(fs.devs) {
			return nil, fmt.Errorf("device %q has out-of-range device index %v",
				sb.File.Name(), hdr.DevIdx)
		}
		if fs.devs[hdr.DevIdx] != nil {
			return nil, fmt.Errorf("device %q duplicates device index %v",
				sb.File.Name(), hdr.DevIdx)
		}
		if hdr.Seq < bestHdr.Seq {
			dlog.Infof(ctx, "device %q has stale superblock (seq %v < %v); will be refreshed on next write",
				sb.File.Name(), hdr.Seq, bestHdr.Seq)
		}
		fs.devs[hdr.DevIdx] = &Dev{
			Idx: hdr.DevIdx,
			SB:  sb,
		}
	}

	if err := fs.sbToFS(best.Buf); err != nil {
		return nil, err
	}
	dlog.Infof(ctx, "opened filesystem %v (%q): %v devices, seq %v",
		fs.summary.UserUUID, fs.summary.Label, len(sbs), fs.summary.Seq)
	return fs, nil
}

func (fs *FS) Close() error {
	var errs derror.MultiError
	for _, dev := range fs.devs {
		if dev == nil {
			continue
		}
		if err := dev.SB.File.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if errs != nil {
		return errs
	}
	return nil
}

func (fs *FS) Name() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.summary.Label != "" {
		return fs.summary.Label
	}
	return fs.summary.UserUUID.String()
}

func (fs *FS) Summary() SbSummary {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.summary
}

// Superblock returns a copy of the filesystem's authoritative
// superblock.
func (fs *FS) Superblock() *bcachefssb.Buffer {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.sb.Clone()
}

// OnlineDevs returns the online member devices, in index order.
func (fs *FS) OnlineDevs() []*Dev {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.onlineDevs()
}

func (fs *FS) onlineDevs() []*Dev {
	ret := make([]*Dev, 0, len(fs.devs))
	for _, dev := range fs.devs {
		if dev != nil {
			ret = append(ret, dev)
		}
	}
	return ret
}

// inconsistent records a filesystem inconsistency: it is logged, and
// all further superblock writes are suppressed so that a bad
// in-memory state cannot be made durable.
func (fs *FS) inconsistent(ctx context.Context, format string, args ...any) {
	dlog.Errorf(ctx, "filesystem inconsistency: "+format, args...)
	fs.errored.Store(true)
}

// Errored reports whether the filesystem is in the error state.
func (fs *FS) Errored() bool {
	return fs.errored.Load()
}

// sbUpdate refreshes the cached summary and per-device member info
// from the authoritative superblock.  Caller must hold mu.
func (fs *FS) sbUpdate() error {
	hdr, err := fs.sb.ParseHeader()
	if err != nil {
		return err
	}
	members, err := bcachefssb.MembersFromSb(fs.sb)
	if err != nil {
		return err
	}
	fs.summary = SbSummary{
		UUID:          hdr.UUID,
		UserUUID:      hdr.UserUUID,
		Label:         hdr.LabelString(),
		Version:       hdr.Version,
		Seq:           hdr.Seq,
		NrDevices:     hdr.NrDevices,
		BlockSize:     bcachefsprim.Sector(hdr.BlockSize),
		BtreeNodeSize: hdr.BtreeNodeSize(),
	}
	fs.summary.Clean = hdr.Clean()
	for _, dev := range fs.devs {
		if dev == nil {
			continue
		}
		if int(dev.Idx) < len(members) {
			dev.Member = members[dev.Idx]
		}
	}
	return nil
}
