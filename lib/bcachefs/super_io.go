// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bcachefs

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsprim"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsreplicas"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefssb"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefssum"
	"git.lukeshu.com/bcachefs-progs-ng/lib/binstruct"
	"git.lukeshu.com/bcachefs-progs-ng/lib/diskio"
)

// DiskSb is a device file together with the superblock read from (or
// destined for) it.
type DiskSb struct {
	File diskio.File[bcachefsprim.PhysicalAddr]
	Buf  *bcachefssb.Buffer
}

func (sb *DiskSb) DevSectors() bcachefsprim.Sector {
	return sb.File.Size().Sector()
}

// OpenDevice opens a device file and reads its superblock.
func OpenDevice(ctx context.Context, filename string, flag int, opts Opts) (*DiskSb, error) {
	opts = opts.withDefaults()
	fh, err := os.OpenFile(filename, flag, 0)
	if err != nil {
		return nil, err
	}
	var file diskio.File[bcachefsprim.PhysicalAddr] = &diskio.OSFile[bcachefsprim.PhysicalAddr]{File: fh}
	if opts.CacheSize > 0 {
		file = diskio.NewCachedFile[bcachefsprim.PhysicalAddr](file, bcachefsprim.PageSize, opts.CacheSize)
	}
	sb, err := ReadSuper(ctx, file, opts)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return sb, nil
}

// ReadSuper reads the superblock from a device.  If the copy at the
// usual location is unreadable it falls back to the standalone
// superblock layout and tries each backup location in turn; an
// explicit opts.Sector disables the fallback.
func ReadSuper(ctx context.Context, file diskio.File[bcachefsprim.PhysicalAddr], opts Opts) (*DiskSb, error) {
	opts = opts.withDefaults()
	ctx = dlog.WithField(ctx, "bcachefs.read-super.dev", file.Name())

	offset := bcachefsprim.SbSector
	if opts.Sector != 0 {
		offset = opts.Sector
	}

	sb := &DiskSb{
		File: file,
		Buf:  bcachefssb.NewBuffer(),
	}

	err := readOneSuper(ctx, sb, offset)
	if err == nil {
		return finishReadSuper(sb, opts)
	}
	if opts.Sector != 0 {
		return nil, err
	}
	dlog.Errorf(ctx, "error reading superblock at the usual location: %v; trying backups", err)

	layout, layoutErr := ReadSbLayout(ctx, file)
	if layoutErr != nil {
		return nil, fmt.Errorf("%v (and %v)", err, layoutErr)
	}
	for _, backup := range layout.Offsets() {
		if backup == bcachefsprim.SbSector {
			continue
		}
		if err = readOneSuper(ctx, sb, backup); err == nil {
			return finishReadSuper(sb, opts)
		}
	}
	return nil, err
}

func finishReadSuper(sb *DiskSb, opts Opts) (*DiskSb, error) {
	if blockBytes := sb.Buf.BlockSize().PhysicalAddr(); int64(blockBytes) < opts.PhysBlockSize {
		return nil, fmt.Errorf("block size (%v bytes) smaller than device block size (%v bytes)",
			blockBytes, opts.PhysBlockSize)
	}
	return sb, nil
}

func readOneSuper(ctx context.Context, sb *DiskSb, offset bcachefsprim.Sector) error {
	ctx = dlog.WithField(ctx, "bcachefs.read-super.offset", offset)
	for {
		if _, err := sb.File.ReadAt(sb.Buf.Bytes(), offset.PhysicalAddr()); err != nil {
			return fmt.Errorf("IO error: %w", err)
		}
		if sb.Buf.Magic() != bcachefssb.Magic {
			return fmt.Errorf("Not a bcachefs superblock")
		}
		if sb.Buf.Version() != bcachefssb.Version {
			return fmt.Errorf("Unsupported superblock version %v", sb.Buf.Version())
		}
		numBytes := sb.Buf.VStructBytes()
		if numBytes > sb.Buf.MaxBytes() {
			return fmt.Errorf("Bad superblock: too big (%v bytes, layout max %v)",
				numBytes, sb.Buf.MaxBytes())
		}
		if numBytes > int64(sb.Buf.Len()) {
			// Grow the buffer and re-read the whole thing.
			if err := sb.Buf.Realloc(sb.Buf.U64s(), 0); err != nil {
				return err
			}
			continue
		}
		if sb.Buf.CsumType() >= bcachefssum.TYPE_NR {
			return fmt.Errorf("unknown csum type %v", sb.Buf.CsumType())
		}
		want := sb.Buf.Csum()
		got, err := sb.Buf.ComputeCsum()
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("bad checksum reading superblock")
		}
		dlog.Debugf(ctx, "read superblock: seq=%v bytes=%v", sb.Buf.Seq(), numBytes)
		return nil
	}
}

// ReadSbLayout reads the standalone superblock layout from its
// well-known sector.
func ReadSbLayout(ctx context.Context, file diskio.File[bcachefsprim.PhysicalAddr]) (bcachefssb.Layout, error) {
	dat := make([]byte, bcachefssb.LayoutSize)
	if _, err := file.ReadAt(dat, bcachefsprim.SbLayoutSector.PhysicalAddr()); err != nil {
		return bcachefssb.Layout{}, fmt.Errorf("IO error reading superblock layout: %w", err)
	}
	var layout bcachefssb.Layout
	if _, err := binstruct.Unmarshal(dat, &layout); err != nil {
		return bcachefssb.Layout{}, err
	}
	if err := layout.Validate(); err != nil {
		return bcachefssb.Layout{}, err
	}
	return layout, nil
}

// WriteSbLayout writes the standalone superblock layout.
func WriteSbLayout(ctx context.Context, file diskio.File[bcachefsprim.PhysicalAddr], layout bcachefssb.Layout) error {
	if err := layout.Validate(); err != nil {
		return err
	}
	dat, err := binstruct.Marshal(layout)
	if err != nil {
		return err
	}
	if _, err := file.WriteAt(dat, bcachefsprim.SbLayoutSector.PhysicalAddr()); err != nil {
		return fmt.Errorf("IO error writing superblock layout: %w", err)
	}
	return nil
}

// WriteSuper bumps the superblock sequence number and writes the
// superblock out to every copy location on every online device:
// round 0 writes every device's primary copy in parallel, round 1
// every device's first backup, and so on until no device has more
// copies.  A device that fails a write still participates in later
// rounds, so that its remaining copies are as fresh as possible.
func (fs *FS) WriteSuper(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.writeSuper(ctx)
}

// writeSuper is WriteSuper minus the locking; caller must hold mu.
func (fs *FS) writeSuper(ctx context.Context) error {
	fs.sb.SetSeq(fs.sb.Seq() + 1)
	defer func() {
		_ = fs.sbUpdate()
	}()

	devs := fs.onlineDevs()

	for _, dev := range devs {
		if err := fs.sbFromFS(dev); err != nil {
			return err
		}
	}
	for _, dev := range devs {
		if err := bcachefssb.Validate(dev.SB.Buf, dev.SB.DevSectors()); err != nil {
			fs.inconsistent(ctx, "superblock for device %q invalid before write: %v",
				dev.SB.File.Name(), err)
			return err
		}
	}

	if fs.opts.NoChanges {
		dlog.Debugf(ctx, "nochanges: skipping superblock write (seq %v)", fs.sb.Seq())
		return nil
	}
	if fs.errored.Load() {
		dlog.Warnf(ctx, "filesystem in error state: skipping superblock write (seq %v)", fs.sb.Seq())
		return nil
	}

	var errs derror.MultiError
	for round := 0; ; round++ {
		roundCtx := dlog.WithField(ctx, "bcachefs.write-super.round", round)
		var wg sync.WaitGroup
		devErrs := make([]error, len(devs))
		wrote := false
		for i, dev := range devs {
			layout, err := dev.SB.Buf.Layout()
			if err != nil {
				return err
			}
			if round >= int(layout.NrSuperblocks) {
				continue
			}
			wrote = true
			wg.Add(1)
			go func(i int, dev *Dev, offset bcachefsprim.Sector) {
				defer wg.Done()
				devErrs[i] = fs.writeOneSuper(roundCtx, dev, offset)
			}(i, dev, layout.SbOffset[round])
		}
		wg.Wait()
		if !wrote {
			break
		}
		for _, err := range devErrs {
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	if errs != nil {
		return errs
	}
	return nil
}

func (fs *FS) writeOneSuper(ctx context.Context, dev *Dev, offset bcachefsprim.Sector) error {
	ctx = dlog.WithField(ctx, "bcachefs.write-super.dev", dev.SB.File.Name())
	buf := dev.SB.Buf
	buf.SetOffset(offset)
	csum, err := buf.ComputeCsum()
	if err != nil {
		return err
	}
	buf.SetCsum(csum)

	numBytes := roundUp(buf.VStructBytes(), fs.opts.PhysBlockSize)
	dlog.Debugf(ctx, "writing superblock: seq=%v offset=%v bytes=%v", buf.Seq(), offset, numBytes)
	if _, err := dev.SB.File.WriteAt(buf.Bytes()[:numBytes], offset.PhysicalAddr()); err != nil {
		dev.IOErrs.Add(1)
		dlog.Errorf(ctx, "error writing superblock at sector %v: %v", offset, err)
		return fmt.Errorf("device %q: superblock write at sector %v: %w",
			dev.SB.File.Name(), offset, err)
	}
	return nil
}

func roundUp(x, multiple int64) int64 {
	return (x + multiple - 1) / multiple * multiple
}

// sbFromFS refreshes a device's superblock from the filesystem's
// authoritative copy, preserving the device's own journal field (the
// journal is per-device and is never part of the filesystem copy).
func (fs *FS) sbFromFS(dev *Dev) error {
	dst := dev.SB.Buf
	var journalU64s uint32
	if f, ok := dst.FieldGet(bcachefssb.FIELD_JOURNAL); ok {
		journalU64s = f.U64s
	}
	if err := dst.Realloc(fs.sb.U64s()+journalU64s, dst.MaxBytes()); err != nil {
		return fmt.Errorf("device %q: %w", dev.SB.File.Name(), err)
	}
	return copySuper(dst, fs.sb)
}

// sbToFS replaces the filesystem's authoritative superblock with the
// given device superblock (minus its journal field), and rebuilds
// everything derived from it.  Caller must hold mu (or be the only
// owner, as during open).
func (fs *FS) sbToFS(src *bcachefssb.Buffer) error {
	var journalU64s uint32
	if f, ok := src.FieldGet(bcachefssb.FIELD_JOURNAL); ok {
		journalU64s = f.U64s
	}
	if err := fs.sb.Realloc(src.U64s()-journalU64s, 0); err != nil {
		return err
	}
	if err := copySuper(fs.sb, src); err != nil {
		return err
	}

	entries, err := bcachefssb.ReplicasFromSb(fs.sb)
	if err != nil {
		return err
	}
	fs.replicas.Store(bcachefsreplicas.FromEntries(entries))

	return fs.sbUpdate()
}

// copySuper copies everything that is shared between superblocks:
// the identity members of the header, and every field except the
// per-device journal.  It does not touch dst's checksum, offset,
// device index, or layout.
func copySuper(dst, src *bcachefssb.Buffer) error {
	srcHdr, err := src.ParseHeader()
	if err != nil {
		return err
	}
	dstHdr, err := dst.ParseHeader()
	if err != nil {
		return err
	}

	dstHdr.Version = srcHdr.Version
	dstHdr.Seq = srcHdr.Seq
	dstHdr.UUID = srcHdr.UUID
	dstHdr.UserUUID = srcHdr.UserUUID
	dstHdr.Label = srcHdr.Label
	dstHdr.BlockSize = srcHdr.BlockSize
	dstHdr.NrDevices = srcHdr.NrDevices
	dstHdr.TimeBaseLo = srcHdr.TimeBaseLo
	dstHdr.TimeBaseHi = srcHdr.TimeBaseHi
	dstHdr.TimePrecision = srcHdr.TimePrecision
	dstHdr.Flags = srcHdr.Flags
	dstHdr.Features = srcHdr.Features
	dstHdr.Compat = srcHdr.Compat
	if err := dst.SetHeader(dstHdr); err != nil {
		return err
	}

	fields, err := src.Fields()
	if err != nil {
		return err
	}
	for _, f := range fields {
		if f.Type == bcachefssb.FIELD_JOURNAL {
			continue
		}
		payload, err := dst.FieldResize(f.Type, f.U64s, 0)
		if err != nil {
			return err
		}
		copy(payload, src.FieldPayload(f))
	}
	return nil
}
