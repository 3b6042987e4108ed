// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bcachefs

import (
	"context"
	"math"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsreplicas"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefssb"
	"git.lukeshu.com/bcachefs-progs-ng/lib/slices"
)

// Replicas returns the current replica table.  The returned table is
// an immutable snapshot; callers on hot paths may hold on to it and
// query it without any locking.
func (fs *FS) Replicas() *bcachefsreplicas.Table {
	return fs.replicas.Load()
}

// HasReplicas reports whether the given device set is already
// recorded as holding the given class of data.
func (fs *FS) HasReplicas(e bcachefsreplicas.Entry) bool {
	return fs.Replicas().Has(e)
}

// replicasMarked is the mark fast path: the entry must be in the
// live table, and also in the shadow table if a GC pass is active
// (or the pass would drop it right back out).
func (fs *FS) replicasMarked(e bcachefsreplicas.Entry) bool {
	if !fs.replicas.Load().Has(e) {
		return false
	}
	if gc := fs.replicasGC.Load(); gc != nil && !gc.Has(e) {
		return false
	}
	return true
}

// MarkReplicas records, durably, that the given device set holds the
// given class of data.  It must be called (and must succeed) before
// any such data is actually written; the common already-recorded
// case is a lock-free table lookup.
func (fs *FS) MarkReplicas(ctx context.Context, e bcachefsreplicas.Entry) error {
	if fs.replicasMarked(e) {
		return nil
	}
	return fs.markReplicasSlow(ctx, e)
}

func (fs *FS) markReplicasSlow(ctx context.Context, e bcachefsreplicas.Entry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	// An active GC pass must see the mark too.
	if gc := fs.replicasGC.Load(); gc != nil && !gc.Has(e) {
		fs.replicasGC.Store(gc.WithEntry(e))
	}

	// Re-check now that we hold the lock; another writer may have
	// beaten us here.
	if fs.replicas.Load().Has(e) {
		return nil
	}

	dlog.Debugf(ctx, "marking replicas entry %v", e)

	entries, err := bcachefssb.ReplicasFromSb(fs.sb)
	if err != nil {
		return err
	}
	entries = append(entries, e)
	if err := fs.sbSetReplicas(entries); err != nil {
		return err
	}

	fs.replicas.Store(fs.replicas.Load().WithEntry(e))

	return fs.writeSuper(ctx)
}

// sbSetReplicas rewrites the replicas field of the authoritative
// superblock, making sure beforehand that the grown field will also
// fit in every online device's superblock.  Caller must hold mu.
func (fs *FS) sbSetReplicas(entries []bcachefsreplicas.Entry) error {
	dat := bcachefsreplicas.EntriesBytes(entries)
	u64s := uint32((bcachefssb.FieldHeaderSize + len(dat) + 7) / 8)

	var oldU64s uint32
	if f, ok := fs.sb.FieldGet(bcachefssb.FIELD_REPLICAS); ok {
		oldU64s = f.U64s
	}
	if u64s > oldU64s {
		d := u64s - oldU64s
		for _, dev := range fs.onlineDevs() {
			if err := dev.SB.Buf.Realloc(dev.SB.Buf.U64s()+d, dev.SB.Buf.MaxBytes()); err != nil {
				return err
			}
		}
	}
	return bcachefssb.SetReplicas(fs.sb, entries, 0)
}

// ReplicaStatus is the redundancy of one class of data: how many
// devices of its worst-represented replica set are online/offline.
type ReplicaStatus struct {
	NrOnline  uint32
	NrOffline uint32
}

type ReplicasStatus struct {
	Replicas [bcachefsreplicas.DATA_NR]ReplicaStatus
}

// ReplicasStatus summarizes the current replica table against the
// set of online devices.
func (fs *FS) ReplicasStatus() ReplicasStatus {
	fs.mu.Lock()
	online := make(map[uint8]bool, len(fs.devs))
	for _, dev := range fs.devs {
		if dev != nil {
			online[dev.Idx] = true
		}
	}
	fs.mu.Unlock()

	var ret ReplicasStatus
	for i := range ret.Replicas {
		ret.Replicas[i].NrOnline = math.MaxUint32
	}

	tbl := fs.Replicas()
	seen := make([]bool, len(ret.Replicas))
	for i := 0; i < tbl.NR(); i++ {
		e := tbl.At(i)
		if int(e.DataType) >= len(ret.Replicas) {
			continue
		}
		var nrOnline, nrOffline uint32
		for _, dev := range e.Devs {
			if online[dev] {
				nrOnline++
			} else {
				nrOffline++
			}
		}
		st := &ret.Replicas[e.DataType]
		if nrOnline < st.NrOnline {
			st.NrOnline = nrOnline
		}
		if nrOffline > st.NrOffline {
			st.NrOffline = nrOffline
		}
		seen[e.DataType] = true
	}
	for i := range ret.Replicas {
		if !seen[i] {
			ret.Replicas[i] = ReplicaStatus{}
		}
	}
	return ret
}

// DevHasData returns a bitmap (indexed by data type) of the classes
// of data that the given device is recorded as holding.
func (fs *FS) DevHasData(devIdx uint8) uint32 {
	var ret uint32
	tbl := fs.Replicas()
	for i := 0; i < tbl.NR(); i++ {
		e := tbl.At(i)
		if slices.Contains(devIdx, e.Devs) {
			ret |= 1 << uint(e.DataType)
		}
	}
	return ret
}
