// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bcachefs

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsreplicas"
)

// ReplicasGCStart begins a garbage-collection pass over the replica
// table for the data types in typemask (a bitmap indexed by data
// type).  It seeds a shadow table with every entry whose type is NOT
// being collected; while the pass runs, MarkReplicas adds new marks
// to both tables, and the caller re-marks everything of the collected
// types that still exists.  Only one pass may be active at a time.
func (fs *FS) ReplicasGCStart(ctx context.Context, typemask uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.replicasGC.Load() != nil {
		return fmt.Errorf("replicas GC already in progress")
	}
	gc := fs.Replicas().Filter(func(typ bcachefsreplicas.DataType) bool {
		return typemask&(1<<uint(typ)) == 0
	})
	fs.replicasGC.Store(gc)
	dlog.Debugf(ctx, "replicas GC: started (typemask %#x, %v entries carried over)",
		typemask, gc.NR())
	return nil
}

// ReplicasGCEnd finishes a garbage-collection pass.  On success the
// shadow table (carried-over entries plus everything marked during
// the pass) becomes the replica table and is written out; a non-nil
// gcErr aborts the pass, discarding the shadow table and leaving the
// replica table untouched.
func (fs *FS) ReplicasGCEnd(ctx context.Context, gcErr error) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	gc := fs.replicasGC.Load()
	if gc == nil {
		return fmt.Errorf("no replicas GC in progress")
	}
	fs.replicasGC.Store(nil)

	if gcErr != nil {
		dlog.Errorf(ctx, "replicas GC: aborted: %v", gcErr)
		return gcErr
	}

	if err := fs.sbSetReplicas(gc.Entries()); err != nil {
		return err
	}
	// Readers still using the old table keep their snapshot; it
	// is reclaimed once the last of them lets go.
	fs.replicas.Store(gc)

	dlog.Debugf(ctx, "replicas GC: finished (%v entries)", gc.NR())
	return fs.writeSuper(ctx)
}
