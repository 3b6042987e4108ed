// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsreplicas"
)

func init() {
	var typeNames []string
	cmd := subcommand{
		Command: cobra.Command{
			Use:   "gc-replicas",
			Short: "Drop replica-table entries of the given data types",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(fs *bcachefs.FS, cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var typemask uint32
			for _, name := range typeNames {
				var typ bcachefsreplicas.DataType
				for ; typ < bcachefsreplicas.DATA_NR; typ++ {
					if typ.String() == name {
						break
					}
				}
				if typ == bcachefsreplicas.DATA_NR || typ == bcachefsreplicas.DATA_NONE {
					return fmt.Errorf("invalid data type: %q", name)
				}
				typemask |= 1 << uint(typ)
			}

			before := fs.Replicas().NR()
			if err := fs.ReplicasGCStart(ctx, typemask); err != nil {
				return err
			}
			// Nothing is marking new replicas while this tool runs,
			// so every entry of the masked types is stale.
			if err := fs.ReplicasGCEnd(ctx, nil); err != nil {
				return err
			}
			dlog.Infof(ctx, "dropped %v of %v replicas entries",
				before-fs.Replicas().NR(), before)
			return nil
		},
	}
	cmd.Command.Flags().StringSliceVar(&typeNames, "types", []string{"cached"},
		"comma-separated data types whose entries should be dropped")
	repairers = append(repairers, cmd)
}
