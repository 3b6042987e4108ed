// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs"
)

func init() {
	repairers = append(repairers, subcommand{
		Command: cobra.Command{
			Use:   "recover-super",
			Short: "Rewrite every superblock copy from the newest valid one",
			Long: "" +
				"Opening the filesystem already selects the superblock with the " +
				"highest sequence number, falling back to backup copies on " +
				"devices whose primary is unreadable; this command then writes " +
				"that superblock back out to every copy location on every " +
				"device, repairing the damaged copies.",
			Args: cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(fs *bcachefs.FS, cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := fs.WriteSuper(ctx); err != nil {
				return err
			}
			dlog.Infof(ctx, "rewrote superblocks on %v devices (now seq=%v)",
				len(fs.OnlineDevs()), fs.Summary().Seq)
			return nil
		},
	})
}
