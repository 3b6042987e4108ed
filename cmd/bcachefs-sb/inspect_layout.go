// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"
	"text/tabwriter"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs"
	"git.lukeshu.com/bcachefs-progs-ng/lib/textui"
)

func init() {
	inspectors = append(inspectors, subcommand{
		Command: cobra.Command{
			Use:   "layout",
			Short: "Show where each device keeps its superblock copies",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(fs *bcachefs.FS, _ *cobra.Command, _ []string) error {
			table := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			textui.Fprintf(table, "DEVICE\tFILE\tMAX SB SIZE\tCOPIES (sectors)\n")
			for _, dev := range fs.OnlineDevs() {
				layout, err := dev.SB.Buf.Layout()
				if err != nil {
					return err
				}
				textui.Fprintf(table, "%v\t%v\t%v\t%v\n",
					dev.Idx,
					dev.SB.File.Name(),
					textui.IEC(layout.MaxBytes(), "B"),
					layout.Offsets())
			}
			return table.Flush()
		},
	})
}
