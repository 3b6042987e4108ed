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
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsreplicas"
	"git.lukeshu.com/bcachefs-progs-ng/lib/containers"
	"git.lukeshu.com/bcachefs-progs-ng/lib/fmtutil"
	"git.lukeshu.com/bcachefs-progs-ng/lib/maps"
	"git.lukeshu.com/bcachefs-progs-ng/lib/textui"
)

func init() {
	inspectors = append(inspectors, subcommand{
		Command: cobra.Command{
			Use:   "replicas",
			Short: "Show the replica table and per-device data classes",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(fs *bcachefs.FS, _ *cobra.Command, _ []string) error {
			dataTypeNames := make([]string, bcachefsreplicas.DATA_NR)
			for typ := bcachefsreplicas.DATA_NONE; typ < bcachefsreplicas.DATA_NR; typ++ {
				dataTypeNames[typ] = typ.String()
			}

			tbl := fs.Replicas()
			referenced := containers.NewSet[uint8]()
			textui.Fprintf(os.Stdout, "Replicas entries: %v\n", tbl.NR())
			for i := 0; i < tbl.NR(); i++ {
				entry := tbl.At(i)
				textui.Fprintf(os.Stdout, "  %v\n", entry)
				for _, dev := range entry.Devs {
					referenced.Insert(dev)
				}
			}

			status := fs.ReplicasStatus()
			table := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			textui.Fprintf(table, "DATA TYPE\tONLINE\tOFFLINE\n")
			for typ := bcachefsreplicas.DATA_JOURNAL; typ < bcachefsreplicas.DATA_NR; typ++ {
				st := status.Replicas[typ]
				textui.Fprintf(table, "%v\t%v\t%v\n", typ, st.NrOnline, st.NrOffline)
			}
			if err := table.Flush(); err != nil {
				return err
			}

			for _, dev := range fs.OnlineDevs() {
				referenced.Delete(dev.Idx)
				textui.Fprintf(os.Stdout, "Device %v (%q) holds: %v\n",
					dev.Idx, dev.SB.File.Name(),
					fmtutil.BitfieldString(fs.DevHasData(dev.Idx), dataTypeNames, fmtutil.HexNone))
			}
			for _, devIdx := range maps.SortedKeys(referenced) {
				textui.Fprintf(os.Stdout, "Device %v is OFFLINE but still holds: %v\n",
					devIdx,
					fmtutil.BitfieldString(fs.DevHasData(devIdx), dataTypeNames, fmtutil.HexNone))
			}
			return nil
		},
	})
}
