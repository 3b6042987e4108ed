// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsprim"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsreplicas"
	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefssb"
	"git.lukeshu.com/bcachefs-progs-ng/lib/jsonutil"
	"git.lukeshu.com/bcachefs-progs-ng/lib/textui"
)

type sbView struct {
	Header   bcachefssb.Header
	Members  []bcachefssb.Member
	Journal  []uint64
	Replicas []bcachefsreplicas.Entry
	Crypt    *cryptView
}

type cryptView struct {
	ScryptN uint64
	ScryptR uint64
	ScryptP uint64

	// The key is encrypted; render it as an opaque hex string.
	Key jsonutil.Binary[[48]byte]
}

func viewSb(b *bcachefssb.Buffer) (sbView, error) {
	var ret sbView
	var err error
	if ret.Header, err = b.ParseHeader(); err != nil {
		return ret, err
	}
	if ret.Members, err = bcachefssb.MembersFromSb(b); err != nil {
		return ret, err
	}
	ret.Journal = bcachefssb.JournalBucketsFromSb(b)
	if ret.Replicas, err = bcachefssb.ReplicasFromSb(b); err != nil {
		return ret, err
	}
	crypt, ok, err := bcachefssb.CryptFromSb(b)
	if err != nil {
		return ret, err
	}
	if ok {
		ret.Crypt = &cryptView{
			ScryptN: crypt.ScryptN(),
			ScryptR: crypt.ScryptR(),
			ScryptP: crypt.ScryptP(),
			Key:     jsonutil.Binary[[48]byte]{Val: crypt.Key},
		}
	}
	return ret, nil
}

func init() {
	var jsonFlag bool
	cmd := subcommand{
		Command: cobra.Command{
			Use:   "show",
			Short: "Pretty-print the canonical superblock",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(fs *bcachefs.FS, cmd *cobra.Command, _ []string) error {
			view, err := viewSb(fs.Superblock())
			if err != nil {
				return err
			}

			if jsonFlag {
				return writeJSONFile(os.Stdout, view, lowmemjson.ReEncoderConfig{
					Indent:                "\t",
					ForceTrailingNewlines: true,
				})
			}

			sb := view.Header
			table := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			textui.Fprintf(table, "External UUID:\t%v\n", sb.UserUUID)
			textui.Fprintf(table, "Internal UUID:\t%v\n", sb.UUID)
			textui.Fprintf(table, "Label:\t%q\n", sb.LabelString())
			textui.Fprintf(table, "Version:\t%v\n", sb.Version)
			textui.Fprintf(table, "Sequence number:\t%v\n", sb.Seq)
			textui.Fprintf(table, "Block size:\t%v\n", textui.IEC(bcachefsprim.Sector(sb.BlockSize).PhysicalAddr(), "B"))
			textui.Fprintf(table, "Btree node size:\t%v\n", textui.IEC(sb.BtreeNodeSize().PhysicalAddr(), "B"))
			textui.Fprintf(table, "Checksum type:\t%v\n", sb.CsumType())
			textui.Fprintf(table, "Metadata replicas:\twant=%v required=%v\n", sb.MetaReplicasWant(), sb.MetaReplicasReq())
			textui.Fprintf(table, "Data replicas:\twant=%v required=%v\n", sb.DataReplicasWant(), sb.DataReplicasReq())
			textui.Fprintf(table, "GC reserve:\t%v%%\n", sb.GCReservePercent())
			textui.Fprintf(table, "Clean:\t%v\n", sb.Clean())
			textui.Fprintf(table, "Encrypted:\t%v\n", view.Crypt != nil)
			textui.Fprintf(table, "Devices:\t%v\n", sb.NrDevices)
			if err := table.Flush(); err != nil {
				return err
			}

			for i, member := range view.Members {
				if !member.Exists() {
					continue
				}
				fmt.Println()
				textui.Fprintf(os.Stdout, "Device %v:\n", i)
				table := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
				textui.Fprintf(table, "  UUID:\t%v\n", member.UUID)
				textui.Fprintf(table, "  State:\t%v\n", member.State())
				bucketSize := bcachefsprim.Sector(member.BucketSize)
				textui.Fprintf(table, "  Size:\t%v\n",
					textui.IEC((bcachefsprim.Sector(member.NBuckets)*bucketSize).PhysicalAddr(), "B"))
				textui.Fprintf(table, "  Bucket size:\t%v\n", textui.IEC(bucketSize.PhysicalAddr(), "B"))
				textui.Fprintf(table, "  Buckets:\t%v (first usable: %v)\n", member.NBuckets, member.FirstBucket)
				textui.Fprintf(table, "  Discard:\t%v\n", member.Discard())
				if err := table.Flush(); err != nil {
					return err
				}
			}

			fmt.Println()
			for _, dev := range fs.OnlineDevs() {
				journal := bcachefssb.JournalBucketsFromSb(dev.SB.Buf)
				textui.Fprintf(os.Stdout, "Journal buckets (device %v, %q): %v\n",
					dev.Idx, dev.SB.File.Name(), len(journal))
			}
			textui.Fprintf(os.Stdout, "Replicas entries: %v\n", len(view.Replicas))
			for _, entry := range view.Replicas {
				textui.Fprintf(os.Stdout, "  %v\n", entry)
			}
			return nil
		},
	}
	cmd.Command.Flags().BoolVar(&jsonFlag, "json", false, "print as JSON rather than a table")
	inspectors = append(inspectors, cmd)
}
