// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs"
	"git.lukeshu.com/bcachefs-progs-ng/lib/textui"
)

func init() {
	inspectors = append(inspectors, subcommand{
		Command: cobra.Command{
			Use:   "spew-supers",
			Short: "Spew every device's superblock as parsed",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(fs *bcachefs.FS, _ *cobra.Command, _ []string) error {
			spew := spew.NewDefaultConfig()
			spew.DisablePointerAddresses = true

			for _, dev := range fs.OnlineDevs() {
				view, err := viewSb(dev.SB.Buf)
				if err != nil {
					return err
				}
				textui.Fprintf(os.Stdout, "device %v (%q) = ", dev.Idx, dev.SB.File.Name())
				spew.Dump(view)
				_, _ = os.Stdout.WriteString("\n")
			}
			return nil
		},
	})
}
