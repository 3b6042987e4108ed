// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package fmtutil

import (
	"fmt"
	"strings"
)

type BitfieldFormat uint8

const (
	HexNone = BitfieldFormat(iota)
	HexLower
	HexUpper
)

// BitfieldString renders a bitfield as a '|'-separated list of bit
// names, optionally prefixed with the raw hex value.  Set bits beyond
// len(bitnames) render as "(1<<n)".
func BitfieldString[T ~uint8 | ~uint16 | ~uint32 | ~uint64](bitfield T, bitnames []string, cfg BitfieldFormat) string {
	var out strings.Builder
	switch cfg {
	case HexNone:
		// no prefix
	case HexLower:
		fmt.Fprintf(&out, "0x%0x(", uint64(bitfield))
	case HexUpper:
		fmt.Fprintf(&out, "0x%0X(", uint64(bitfield))
	}
	if bitfield == 0 {
		out.WriteString("none")
	} else {
		first := true
		for i := 0; bitfield>>i != 0; i++ {
			if bitfield&(1<<i) == 0 {
				continue
			}
			if !first {
				out.WriteRune('|')
			}
			if i < len(bitnames) {
				out.WriteString(bitnames[i])
			} else {
				fmt.Fprintf(&out, "(1<<%v)", i)
			}
			first = false
		}
	}
	if cfg != HexNone {
		out.WriteRune(')')
	}
	return out.String()
}
