// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package jsonutil provides utilities for implementing the interfaces
// consumed by the "git.lukeshu.com/go/lowmemjson" package.
package jsonutil

import (
	"fmt"
	"io"

	"git.lukeshu.com/go/lowmemjson"
)

// EncodeHexString writes str to w as a JSON string of lowercase hex
// pairs.
func EncodeHexString[T ~[]byte | ~string](w io.Writer, str T) error {
	const digits = "0123456789abcdef"
	quote := []byte{'"'}
	if _, err := w.Write(quote); err != nil {
		return err
	}
	var pair [2]byte
	for i := 0; i < len(str); i++ {
		pair[0] = digits[str[i]>>4]
		pair[1] = digits[str[i]&0x0f]
		if _, err := w.Write(pair[:]); err != nil {
			return err
		}
	}
	_, err := w.Write(quote)
	return err
}

func hexVal(c rune) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return byte(c - '0'), true
	case c >= 'a' && c <= 'f':
		return byte(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return byte(c-'A') + 10, true
	}
	return 0, false
}

// hexStringDecoder pairs up the hex digits pushed into it by
// lowmemjson.DecodeString.
type hexStringDecoder struct {
	dst io.ByteWriter

	hi    byte
	hiSet bool
}

func (d *hexStringDecoder) WriteRune(r rune) (int, error) {
	v, ok := hexVal(r)
	if !ok {
		return 0, fmt.Errorf("jsonutil: invalid hex digit: %q", r)
	}
	if !d.hiSet {
		d.hi = v
		d.hiSet = true
		return 1, nil
	}
	d.hiSet = false
	return 1, d.dst.WriteByte(d.hi<<4 | v)
}

// DecodeHexString decodes a JSON string of hex pairs into dst.
func DecodeHexString(r io.RuneScanner, dst io.ByteWriter) error {
	d := &hexStringDecoder{dst: dst}
	if err := lowmemjson.DecodeString(r, d); err != nil {
		return err
	}
	if d.hiSet {
		return io.ErrUnexpectedEOF
	}
	return nil
}
