// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package binstruct implements simple declarative serialization for
// fixed-layout on-disk structures.  Struct fields are annotated with
// `bin:"off=0x…, siz=0x…"` tags giving their byte offset and size;
// the offsets are checked against the actual field sizes when a
// struct is first used, so a typo'd layout panics at first use rather
// than corrupting data.  Integers are little-endian.
package binstruct

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// End is a zero-size marker for the end of a struct; its tag's `off=`
// documents (and asserts) the total size of the struct.
type End struct{}

var endType = reflect.TypeOf(End{})

type tag struct {
	skip bool

	off int
	siz int
}

func parseStructTag(str string) (tag, error) {
	var ret tag
	for _, part := range strings.Split(str, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "-" {
			return tag{skip: true}, nil
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return tag{}, fmt.Errorf("option is not a key=value pair: %q", part)
		}
		vint, err := strconv.ParseInt(val, 0, 0)
		if err != nil {
			return tag{}, err
		}
		switch key {
		case "off":
			ret.off = int(vint)
		case "siz":
			ret.siz = int(vint)
		default:
			return tag{}, fmt.Errorf("unrecognized option %q", key)
		}
	}
	return ret, nil
}

type structHandler struct {
	name   string
	Size   int
	fields []structField
}

type structField struct {
	name string
	tag
}

func genStructHandler(structInfo reflect.Type) (structHandler, error) {
	var ret structHandler

	ret.name = structInfo.String()

	var curOffset, endOffset int
	for i := 0; i < structInfo.NumField(); i++ {
		fieldInfo := structInfo.Field(i)
		fieldErr := func(err error) (structHandler, error) {
			return ret, fmt.Errorf("struct %q field %v %q: %w",
				ret.name, i, fieldInfo.Name, err)
		}

		if fieldInfo.Anonymous && fieldInfo.Type != endType {
			return fieldErr(fmt.Errorf("binstruct does not support embedded fields"))
		}

		fieldTag, err := parseStructTag(fieldInfo.Tag.Get("bin"))
		if err != nil {
			return fieldErr(err)
		}
		if fieldTag.skip {
			ret.fields = append(ret.fields, structField{name: fieldInfo.Name, tag: fieldTag})
			continue
		}

		if fieldTag.off != curOffset {
			return fieldErr(fmt.Errorf("tag says off=%#x but curOffset=%#x", fieldTag.off, curOffset))
		}
		if fieldInfo.Type == endType {
			endOffset = curOffset
		}

		fieldSize, err := staticSize(fieldInfo.Type)
		if err != nil {
			return fieldErr(err)
		}
		if fieldTag.siz != fieldSize {
			return fieldErr(fmt.Errorf("tag says siz=%#x but StaticSize(typ)=%#x", fieldTag.siz, fieldSize))
		}
		curOffset += fieldTag.siz

		ret.fields = append(ret.fields, structField{name: fieldInfo.Name, tag: fieldTag})
	}
	ret.Size = curOffset

	if ret.Size != endOffset {
		return ret, fmt.Errorf("struct %q: .Size=%v but endOffset=%v",
			ret.name, ret.Size, endOffset)
	}

	return ret, nil
}

var structCache = make(map[reflect.Type]structHandler)

func getStructHandler(typ reflect.Type) structHandler {
	h, ok := structCache[typ]
	if ok {
		return h
	}

	h, err := genStructHandler(typ)
	if err != nil {
		panic(&InvalidTypeError{
			Type: typ,
			Err:  err,
		})
	}
	structCache[typ] = h
	return h
}
