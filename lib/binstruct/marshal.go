// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package binstruct

import (
	"encoding"
	"encoding/binary"
	"fmt"
	"reflect"
)

type Marshaler = encoding.BinaryMarshaler

func Marshal(obj any) ([]byte, error) {
	if mar, ok := obj.(Marshaler); ok {
		dat, err := mar.MarshalBinary()
		if err != nil {
			err = &MarshalError{
				Type:   reflect.TypeOf(obj),
				Method: "MarshalBinary",
				Err:    err,
			}
		}
		return dat, err
	}
	return MarshalWithoutInterface(obj)
}

func MarshalWithoutInterface(obj any) ([]byte, error) {
	val := reflect.ValueOf(obj)
	switch val.Kind() {
	case reflect.Uint8, reflect.Int8:
		return []byte{byte(asUint64(val))}, nil
	case reflect.Uint16, reflect.Int16:
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(asUint64(val)))
		return buf[:], nil
	case reflect.Uint32, reflect.Int32:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(asUint64(val)))
		return buf[:], nil
	case reflect.Uint64, reflect.Int64:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], asUint64(val))
		return buf[:], nil
	case reflect.Ptr:
		return Marshal(val.Elem().Interface())
	case reflect.Array:
		var ret []byte
		for i := 0; i < val.Len(); i++ {
			bs, err := Marshal(val.Index(i).Interface())
			ret = append(ret, bs...)
			if err != nil {
				return ret, err
			}
		}
		return ret, nil
	case reflect.Struct:
		sh := getStructHandler(val.Type())
		ret := make([]byte, 0, sh.Size)
		for i, field := range sh.fields {
			if field.skip {
				continue
			}
			bs, err := Marshal(val.Field(i).Interface())
			ret = append(ret, bs...)
			if err != nil {
				return ret, fmt.Errorf("struct %q field %v %q: %w",
					sh.name, i, field.name, err)
			}
		}
		return ret, nil
	default:
		panic(&InvalidTypeError{
			Type: val.Type(),
			Err: fmt.Errorf("does not implement binstruct.Marshaler and kind=%v is not a supported statically-sized kind",
				val.Kind()),
		})
	}
}

func asUint64(val reflect.Value) uint64 {
	switch val.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uint64(val.Int())
	default:
		return val.Uint()
	}
}
