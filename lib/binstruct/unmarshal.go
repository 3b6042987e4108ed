// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package binstruct

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"

	"git.lukeshu.com/bcachefs-progs-ng/lib/binstruct/binutil"
)

type Unmarshaler interface {
	UnmarshalBinary([]byte) (int, error)
}

func Unmarshal(dat []byte, dstPtr any) (int, error) {
	if unmar, ok := dstPtr.(Unmarshaler); ok {
		n, err := unmar.UnmarshalBinary(dat)
		if err != nil {
			err = &UnmarshalError{
				Type:   reflect.TypeOf(dstPtr),
				Method: "UnmarshalBinary",
				Err:    err,
			}
		}
		return n, err
	}
	return UnmarshalWithoutInterface(dat, dstPtr)
}

func UnmarshalWithoutInterface(dat []byte, dstPtr any) (int, error) {
	_dstPtr := reflect.ValueOf(dstPtr)
	if _dstPtr.Kind() != reflect.Ptr {
		panic(&InvalidTypeError{
			Type: _dstPtr.Type(),
			Err:  errors.New("not a pointer"),
		})
	}
	dst := _dstPtr.Elem()

	switch dst.Kind() {
	case reflect.Uint8, reflect.Int8:
		if err := binutil.NeedNBytes(dat, 1); err != nil {
			return 0, err
		}
		setUint64(dst, uint64(dat[0]))
		return 1, nil
	case reflect.Uint16, reflect.Int16:
		if err := binutil.NeedNBytes(dat, 2); err != nil {
			return 0, err
		}
		setUint64(dst, uint64(binary.LittleEndian.Uint16(dat)))
		return 2, nil
	case reflect.Uint32, reflect.Int32:
		if err := binutil.NeedNBytes(dat, 4); err != nil {
			return 0, err
		}
		setUint64(dst, uint64(binary.LittleEndian.Uint32(dat)))
		return 4, nil
	case reflect.Uint64, reflect.Int64:
		if err := binutil.NeedNBytes(dat, 8); err != nil {
			return 0, err
		}
		setUint64(dst, binary.LittleEndian.Uint64(dat))
		return 8, nil
	case reflect.Ptr:
		elemPtr := reflect.New(dst.Type().Elem())
		n, err := Unmarshal(dat, elemPtr.Interface())
		dst.Set(elemPtr.Convert(dst.Type()))
		return n, err
	case reflect.Array:
		var n int
		for i := 0; i < dst.Len(); i++ {
			_n, err := Unmarshal(dat[n:], dst.Index(i).Addr().Interface())
			n += _n
			if err != nil {
				return n, err
			}
		}
		return n, nil
	case reflect.Struct:
		sh := getStructHandler(dst.Type())
		if err := binutil.NeedNBytes(dat, sh.Size); err != nil {
			return 0, fmt.Errorf("struct %q %w", sh.name, err)
		}
		var n int
		for i, field := range sh.fields {
			if field.skip {
				continue
			}
			_n, err := Unmarshal(dat[n:], dst.Field(i).Addr().Interface())
			if err != nil {
				if _n >= 0 {
					n += _n
				}
				return n, fmt.Errorf("struct %q field %v %q: %w",
					sh.name, i, field.name, err)
			}
			if _n != field.siz {
				return n, fmt.Errorf("struct %q field %v %q: consumed %v bytes but should have consumed %v bytes",
					sh.name, i, field.name, _n, field.siz)
			}
			n += _n
		}
		return n, nil
	default:
		panic(&InvalidTypeError{
			Type: _dstPtr.Type(),
			Err: fmt.Errorf("does not implement binstruct.Unmarshaler and kind=%v is not a supported statically-sized kind",
				dst.Kind()),
		})
	}
}

func setUint64(dst reflect.Value, val uint64) {
	switch dst.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		dst.SetInt(int64(val))
	default:
		dst.SetUint(val)
	}
}
