// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers

import (
	"sync"
)

// SyncPool is a typed equivalent of sync.Pool.  The zero value is
// ready to use; if New is nil, Get reports ok=false when the pool is
// empty.
type SyncPool[T any] struct {
	New func() T

	inner sync.Pool
}

func (p *SyncPool[T]) Get() (val T, ok bool) {
	if _val := p.inner.Get(); _val != nil {
		//nolint:forcetypeassert // Typed wrapper around untyped lib.
		return _val.(T), true
	}
	if p.New != nil {
		return p.New(), true
	}
	var zero T
	return zero, false
}

func (p *SyncPool[T]) Put(val T) {
	p.inner.Put(val)
}
