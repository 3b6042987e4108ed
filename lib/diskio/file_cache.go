// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import (
	"errors"
	"io"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// NewCachedFile wraps a File with a read-through block cache,
// caching up to cacheSize blocks of blockSize bytes each.  Writes go
// straight through and invalidate the covered blocks.
func NewCachedFile[A ~int64](inner File[A], blockSize A, cacheSize int) File[A] {
	cache, err := lru.NewARC(cacheSize)
	if err != nil {
		panic(err)
	}
	return &cachedFile[A]{
		inner:     inner,
		blockSize: blockSize,
		cache:     cache,
	}
}

type cachedFile[A ~int64] struct {
	mu        sync.Mutex
	inner     File[A]
	blockSize A
	cache     *lru.ARCCache
}

var _ File[assertAddr] = (*cachedFile[assertAddr])(nil)

func (f *cachedFile[A]) Name() string { return f.inner.Name() }
func (f *cachedFile[A]) Size() A      { return f.inner.Size() }

func (f *cachedFile[A]) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache.Purge()
	return f.inner.Close()
}

func (f *cachedFile[A]) readBlock(blockAddr A) ([]byte, error) {
	if cached, ok := f.cache.Get(blockAddr); ok {
		//nolint:forcetypeassert // Typed wrapper around untyped lib.
		return cached.([]byte), nil
	}
	dat := make([]byte, f.blockSize)
	n, err := f.inner.ReadAt(dat, blockAddr)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	// a short final block reads as zero-padded
	for i := n; i < len(dat); i++ {
		dat[i] = 0
	}
	f.cache.Add(blockAddr, dat)
	return dat, nil
}

func (f *cachedFile[A]) ReadAt(dat []byte, off A) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	done := 0
	for done < len(dat) {
		blockAddr := (off + A(done)) - ((off + A(done)) % f.blockSize)
		block, err := f.readBlock(blockAddr)
		if err != nil {
			return done, err
		}
		done += copy(dat[done:], block[(off+A(done))-blockAddr:])
	}
	return done, nil
}

func (f *cachedFile[A]) WriteAt(dat []byte, off A) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.inner.WriteAt(dat, off)
	begBlock := off - (off % f.blockSize)
	endBlock := off + A(n)
	for blockAddr := begBlock; blockAddr <= endBlock; blockAddr += f.blockSize {
		f.cache.Remove(blockAddr)
	}
	return n, err
}
