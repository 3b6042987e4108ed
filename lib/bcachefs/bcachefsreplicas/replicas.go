// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package bcachefsreplicas implements the replicas tracking table: a
// compact record of which sets of devices hold which classes of data.
//
// On disk an entry is a data type byte, a device count byte, and that
// many device index bytes; in memory the table is a flat array of
// fixed-size entries (a data type byte followed by a device bitmap),
// kept sorted so that membership is a binary search over memcmp-style
// comparisons.
package bcachefsreplicas

import (
	"bytes"
	"fmt"
	"sort"
)

type DataType uint8

const (
	DATA_NONE = DataType(iota)
	DATA_JOURNAL
	DATA_BTREE
	DATA_USER
	DATA_CACHED
	DATA_NR
)

func (typ DataType) String() string {
	names := map[DataType]string{
		DATA_NONE:    "none",
		DATA_JOURNAL: "journal",
		DATA_BTREE:   "btree",
		DATA_USER:    "user",
		DATA_CACHED:  "cached",
	}
	if name, ok := names[typ]; ok {
		return name
	}
	return fmt.Sprintf("%d", typ)
}

// Entry is one replicas entry in its parsed form.  Devs is in on-disk
// order, which is not necessarily sorted.
type Entry struct {
	DataType DataType
	Devs     []uint8
}

func (e Entry) String() string {
	return fmt.Sprintf("%v: %v", e.DataType, e.Devs)
}

// ParseEntries parses the variable-length entry list from the payload
// of a replicas field.  The list is terminated by a zero data type
// byte (or the end of the payload).
func ParseEntries(payload []byte) ([]Entry, error) {
	var ret []Entry
	for len(payload) > 0 && DataType(payload[0]) != DATA_NONE {
		if len(payload) < 2 {
			return nil, fmt.Errorf("replicas entry extends past end of field")
		}
		nr := int(payload[1])
		if len(payload) < 2+nr {
			return nil, fmt.Errorf("replicas entry extends past end of field")
		}
		ret = append(ret, Entry{
			DataType: DataType(payload[0]),
			Devs:     append([]uint8(nil), payload[2:2+nr]...),
		})
		payload = payload[2+nr:]
	}
	return ret, nil
}

// EntriesBytes is the inverse of ParseEntries.  It does not append a
// terminator; zero padding up to the field boundary serves as one.
func EntriesBytes(entries []Entry) []byte {
	var ret []byte
	for _, e := range entries {
		ret = append(ret, uint8(e.DataType), uint8(len(e.Devs)))
		ret = append(ret, e.Devs...)
	}
	return ret
}

// Table is the in-memory form of the replicas list.  It is immutable
// once built; operations that would modify it return a new Table.
type Table struct {
	entrySize int
	dat       []byte
}

// FromEntries builds a sorted Table.  Duplicate entries (after
// normalization to the bitmap form) are preserved, so that a caller
// may detect them as adjacent equal entries.
func FromEntries(entries []Entry) *Table {
	maxDev := -1
	for _, e := range entries {
		for _, dev := range e.Devs {
			if int(dev) > maxDev {
				maxDev = int(dev)
			}
		}
	}
	t := &Table{
		entrySize: 1 + (maxDev+8)/8,
	}
	t.dat = make([]byte, len(entries)*t.entrySize)
	for i, e := range entries {
		if !t.encode(t.entry(i), e) {
			panic(fmt.Errorf("should not happen: device out of range: %v", e))
		}
	}
	sort.Sort(tableSort{t})
	return t
}

func (t *Table) NR() int {
	if t.entrySize == 0 {
		return 0
	}
	return len(t.dat) / t.entrySize
}

// DevSlots is the number of device indexes representable by this
// table's entry size.
func (t *Table) DevSlots() int {
	return (t.entrySize - 1) * 8
}

func (t *Table) entry(i int) []byte {
	return t.dat[i*t.entrySize : (i+1)*t.entrySize]
}

func (t *Table) encode(dst []byte, e Entry) bool {
	dst[0] = uint8(e.DataType)
	for _, dev := range e.Devs {
		if int(dev) >= t.DevSlots() {
			return false
		}
		dst[1+dev/8] |= 1 << (dev % 8)
	}
	return true
}

// At returns entry i in parsed form, with Devs sorted ascending.
func (t *Table) At(i int) Entry {
	raw := t.entry(i)
	ret := Entry{DataType: DataType(raw[0])}
	for dev := 0; dev < t.DevSlots(); dev++ {
		if raw[1+dev/8]&(1<<(dev%8)) != 0 {
			ret.Devs = append(ret.Devs, uint8(dev))
		}
	}
	return ret
}

func (t *Table) Entries() []Entry {
	ret := make([]Entry, t.NR())
	for i := range ret {
		ret[i] = t.At(i)
	}
	return ret
}

// Has reports whether the table contains an entry equal to e after
// normalization; the order of e.Devs does not matter.
func (t *Table) Has(e Entry) bool {
	if t == nil || t.entrySize == 0 {
		return false
	}
	key := make([]byte, t.entrySize)
	tmp := &Table{entrySize: t.entrySize}
	if !tmp.encode(key, e) {
		return false
	}
	i := sort.Search(t.NR(), func(i int) bool {
		return bytes.Compare(t.entry(i), key) >= 0
	})
	return i < t.NR() && bytes.Equal(t.entry(i), key)
}

// WithEntry returns a table that additionally contains e, growing the
// entry size if e references a device beyond the current slots.  If e
// is already present the receiver is returned unchanged.
func (t *Table) WithEntry(e Entry) *Table {
	if t.Has(e) {
		return t
	}
	return FromEntries(append(t.Entries(), e))
}

// Filter returns a table containing only the entries whose data type
// passes keep.
func (t *Table) Filter(keep func(DataType) bool) *Table {
	var entries []Entry
	for _, e := range t.Entries() {
		if keep(e.DataType) {
			entries = append(entries, e)
		}
	}
	return FromEntries(entries)
}

// HasAdjacentDups reports whether the table contains two entries that
// normalize to the same bitmap; FromEntries sorts, so any duplicates
// are adjacent.
func (t *Table) HasAdjacentDups() bool {
	for i := 1; i < t.NR(); i++ {
		if bytes.Equal(t.entry(i-1), t.entry(i)) {
			return true
		}
	}
	return false
}

type tableSort struct {
	*Table
}

func (t tableSort) Len() int { return t.NR() }
func (t tableSort) Less(i, j int) bool {
	return bytes.Compare(t.entry(i), t.entry(j)) < 0
}

func (t tableSort) Swap(i, j int) {
	tmp := make([]byte, t.entrySize)
	copy(tmp, t.entry(i))
	copy(t.entry(i), t.entry(j))
	copy(t.entry(j), tmp)
}
