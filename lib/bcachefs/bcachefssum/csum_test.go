// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bcachefssum_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefssum"
)

func TestCSumFormat(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		InputSum bcachefssum.CSum
		InputFmt string
		Output   string
	}
	csum := bcachefssum.CSum{0xbd, 0x7b, 0x41, 0xf4}
	testcases := map[string]TestCase{
		"s":   {InputSum: csum, InputFmt: "%s", Output: "bd7b41f4000000000000000000000000"},
		"x":   {InputSum: csum, InputFmt: "%x", Output: "bd7b41f4000000000000000000000000"},
		"v":   {InputSum: csum, InputFmt: "%v", Output: "bd7b41f4000000000000000000000000"},
		"70s": {InputSum: csum, InputFmt: "|% 70s", Output: "|                                      bd7b41f4000000000000000000000000"},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			actual := fmt.Sprintf(tc.InputFmt, tc.InputSum)
			assert.Equal(t, tc.Output, actual)
		})
	}
}

func TestSum(t *testing.T) {
	t.Parallel()

	dat := []byte("hello, world!")

	sum, err := bcachefssum.TYPE_NONE.Sum(dat)
	require.NoError(t, err)
	assert.Equal(t, bcachefssum.CSum{}, sum)

	sum, err = bcachefssum.TYPE_CRC32C.Sum(dat)
	require.NoError(t, err)
	assert.NotEqual(t, bcachefssum.CSum{}, sum)
	assert.Equal(t, make([]byte, 12), sum[4:])

	sum2, err := bcachefssum.TYPE_CRC64.Sum(dat)
	require.NoError(t, err)
	assert.NotEqual(t, sum, sum2)

	_, err = bcachefssum.TYPE_NR.Sum(dat)
	require.EqualError(t, err, "unknown checksum type: 3")

	assert.Equal(t, "bd7b41f4", bcachefssum.CSum{0xbd, 0x7b, 0x41, 0xf4}.Fmt(bcachefssum.TYPE_CRC32C))
}
