// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bcachefsprim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/bcachefs-progs-ng/lib/bcachefs/bcachefsprim"
)

func TestParseUUID(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		Input       string
		OutputVal   bcachefsprim.UUID
		OutputErr   string
		RoundTripOK bool
	}
	testcases := map[string]TestCase{
		"basic": {
			Input: "a0dd94ed-e60c-42e8-8632-64e8d4765a43",
			OutputVal: bcachefsprim.UUID{
				0xa0, 0xdd, 0x94, 0xed, 0xe6, 0x0c, 0x42, 0xe8,
				0x86, 0x32, 0x64, 0xe8, 0xd4, 0x76, 0x5a, 0x43,
			},
			RoundTripOK: true,
		},
		"too-long": {
			Input:     "a0dd94ed-e60c-42e8-8632-64e8d4765a43a",
			OutputErr: `too long to be a UUID: "a0dd94ed-e60c-42e8-8632-64e8d4765a43"|"a"`,
		},
		"bad-byte": {
			Input:     "a0dd94ed+e60c-42e8-8632-64e8d4765a43",
			OutputErr: `illegal byte in UUID: "a0dd94ed"|"+"|"e60c-42e8-8632-64e8d4765a43"`,
		},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			val, err := bcachefsprim.ParseUUID(tc.Input)
			assert.Equal(t, tc.OutputVal, val)
			if tc.OutputErr == "" {
				require.NoError(t, err)
			} else {
				require.EqualError(t, err, tc.OutputErr)
			}
			if tc.RoundTripOK {
				assert.Equal(t, tc.Input, val.String())
			}
		})
	}
}

func TestUUIDIsZero(t *testing.T) {
	t.Parallel()
	assert.True(t, bcachefsprim.UUID{}.IsZero())
	assert.False(t, bcachefsprim.MustParseUUID("a0dd94ed-e60c-42e8-8632-64e8d4765a43").IsZero())
}
