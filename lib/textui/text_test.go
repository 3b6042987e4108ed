// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"git.lukeshu.com/bcachefs-progs-ng/lib/textui"
)

func TestFprintf(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "12,345", textui.Sprintf("%d", 12345))
}

func TestPortion(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "100% (0/0)", textui.Portion[int]{}.String())
	assert.Equal(t, "0% (1/12,345)", textui.Portion[int]{N: 1, D: 12345}.String())
}

func TestIEC(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "1,023B", textui.IEC(1023, "B"))
	assert.Equal(t, "4.0KiB", textui.IEC(4096, "B"))
	assert.Equal(t, "3.5KiB", textui.IEC(3584, "B"))
}
