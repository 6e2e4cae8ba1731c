// Copyright (C) 2018 Rob Caelers <rob.caelers@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package dfufile_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcaelers/go-dfu-util/internal/dfufile"
)

func TestAppendSplitRoundTrip(t *testing.T) {
	body := []byte("firmware bytes go here")
	full := dfufile.Append(body, 0x0483, 0xdf11, 0x0200)

	gotBody, suffix, ok, err := dfufile.Split(full)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, body, gotBody)
	assert.Equal(t, uint16(0x0483), suffix.IdVendor)
	assert.Equal(t, uint16(0xdf11), suffix.IdProduct)
	assert.Equal(t, uint16(0x0200), suffix.BcdDevice)
}

func TestSplit_NoSuffixIsNotAnError(t *testing.T) {
	raw := []byte("just raw firmware, no suffix here at all")
	body, _, ok, err := dfufile.Split(raw)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, raw, body)
}

func TestSplit_RejectsBadCRC(t *testing.T) {
	full := dfufile.Append([]byte("firmware"), 1, 2, 3)
	full[0] ^= 0xff // corrupt a body byte so the trailing CRC no longer matches

	_, _, _, err := dfufile.Split(full)
	require.Error(t, err)
}
