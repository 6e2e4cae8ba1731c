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

package dfuse_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcaelers/go-dfu-util/internal/clock"
	"github.com/rcaelers/go-dfu-util/internal/dfuproto"
	"github.com/rcaelers/go-dfu-util/internal/dfuse"
	"github.com/rcaelers/go-dfu-util/internal/usbtransport/usbmock"
)

// S3: raw download, address=0x08000000, size=1024, page=1024, xfer=256.
func TestDownloadElement_OneErasePageFourWriteChunks(t *testing.T) {
	dev := &usbmock.Device{
		StatusScript: []usbmock.StatusEntry{{State: dfuproto.DfuDnloadIdle}},
	}
	req := dfuproto.New(dev, 0)
	clk := &clock.Mock{}
	cmd := dfuse.NewCommander(req, clk, 0)

	layout := dfuse.Layout{Segments: []dfuse.Segment{
		{Start: 0x08000000, End: 0x08000400, PageSize: 1024, Flags: dfuse.Erasable | dfuse.Writeable},
	}}
	el := dfuse.Element{Address: 0x08000000, Data: make([]byte, 1024)}

	var lastErased uint32 = 0xffffffff
	err := dfuse.DownloadElement(cmd, layout, el, 256, dfuse.DownloadOptions{}, &lastErased, nil)
	require.NoError(t, err)

	dn := dev.DnloadCalls()
	var eraseCount, setAddrCount, writeCount int
	for _, c := range dn {
		if c.Setup.Value != 0 {
			writeCount++
			continue
		}
		if len(c.Out) == 5 && c.Out[0] == 0x41 {
			eraseCount++
		} else if len(c.Out) == 5 && c.Out[0] == 0x21 {
			setAddrCount++
		}
	}
	assert.Equal(t, 1, eraseCount, "exactly one page covers the whole 1024-byte element")
	assert.Equal(t, 4, setAddrCount)
	assert.Equal(t, 4, writeCount)
}

func TestErase_DedupesAcrossElements(t *testing.T) {
	dev := &usbmock.Device{
		StatusScript: []usbmock.StatusEntry{{State: dfuproto.DfuDnloadIdle}},
	}
	req := dfuproto.New(dev, 0)
	clk := &clock.Mock{}
	cmd := dfuse.NewCommander(req, clk, 0)

	layout := dfuse.Layout{Segments: []dfuse.Segment{
		{Start: 0x08000000, End: 0x08000400, PageSize: 1024, Flags: dfuse.Erasable | dfuse.Writeable},
		{Start: 0x08000400, End: 0x08000800, PageSize: 1024, Flags: dfuse.Erasable | dfuse.Writeable},
	}}

	var lastErased uint32 = 0xffffffff
	require.NoError(t, dfuse.Erase(cmd, layout, dfuse.Element{Address: 0x08000000, Data: make([]byte, 1024)}, 256, dfuse.DownloadOptions{}, &lastErased))
	require.NoError(t, dfuse.Erase(cmd, layout, dfuse.Element{Address: 0x08000000, Data: make([]byte, 1024)}, 256, dfuse.DownloadOptions{}, &lastErased))
	require.NoError(t, dfuse.Erase(cmd, layout, dfuse.Element{Address: 0x08000400, Data: make([]byte, 1024)}, 256, dfuse.DownloadOptions{}, &lastErased))

	eraseCount := 0
	for _, c := range dev.DnloadCalls() {
		if c.Setup.Value == 0 && len(c.Out) == 5 && c.Out[0] == 0x41 {
			eraseCount++
		}
	}
	assert.Equal(t, 2, eraseCount, "repeating the same page, then moving to a new one, erases each page once")
}
