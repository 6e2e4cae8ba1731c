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

package transfer_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcaelers/go-dfu-util/internal/clock"
	"github.com/rcaelers/go-dfu-util/internal/dfuproto"
	"github.com/rcaelers/go-dfu-util/internal/transfer"
	"github.com/rcaelers/go-dfu-util/internal/usbtransport"
	"github.com/rcaelers/go-dfu-util/internal/usbtransport/usbmock"
)

// S1: plain download of 300 bytes with a 128-byte transfer size.
func TestDownload_ChunksAndTerminates(t *testing.T) {
	dev := &usbmock.Device{
		StatusScript: []usbmock.StatusEntry{{State: dfuproto.DfuDnloadIdle}},
	}
	req := dfuproto.New(dev, 0)
	clk := &clock.Mock{}

	data := bytes.Repeat([]byte{0xaa}, 300)
	err := transfer.Download(req, clk, bytes.NewReader(data), int64(len(data)), 128, 0, true, nil)
	require.NoError(t, err)

	calls := dev.DnloadCalls()
	require.Len(t, calls, 4)
	assert.Equal(t, uint16(0), calls[0].Setup.Value)
	assert.Len(t, calls[0].Out, 128)
	assert.Equal(t, uint16(1), calls[1].Setup.Value)
	assert.Len(t, calls[1].Out, 128)
	assert.Equal(t, uint16(2), calls[2].Setup.Value)
	assert.Len(t, calls[2].Out, 44)
	assert.Equal(t, uint16(3), calls[3].Setup.Value)
	assert.Len(t, calls[3].Out, 0)

	assert.Equal(t, 4, dev.GetStatusCount())
}

// S2: plain upload where the device returns 200, 200, 73 bytes.
func TestUpload_StopsOnShortRead(t *testing.T) {
	dev := &usbmock.Device{
		UploadChunks: [][]byte{
			bytes.Repeat([]byte{1}, 200),
			bytes.Repeat([]byte{2}, 200),
			bytes.Repeat([]byte{3}, 73),
		},
	}
	req := dfuproto.New(dev, 0)

	var out bytes.Buffer
	err := transfer.Upload(req, &out, 200, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 473, out.Len())
	assert.Equal(t, 0, dev.AbortCount())
}

func TestDownload_RejectsErrorAfterManifestation(t *testing.T) {
	dev := &usbmock.Device{
		StatusScript: []usbmock.StatusEntry{{State: dfuproto.DfuError, Status: 5}},
	}
	req := dfuproto.New(dev, 0)
	clk := &clock.Mock{}

	err := transfer.Download(req, clk, bytes.NewReader([]byte{1, 2, 3}), 3, 128, 0, true, nil)
	require.Error(t, err)
}

// A non-manifestation-tolerant device gets no GETSTATUS after the
// terminator DNLOAD; manifestation is treated as successful outright.
func TestDownload_SkipsPollWhenNotManifestationTolerant(t *testing.T) {
	dev := &usbmock.Device{
		StatusScript: []usbmock.StatusEntry{{State: dfuproto.DfuDnloadIdle}},
	}
	req := dfuproto.New(dev, 0)
	clk := &clock.Mock{}

	data := bytes.Repeat([]byte{0xaa}, 50)
	err := transfer.Download(req, clk, bytes.NewReader(data), int64(len(data)), 128, 0, false, nil)
	require.NoError(t, err)

	calls := dev.DnloadCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, uint16(1), calls[1].Setup.Value)
	assert.Len(t, calls[1].Out, 0)
	assert.Equal(t, 1, dev.GetStatusCount())
}

var _ usbtransport.Device = (*usbmock.Device)(nil)
