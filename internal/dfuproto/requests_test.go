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

package dfuproto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcaelers/go-dfu-util/internal/dfuproto"
	"github.com/rcaelers/go-dfu-util/internal/usbtransport"
	"github.com/rcaelers/go-dfu-util/internal/usbtransport/usbmock"
)

func TestDnload_SetsTransactionAsWValue(t *testing.T) {
	dev := &usbmock.Device{}
	req := dfuproto.New(dev, 2)

	require.NoError(t, req.Dnload(7, []byte{1, 2, 3}))

	calls := dev.DnloadCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, uint16(7), calls[0].Setup.Value)
	assert.Equal(t, uint16(2), calls[0].Setup.Index)
	assert.Equal(t, usbtransport.Out, calls[0].Setup.Dir)
}

func TestUpload_ReturnsShortReadOnLastChunk(t *testing.T) {
	dev := &usbmock.Device{UploadChunks: [][]byte{
		{1, 2, 3, 4},
		{5, 6},
	}}
	req := dfuproto.New(dev, 0)

	buf := make([]byte, 4)
	n, err := req.Upload(2, buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = req.Upload(3, buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestGetStatus_DecodesLittleEndianPollTimeout(t *testing.T) {
	dev := &usbmock.Device{StatusScript: []usbmock.StatusEntry{
		{Status: 0, PollMs: 0x030201, State: dfuproto.DfuIdle, IString: 9},
	}}
	req := dfuproto.New(dev, 0)

	st, err := req.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x030201), st.PollTimeout)
	assert.Equal(t, uint8(dfuproto.DfuIdle), st.State)
	assert.Equal(t, uint8(9), st.IString)
}
