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

	"github.com/rcaelers/go-dfu-util/internal/clock"
	"github.com/rcaelers/go-dfu-util/internal/dfuproto"
	"github.com/rcaelers/go-dfu-util/internal/usbtransport/usbmock"
)

func TestPollUntilNotBusy_WaitsThroughBusyStates(t *testing.T) {
	dev := &usbmock.Device{
		StatusScript: []usbmock.StatusEntry{
			{State: dfuproto.DfuDnbusy, PollMs: 10},
			{State: dfuproto.DfuDnbusy, PollMs: 5},
			{State: dfuproto.DfuDnloadIdle, PollMs: 0},
		},
	}
	req := dfuproto.New(dev, 0)
	clk := &clock.Mock{}

	status, err := dfuproto.PollUntilNotBusy(req, clk, dfuproto.PollOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint8(dfuproto.DfuDnloadIdle), status.State)
	assert.Equal(t, 3, dev.GetStatusCount())
	assert.Equal(t, []int{1, 10, 5}, clk.Sleeps)
}

func TestPollUntilNotBusy_ZeroPollStuckEventuallyFails(t *testing.T) {
	dev := &usbmock.Device{
		StatusScript: []usbmock.StatusEntry{
			{State: dfuproto.DfuDnbusy, PollMs: 0},
		},
	}
	req := dfuproto.New(dev, 0)
	clk := &clock.Mock{}

	_, err := dfuproto.PollUntilNotBusy(req, clk, dfuproto.PollOptions{})
	require.Error(t, err)
}

func TestPollUntilNotBusy_F405MassEraseLieSubstituted(t *testing.T) {
	dev := &usbmock.Device{
		StatusScript: []usbmock.StatusEntry{
			{State: dfuproto.DfuDnbusy, PollMs: 100},
			{State: dfuproto.DfuDnloadIdle},
		},
	}
	req := dfuproto.New(dev, 0)
	clk := &clock.Mock{}

	_, err := dfuproto.PollUntilNotBusy(req, clk, dfuproto.PollOptions{
		Quirks:      dfuproto.QuirkST_F405MassEraseLie,
		IsMassErase: true,
	})
	require.NoError(t, err)
	require.Len(t, clk.Sleeps, 2)
	assert.Equal(t, 35000, clk.Sleeps[1])
}

func TestAbortToIdle_AbortsWhenDnloadIdle(t *testing.T) {
	dev := &usbmock.Device{
		StatusScript: []usbmock.StatusEntry{
			{State: dfuproto.DfuDnloadIdle},
			{State: dfuproto.DfuIdle},
		},
	}
	req := dfuproto.New(dev, 0)

	err := dfuproto.AbortToIdle(req)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.AbortCount())
}

func TestAbortToIdle_NoOpWhenAlreadyIdle(t *testing.T) {
	dev := &usbmock.Device{
		StatusScript: []usbmock.StatusEntry{{State: dfuproto.DfuIdle}},
	}
	req := dfuproto.New(dev, 0)

	err := dfuproto.AbortToIdle(req)
	require.NoError(t, err)
	assert.Equal(t, 0, dev.AbortCount())
}
