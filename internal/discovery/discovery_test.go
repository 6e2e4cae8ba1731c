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

package discovery_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcaelers/go-dfu-util/internal/discovery"
	"github.com/rcaelers/go-dfu-util/internal/session"
	"github.com/rcaelers/go-dfu-util/internal/usbtransport"
	"github.com/rcaelers/go-dfu-util/internal/usbtransport/usbmock"
)

func TestProbe_FindsDFUInterface(t *testing.T) {
	fd := usbmock.BuildFunctionalDescriptor(0x0d, 1000, 2048, 0x0110)
	cfg := usbmock.BuildConfigDescriptor(1, 0xfe, 0x01, 2, 1, fd)

	dev := &usbmock.Device{
		Desc: usbtransport.DeviceDescriptor{
			Vendor: 0x0483, Product: 0xdf11, NumConfigs: 1, Bus: 1, Address: 5,
		},
		ConfigDescriptors: map[int][]byte{0: cfg},
		Strings:           map[int]string{1: "@Internal Flash/0x08000000/128*1Kg"},
	}
	ctx := &usbmock.Context{Device: dev}

	recs, err := discovery.Probe(ctx, session.NewMatchFilter(), discovery.NewRegistry())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, discovery.DFU, recs[0].Mode)
	assert.Equal(t, "@Internal Flash/0x08000000/128*1Kg", recs[0].AltName)
	assert.EqualValues(t, 2048, recs[0].Functional.TransferSize)
}

func TestProbe_SkipsUnreadableConfigButContinues(t *testing.T) {
	fd := usbmock.BuildFunctionalDescriptor(0x0d, 1000, 2048, 0x0110)
	cfg := usbmock.BuildConfigDescriptor(1, 0xfe, 0x01, 2, 1, fd)

	dev := &usbmock.Device{
		Desc: usbtransport.DeviceDescriptor{
			Vendor: 0x0483, Product: 0xdf11, NumConfigs: 2, Bus: 1, Address: 5,
		},
		// index 0 deliberately absent -- RawConfigDescriptor returns nil,
		// which parseConfigDescriptor rejects; index 1 is good and must
		// still be found.
		ConfigDescriptors: map[int][]byte{1: cfg},
	}
	ctx := &usbmock.Context{Device: dev}

	recs, err := discovery.Probe(ctx, session.NewMatchFilter(), discovery.NewRegistry())
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestProbe_STDfuSeProtocolZeroIsStillDFUMode(t *testing.T) {
	// Real ST DfuSe bootloaders report bInterfaceProtocol 0 instead of 2;
	// bcdDFUVersion 0x011a is what actually marks DFU mode for them.
	fd := usbmock.BuildFunctionalDescriptor(0x0d, 1000, 2048, 0x011a)
	cfg := usbmock.BuildConfigDescriptor(1, 0xfe, 0x01, 0, 1, fd)

	dev := &usbmock.Device{
		Desc: usbtransport.DeviceDescriptor{
			Vendor: 0x0483, Product: 0xdf11, NumConfigs: 1, Bus: 1, Address: 5,
		},
		ConfigDescriptors: map[int][]byte{0: cfg},
		Strings:           map[int]string{1: "@Internal Flash/0x08000000/128*1Kg"},
	}
	ctx := &usbmock.Context{Device: dev}

	recs, err := discovery.Probe(ctx, session.NewMatchFilter(), discovery.NewRegistry())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, discovery.DFU, recs[0].Mode)
}

func TestProbe_LPCBootloaderProtocolOneIsDFUMode(t *testing.T) {
	fd := usbmock.BuildFunctionalDescriptor(0x0d, 1000, 2048, 0x0100)
	cfg := usbmock.BuildConfigDescriptor(1, 0xfe, 0x01, 1, 0, fd)

	dev := &usbmock.Device{
		Desc: usbtransport.DeviceDescriptor{
			Vendor: 0x1fc9, Product: 0x000c, NumConfigs: 1, Bus: 1, Address: 5,
		},
		ConfigDescriptors: map[int][]byte{0: cfg},
	}
	ctx := &usbmock.Context{Device: dev}

	recs, err := discovery.Probe(ctx, session.NewMatchFilter(), discovery.NewRegistry())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, discovery.DFU, recs[0].Mode)
}

func TestProbe_JabraProtocolZeroWithSingleInterfaceIsDFUMode(t *testing.T) {
	fd := usbmock.BuildFunctionalDescriptor(0x0d, 1000, 2048, 0x0100)
	cfg := usbmock.BuildConfigDescriptor(1, 0xfe, 0x01, 0, 0, fd)

	dev := &usbmock.Device{
		Desc: usbtransport.DeviceDescriptor{
			Vendor: 0x0b0e, Product: 0x0001, NumConfigs: 1, Bus: 1, Address: 5,
		},
		ConfigDescriptors: map[int][]byte{0: cfg},
	}
	ctx := &usbmock.Context{Device: dev}

	recs, err := discovery.Probe(ctx, session.NewMatchFilter(), discovery.NewRegistry())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, discovery.DFU, recs[0].Mode)
}

func TestProbe_MatchFilterRejectsWrongVendor(t *testing.T) {
	fd := usbmock.BuildFunctionalDescriptor(0x0d, 1000, 2048, 0x0110)
	cfg := usbmock.BuildConfigDescriptor(1, 0xfe, 0x01, 2, 1, fd)

	dev := &usbmock.Device{
		Desc: usbtransport.DeviceDescriptor{
			Vendor: 0x0483, Product: 0xdf11, NumConfigs: 1, Bus: 1, Address: 5,
		},
		ConfigDescriptors: map[int][]byte{0: cfg},
	}
	ctx := &usbmock.Context{Device: dev}

	filter := session.NewMatchFilter()
	filter.DFUVendor = session.ExactField(0x1234)

	recs, err := discovery.Probe(ctx, filter, discovery.NewRegistry())
	require.NoError(t, err)
	assert.Empty(t, recs)
}
