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

package orchestrator_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcaelers/go-dfu-util/internal/clock"
	"github.com/rcaelers/go-dfu-util/internal/dfufile"
	"github.com/rcaelers/go-dfu-util/internal/dfuproto"
	"github.com/rcaelers/go-dfu-util/internal/discovery"
	"github.com/rcaelers/go-dfu-util/internal/orchestrator"
	"github.com/rcaelers/go-dfu-util/internal/session"
	"github.com/rcaelers/go-dfu-util/internal/usbtransport"
	"github.com/rcaelers/go-dfu-util/internal/usbtransport/usbmock"
)

func plainDfuDevice() *usbmock.Device {
	functional := usbmock.BuildFunctionalDescriptor(0x0f, 255, 64, 0x0110)
	cfg := usbmock.BuildConfigDescriptor(1, 0xfe, 0x01, 2, 0, functional)
	return &usbmock.Device{
		Desc: usbtransport.DeviceDescriptor{
			Vendor: 0x1234, Product: 0x5678, BcdDevice: 0x0100,
			NumConfigs: 1, Bus: 1, Address: 5,
		},
		ConfigDescriptors: map[int][]byte{0: cfg},
		StatusScript:      []usbmock.StatusEntry{{State: dfuproto.DfuIdle}, {State: dfuproto.DfuIdle}, {State: dfuproto.DfuDnloadIdle}},
	}
}

func TestRun_DownloadsPlainFirmware(t *testing.T) {
	dev := plainDfuDevice()
	ctx := &usbmock.Context{Device: dev}

	dir := t.TempDir()
	path := filepath.Join(dir, "fw.bin")
	body := bytes.Repeat([]byte{0xaa}, 130)
	full := dfufile.Append(body, dev.Desc.Vendor, dev.Desc.Product, dev.Desc.BcdDevice)
	require.NoError(t, os.WriteFile(path, full, 0o644))

	cfg := session.Config{
		Filter:       session.NewMatchFilter(),
		Mode:         session.ModeDownload,
		DownloadFile: path,
	}

	clk := &clock.Mock{}
	quirks := discovery.NewRegistry()
	err := orchestrator.Run(ctx, cfg, clk, quirks, &bytes.Buffer{}, nil)
	require.NoError(t, err)

	assert.True(t, dev.Closed())
	assert.NotEmpty(t, dev.DnloadCalls())
	// A 130-byte body split at the 64-byte advertised transfer size is 3
	// data chunks (64/64/2) plus the zero-length terminator.
	assert.Len(t, dev.DnloadCalls(), 4)
}

func TestRun_UploadsPlainFirmwareWithSuffix(t *testing.T) {
	dev := plainDfuDevice()
	dev.UploadChunks = [][]byte{bytes.Repeat([]byte{0x11}, 64), bytes.Repeat([]byte{0x22}, 10)}
	ctx := &usbmock.Context{Device: dev}

	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	cfg := session.Config{
		Filter:     session.NewMatchFilter(),
		Mode:       session.ModeUpload,
		UploadFile: path,
	}

	clk := &clock.Mock{}
	quirks := discovery.NewRegistry()
	require.NoError(t, orchestrator.Run(ctx, cfg, clk, quirks, &bytes.Buffer{}, nil))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	body, suffix, ok, err := dfufile.Split(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, dev.Desc.Vendor, suffix.IdVendor)
	assert.Len(t, body, 74)
}

func TestRun_ListModeReportsEveryMatch(t *testing.T) {
	dev := plainDfuDevice()
	ctx := &usbmock.Context{Device: dev}

	cfg := session.Config{Filter: session.NewMatchFilter(), Mode: session.ModeList}
	var out bytes.Buffer
	clk := &clock.Mock{}
	quirks := discovery.NewRegistry()
	require.NoError(t, orchestrator.Run(ctx, cfg, clk, quirks, &out, nil))

	assert.Contains(t, out.String(), "1234:5678")
	assert.False(t, dev.Closed(), "list mode never claims or closes the device")
}

func TestRun_RuntimeModeWithoutDetachFlagIsUsageError(t *testing.T) {
	functional := usbmock.BuildFunctionalDescriptor(0x0f, 255, 64, 0x0110)
	cfg := usbmock.BuildConfigDescriptor(1, 0xfe, 0x01, 1, 0, functional) // DFU interface, protocol 1: runtime mode
	dev := &usbmock.Device{
		Desc:              usbtransport.DeviceDescriptor{Vendor: 0x1234, Product: 0x5678, NumConfigs: 1},
		ConfigDescriptors: map[int][]byte{0: cfg},
	}
	ctx := &usbmock.Context{Device: dev}

	runCfg := session.Config{Filter: session.NewMatchFilter(), Mode: session.ModeDownload, DownloadFile: "unused"}
	clk := &clock.Mock{}
	quirks := discovery.NewRegistry()
	err := orchestrator.Run(ctx, runCfg, clk, quirks, &bytes.Buffer{}, nil)
	require.Error(t, err)
}
