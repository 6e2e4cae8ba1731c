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

// Package usbmock is a scripted, in-memory implementation of
// usbtransport.Device/Context for exercising the DFU protocol layers
// without real hardware. A concrete transport hides behind a small
// interface so the protocol code never knows it is talking to a fake.
package usbmock

import (
	"encoding/binary"

	"github.com/rcaelers/go-dfu-util/internal/usbtransport"
)

// StatusEntry is one scripted GETSTATUS response. Once the script is
// exhausted, the last entry repeats indefinitely.
type StatusEntry struct {
	Status  uint8
	PollMs  uint32
	State   uint8
	IString uint8
}

// Call records one Control invocation for assertions in universal-property
// tests (transaction monotonicity, terminator, status discipline, erase
// dedup all read this log).
type Call struct {
	Setup usbtransport.ControlSetup
	Out   []byte // bytes the caller sent (DNLOAD payload, command bytes)
}

const (
	ReqDetach    = 0x00
	ReqDnload    = 0x01
	ReqUpload    = 0x02
	ReqGetStatus = 0x03
	ReqClrStatus = 0x04
	ReqGetState  = 0x05
	ReqAbort     = 0x06
)

// Device is a scripted DFU device.
type Device struct {
	Desc usbtransport.DeviceDescriptor

	// ConfigDescriptors maps configuration index to the raw bytes
	// RawConfigDescriptor should return.
	ConfigDescriptors map[int][]byte

	// Strings maps string descriptor index to its value, already decoded.
	Strings map[int]string

	// SerialIndex is the iSerialNumber index SerialNumber resolves.
	SerialIndex int

	// StatusScript drives successive GETSTATUS replies.
	StatusScript []StatusEntry

	// UploadChunks is served in order by successive UPLOAD requests.
	UploadChunks [][]byte

	// ResetErr, when set, is returned by Reset instead of success.
	ResetErr error

	Calls []Call

	AltSetting  int
	Configured  bool
	closed      bool
	statusIdx   int
	uploadIdx   int
	clrStatuses int
	aborts      int
}

func (d *Device) Descriptor() usbtransport.DeviceDescriptor { return d.Desc }

func (d *Device) RawConfigDescriptor(index int) ([]byte, error) {
	return d.ConfigDescriptors[index], nil
}

func (d *Device) ClaimInterface(configValue, ifaceNum, altSetting int) error {
	d.Configured = true
	d.AltSetting = altSetting
	return nil
}

func (d *Device) ReleaseInterface(ifaceNum int) error { return nil }

func (d *Device) SetAltSetting(ifaceNum, altSetting int) error {
	d.AltSetting = altSetting
	return nil
}

func (d *Device) Reset() error { return d.ResetErr }

func (d *Device) StringDescriptor(idx int, utf8 bool) (string, error) {
	return d.Strings[idx], nil
}

// SerialIndex, when non-zero, is looked up in Strings by SerialNumber --
// mirroring the real adapter reading iSerialNumber off the device
// descriptor before resolving it as a string descriptor.
func (d *Device) SerialNumber(utf8 bool) (string, error) {
	if d.SerialIndex == 0 {
		return "", nil
	}
	return d.Strings[d.SerialIndex], nil
}

func (d *Device) Close() error {
	d.closed = true
	return nil
}

// Closed reports whether Close was called, for teardown assertions.
func (d *Device) Closed() bool { return d.closed }

// AbortCount reports how many ABORT requests were issued.
func (d *Device) AbortCount() int { return d.aborts }

// ClrStatusCount reports how many CLRSTATUS requests were issued.
func (d *Device) ClrStatusCount() int { return d.clrStatuses }

func (d *Device) currentStatus() StatusEntry {
	if len(d.StatusScript) == 0 {
		return StatusEntry{}
	}
	if d.statusIdx >= len(d.StatusScript) {
		return d.StatusScript[len(d.StatusScript)-1]
	}
	return d.StatusScript[d.statusIdx]
}

func (d *Device) Control(setup usbtransport.ControlSetup, data []byte) (int, error) {
	out := append([]byte(nil), data...)
	if setup.Dir == usbtransport.In {
		out = nil
	}
	d.Calls = append(d.Calls, Call{Setup: setup, Out: out})

	if setup.Class != usbtransport.ClassDFU {
		return 0, nil
	}

	switch setup.Request {
	case ReqGetStatus:
		s := d.currentStatus()
		if d.statusIdx < len(d.StatusScript) {
			d.statusIdx++
		}
		if len(data) < 6 {
			return 0, nil
		}
		data[0] = s.Status
		data[1] = byte(s.PollMs)
		data[2] = byte(s.PollMs >> 8)
		data[3] = byte(s.PollMs >> 16)
		data[4] = s.State
		data[5] = s.IString
		return 6, nil
	case ReqClrStatus:
		d.clrStatuses++
		return 0, nil
	case ReqAbort:
		d.aborts++
		return 0, nil
	case ReqUpload:
		if d.uploadIdx >= len(d.UploadChunks) {
			return 0, nil
		}
		chunk := d.UploadChunks[d.uploadIdx]
		d.uploadIdx++
		n := copy(data, chunk)
		return n, nil
	case ReqDnload, ReqDetach, ReqGetState:
		return len(data), nil
	}
	return 0, nil
}

// DnloadCalls filters Calls down to DNLOAD requests in issue order.
func (d *Device) DnloadCalls() []Call {
	var out []Call
	for _, c := range d.Calls {
		if c.Setup.Class == usbtransport.ClassDFU && c.Setup.Request == ReqDnload {
			out = append(out, c)
		}
	}
	return out
}

// GetStatusCount returns how many GETSTATUS requests were issued.
func (d *Device) GetStatusCount() int {
	n := 0
	for _, c := range d.Calls {
		if c.Setup.Class == usbtransport.ClassDFU && c.Setup.Request == ReqGetStatus {
			n++
		}
	}
	return n
}

// Context is a fixed single-device mock context.
type Context struct {
	Device *Device
}

func (c *Context) Devices() ([]usbtransport.DeviceDescriptor, error) {
	return []usbtransport.DeviceDescriptor{c.Device.Desc}, nil
}

func (c *Context) Open(d usbtransport.DeviceDescriptor) (usbtransport.Device, error) {
	return c.Device, nil
}

func (c *Context) Close() error { return nil }

// BuildConfigDescriptor assembles a minimal configuration descriptor with a
// single interface/alt-setting and, if dfuFunctional is non-nil, that DFU
// functional descriptor appended as the interface's "extra" bytes -- the
// same shape internal/discovery's scanner walks.
func BuildConfigDescriptor(numInterfaces int, ifaceClass, ifaceSubClass, ifaceProtocol byte, altName int, dfuFunctional []byte) []byte {
	var buf []byte
	cfg := make([]byte, 9)
	cfg[0] = 9
	cfg[1] = 2 // CONFIGURATION
	cfg[4] = byte(numInterfaces)
	cfg[5] = 1 // bConfigurationValue
	buf = append(buf, cfg...)

	iface := make([]byte, 9)
	iface[0] = 9
	iface[1] = 4 // INTERFACE
	iface[2] = 0 // bInterfaceNumber
	iface[3] = 0 // bAlternateSetting
	iface[5] = ifaceClass
	iface[6] = ifaceSubClass
	iface[7] = ifaceProtocol
	iface[8] = byte(altName)
	buf = append(buf, iface...)

	if dfuFunctional != nil {
		buf = append(buf, dfuFunctional...)
	}

	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(buf)))
	return buf
}

// BuildFunctionalDescriptor builds the 9-byte DFU functional descriptor.
func BuildFunctionalDescriptor(attributes byte, detachTimeout, transferSize uint16, bcdDFU uint16) []byte {
	b := make([]byte, 9)
	b[0] = 9
	b[1] = 0x21
	b[2] = attributes
	binary.LittleEndian.PutUint16(b[3:5], detachTimeout)
	binary.LittleEndian.PutUint16(b[5:7], transferSize)
	binary.LittleEndian.PutUint16(b[7:9], bcdDFU)
	return b
}
