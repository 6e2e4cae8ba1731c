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

package usbtransport

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"

	"github.com/google/gousb"
	"github.com/pkg/errors"
)

const (
	reqGetDescriptor = 0x06
	reqSetInterface  = 0x0b

	descTypeDevice        = 1
	descTypeConfiguration = 2
	descTypeString        = 3
)

type gousbContext struct {
	ctx *gousb.Context
}

// NewContext opens a libusb context via google/gousb, the real USB library
// this transport adapter is built on.
func NewContext() Context {
	return &gousbContext{ctx: gousb.NewContext()}
}

func (c *gousbContext) Devices() ([]DeviceDescriptor, error) {
	var out []DeviceDescriptor
	devs, err := c.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		out = append(out, descFromGousb(desc))
		return false // never keep any open here; this is enumeration only
	})
	for _, d := range devs {
		_ = d.Close()
	}
	if err != nil {
		return out, classify("enumerate devices", err)
	}
	return out, nil
}

func (c *gousbContext) Open(target DeviceDescriptor) (Device, error) {
	devs, err := c.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == target.Bus && desc.Address == target.Address
	})
	if err != nil {
		return nil, classify("open device", err)
	}
	if len(devs) == 0 {
		return nil, &TransportError{Kind: ErrNotFound, Op: "open device"}
	}
	devs[0].ControlTimeout = ControlTimeout
	return &gousbDevice{dev: devs[0], desc: target}, nil
}

func (c *gousbContext) Close() error {
	return c.ctx.Close()
}

func descFromGousb(desc *gousb.DeviceDesc) DeviceDescriptor {
	d := DeviceDescriptor{
		Vendor:         uint16(desc.Vendor),
		Product:        uint16(desc.Product),
		BcdDevice:      uint16(desc.Device),
		DeviceClass:    uint8(desc.Class),
		DeviceSubClass: uint8(desc.SubClass),
		DeviceProtocol: uint8(desc.Protocol),
		MaxPacketSize0: uint8(desc.MaxControlPacketSize),
		NumConfigs:     uint8(len(desc.Configs)),
		Bus:            desc.Bus,
		Address:        desc.Address,
		Port:           append([]int(nil), desc.Path...),
	}
	return d
}

type gousbDevice struct {
	dev  *gousb.Device
	desc DeviceDescriptor

	config *gousb.Config
	iface  *gousb.Interface
}

func (d *gousbDevice) Descriptor() DeviceDescriptor { return d.desc }

// RawConfigDescriptor fetches the configuration descriptor directly with a
// standard control transfer, bypassing gousb's own parsed Config model,
// since that model drops the class-specific "extra" bytes the DFU
// functional descriptor lives in.
func (d *gousbDevice) RawConfigDescriptor(index int) ([]byte, error) {
	hdr := make([]byte, 9)
	n, err := d.dev.Control(
		0x80, reqGetDescriptor, uint16(descTypeConfiguration)<<8|uint16(index), 0, hdr)
	if err != nil {
		return nil, classify("get configuration descriptor header", err)
	}
	if n < 4 {
		return nil, &TransportError{Kind: ErrIO, Op: "get configuration descriptor header", Err: errors.New("short read")}
	}
	total := binary.LittleEndian.Uint16(hdr[2:4])
	if total < 9 {
		total = 9
	}
	buf := make([]byte, total)
	n, err = d.dev.Control(
		0x80, reqGetDescriptor, uint16(descTypeConfiguration)<<8|uint16(index), 0, buf)
	if err != nil {
		return nil, classify("get configuration descriptor", err)
	}
	return buf[:n], nil
}

func (d *gousbDevice) Control(setup ControlSetup, data []byte) (int, error) {
	rType := byte(0)
	if setup.Dir == In {
		rType |= 0x80
	}
	if setup.Class == ClassDFU {
		rType |= 0x20
	}
	switch setup.Recipient {
	case RecipientInterface:
		rType |= 0x01
	case RecipientEndpoint:
		rType |= 0x02
	case RecipientOther:
		rType |= 0x03
	}
	n, err := d.dev.Control(rType, setup.Request, setup.Value, setup.Index, data)
	if err != nil {
		return n, classify("control transfer", err)
	}
	return n, nil
}

func (d *gousbDevice) ClaimInterface(configValue, ifaceNum, altSetting int) error {
	if d.config == nil || d.config.Desc.Number != configValue {
		if d.config != nil {
			d.config.Close()
			d.config = nil
		}
		cfg, err := d.dev.Config(configValue)
		if err != nil {
			return classify("set configuration", err)
		}
		d.config = cfg
	}
	iface, err := d.config.Interface(ifaceNum, altSetting)
	if err != nil {
		return classify("claim interface", err)
	}
	d.iface = iface
	return nil
}

func (d *gousbDevice) ReleaseInterface(ifaceNum int) error {
	if d.iface != nil {
		d.iface.Close()
		d.iface = nil
	}
	return nil
}

// SetAltSetting issues a raw standard SET_INTERFACE transfer: switching
// alt-setting on an interface gousb already claimed is not exposed as a
// dedicated call, so this reaches past Interface and talks to the device
// directly, the same way the config-descriptor fetch does.
func (d *gousbDevice) SetAltSetting(ifaceNum, altSetting int) error {
	_, err := d.dev.Control(0x01, reqSetInterface, uint16(altSetting), uint16(ifaceNum), nil)
	if err != nil {
		return classify("set alt setting", err)
	}
	return nil
}

func (d *gousbDevice) Reset() error {
	if err := d.dev.Reset(); err != nil {
		return classify("bus reset", err)
	}
	return nil
}

func (d *gousbDevice) StringDescriptor(idx int, utf8 bool) (string, error) {
	if idx == 0 {
		return "", nil
	}
	buf := make([]byte, 255)
	n, err := d.dev.Control(0x80, reqGetDescriptor, uint16(descTypeString)<<8|uint16(idx), 0x0409, buf)
	if err != nil {
		return "", classify("get string descriptor", err)
	}
	if n < 2 {
		return "", &TransportError{Kind: ErrIO, Op: "get string descriptor", Err: errors.New("short read")}
	}
	body := buf[2:n]
	if utf8 {
		return string(bytes.TrimRight(body, "\x00")), nil
	}
	if len(body)%2 != 0 {
		body = body[:len(body)-1]
	}
	units := make([]uint16, len(body)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(body[i*2:])
	}
	runes := utf16.Decode(units)
	out := make([]rune, len(runes))
	for i, r := range runes {
		if r == 0 || r > 0x7f {
			out[i] = '?'
		} else {
			out[i] = r
		}
	}
	return string(out), nil
}

// SerialNumber fetches the raw 18-byte device descriptor to read
// iSerialNumber (offset 16), then resolves it the same way any other
// string descriptor is resolved.
func (d *gousbDevice) SerialNumber(utf8 bool) (string, error) {
	buf := make([]byte, 18)
	n, err := d.dev.Control(0x80, reqGetDescriptor, uint16(descTypeDevice)<<8, 0, buf)
	if err != nil {
		return "", classify("get device descriptor", err)
	}
	if n < 18 || buf[16] == 0 {
		return "", nil
	}
	return d.StringDescriptor(int(buf[16]), utf8)
}

func (d *gousbDevice) Close() error {
	if d.iface != nil {
		d.iface.Close()
		d.iface = nil
	}
	if d.config != nil {
		d.config.Close()
		d.config = nil
	}
	return d.dev.Close()
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := ErrOther
	if gerr, ok := err.(*gousb.Error); ok {
		switch gerr.Code {
		case gousb.ErrorNotFound, gousb.ErrorNoDevice:
			kind = ErrNotFound
		case gousb.ErrorPipe:
			kind = ErrPipe
		case gousb.ErrorTimeout:
			kind = ErrTimeout
		case gousb.ErrorIO:
			kind = ErrIO
		case gousb.ErrorAccess:
			kind = ErrAccess
		case gousb.ErrorBusy:
			kind = ErrBusy
		case gousb.ErrorInvalidParam:
			kind = ErrInvalidParam
		}
	}
	return &TransportError{Kind: kind, Op: op, Err: err}
}
