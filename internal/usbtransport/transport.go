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

// Package usbtransport is the thin capability layer over USB: enumerate,
// open/close, raw control transfers, claim/release, alt-setting, bus reset
// and string descriptors. It never interprets DFU protocol semantics --
// that is the job of internal/dfuproto and internal/discovery. The
// orchestrator and cmd use it only to open a context and to recognise
// transport errors.
package usbtransport

import "time"

// Direction of a control transfer, matching the high bit of bmRequestType.
type Direction int

const (
	Out Direction = iota
	In
)

// Recipient is the low two bits of bmRequestType; DFU only ever targets an
// interface, but the adapter exposes all four for the standard requests
// discovery needs (GET_DESCRIPTOR targets the device).
type Recipient int

const (
	RecipientDevice Recipient = iota
	RecipientInterface
	RecipientEndpoint
	RecipientOther
)

// RequestClass is the class bits of bmRequestType.
type RequestClass int

const (
	ClassStandard RequestClass = iota
	ClassDFU
)

// ControlSetup is the eight-byte control transfer header, minus wLength
// which is implied by len(Data).
type ControlSetup struct {
	Dir       Direction
	Class     RequestClass
	Recipient Recipient
	Request   uint8
	Value     uint16
	Index     uint16
}

// DeviceDescriptor mirrors the fields of the standard 18-byte USB device
// descriptor that discovery needs.
type DeviceDescriptor struct {
	Vendor         uint16
	Product        uint16
	BcdDevice      uint16
	DeviceClass    uint8
	DeviceSubClass uint8
	DeviceProtocol uint8
	MaxPacketSize0 uint8
	NumConfigs     uint8
	Bus            int
	Address        int
	Port           []int // port path, outermost hub first
}

// ErrKind classifies a transport failure so upper layers can decide whether
// it is tolerable (e.g. NotFound right after a bus reset).
type ErrKind int

const (
	ErrOther ErrKind = iota
	ErrNotFound
	ErrPipe
	ErrTimeout
	ErrIO
	ErrAccess
	ErrBusy
	ErrInvalidParam
)

// TransportError wraps a transport failure with its classification.
type TransportError struct {
	Kind ErrKind
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Device is a claimed handle to one USB device, providing raw byte-level
// primitives. Implementations must make claim/release, open/close
// idempotent-safe under the orchestrator's scoped-acquisition discipline.
type Device interface {
	Descriptor() DeviceDescriptor

	// RawConfigDescriptor returns the undecoded bytes of the configuration
	// descriptor (and everything chained after it -- interface, endpoint,
	// and any class-specific "extra" descriptors) for the configuration at
	// the given index, exactly as GET_DESCRIPTOR(CONFIGURATION) returns
	// them. Discovery hand-parses this to find functional descriptors
	// gousb's own decoder does not expose.
	RawConfigDescriptor(index int) ([]byte, error)

	Control(setup ControlSetup, data []byte) (int, error)

	ClaimInterface(configValue int, ifaceNum int, altSetting int) error
	ReleaseInterface(ifaceNum int) error
	SetAltSetting(ifaceNum int, altSetting int) error

	Reset() error

	// StringDescriptor fetches string descriptor index idx. If utf8 is
	// true the raw bytes are returned as-is (QUIRK_UTF8_SERIAL devices);
	// otherwise the descriptor is decoded from UTF-16LE, non-ASCII units
	// substituted with '?'.
	StringDescriptor(idx int, utf8 bool) (string, error)

	// SerialNumber reads the device descriptor's iSerialNumber index and
	// resolves it through StringDescriptor. Returns "" if the device has
	// no serial string.
	SerialNumber(utf8 bool) (string, error)

	Close() error
}

// Context enumerates devices and opens handles to them.
type Context interface {
	// Devices returns a descriptor snapshot for every USB device visible
	// to the host, without opening or claiming any of them.
	Devices() ([]DeviceDescriptor, error)

	// Open returns a claimable Device handle for the device matching the
	// given descriptor snapshot (matched by bus/address).
	Open(d DeviceDescriptor) (Device, error)

	Close() error
}

// ControlTimeout is the fixed per-transfer timeout every control request
// uses, matching the real tool's 5 second libusb timeout.
const ControlTimeout = 5 * time.Second
