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

// Package dfuproto implements the DFU class-specific control requests and
// the device state engine built on top of them: the poll loop,
// abort-to-idle, runtime-to-DFU transition and the documented stall
// workarounds. It depends only on internal/usbtransport and
// internal/clock -- no flags, no file I/O, no progress bars.
package dfuproto

import (
	"github.com/pkg/errors"

	"github.com/rcaelers/go-dfu-util/internal/usbtransport"
)

// Request requests, as defined by the DFU class specification.
const (
	ReqDetach    = 0x00
	ReqDnload    = 0x01
	ReqUpload    = 0x02
	ReqGetStatus = 0x03
	ReqClrStatus = 0x04
	ReqGetState  = 0x05
	ReqAbort     = 0x06
)

// Device states from the DFU state graph.
const (
	AppIdle              = 0
	AppDetach            = 1
	DfuIdle              = 2
	DfuDnloadSync        = 3
	DfuDnbusy            = 4
	DfuDnloadIdle        = 5
	DfuManifestSync      = 6
	DfuManifest          = 7
	DfuManifestWaitReset = 8
	DfuUploadIdle        = 9
	DfuError             = 10
)

// Status is the 6-byte GETSTATUS response.
type Status struct {
	Status      uint8
	PollTimeout uint32 // milliseconds
	State       uint8
	IString     uint8
}

// Requester issues the seven DFU class requests against one claimed
// interface.
type Requester struct {
	dev   usbtransport.Device
	iface int
}

// New wraps an already-claimed device/interface pair.
func New(dev usbtransport.Device, ifaceNum int) *Requester {
	return &Requester{dev: dev, iface: ifaceNum}
}

func (r *Requester) setup(dir usbtransport.Direction, req uint8, value uint16) usbtransport.ControlSetup {
	return usbtransport.ControlSetup{
		Dir:       dir,
		Class:     usbtransport.ClassDFU,
		Recipient: usbtransport.RecipientInterface,
		Request:   req,
		Value:     value,
		Index:     uint16(r.iface),
	}
}

// Detach sends DETACH with the given millisecond timeout.
func (r *Requester) Detach(timeoutMs uint16) error {
	_, err := r.dev.Control(r.setup(usbtransport.Out, ReqDetach, timeoutMs), nil)
	return errors.Wrap(err, "DFU_DETACH")
}

// Dnload sends one DNLOAD transaction. An empty payload is the download
// terminator. It fails if the device accepts fewer bytes than len(payload).
func (r *Requester) Dnload(transaction uint16, payload []byte) error {
	n, err := r.dev.Control(r.setup(usbtransport.Out, ReqDnload, transaction), payload)
	if err != nil {
		return errors.Wrap(err, "DFU_DNLOAD")
	}
	if n != len(payload) {
		return errors.Errorf("DFU_DNLOAD: device accepted %d of %d bytes", n, len(payload))
	}
	return nil
}

// Upload requests up to len(buf) bytes for the given transaction and
// returns how many bytes the device actually returned.
func (r *Requester) Upload(transaction uint16, buf []byte) (int, error) {
	n, err := r.dev.Control(r.setup(usbtransport.In, ReqUpload, transaction), buf)
	if err != nil {
		return n, errors.Wrap(err, "DFU_UPLOAD")
	}
	return n, nil
}

// GetStatus retrieves and decodes the 6-byte status structure.
func (r *Requester) GetStatus() (Status, error) {
	buf := make([]byte, 6)
	n, err := r.dev.Control(r.setup(usbtransport.In, ReqGetStatus, 0), buf)
	if err != nil {
		return Status{}, errors.Wrap(err, "DFU_GETSTATUS")
	}
	if n < 6 {
		return Status{}, errors.New("DFU_GETSTATUS: short response")
	}
	return Status{
		Status:      buf[0],
		PollTimeout: uint32(buf[1]) | uint32(buf[2])<<8 | uint32(buf[3])<<16,
		State:       buf[4],
		IString:     buf[5],
	}, nil
}

// ClrStatus clears an error condition, returning the device to dfuIDLE.
func (r *Requester) ClrStatus() error {
	_, err := r.dev.Control(r.setup(usbtransport.Out, ReqClrStatus, 0), nil)
	return errors.Wrap(err, "DFU_CLRSTATUS")
}

// GetState retrieves the 1-byte current state without the rest of the
// status structure.
func (r *Requester) GetState() (uint8, error) {
	buf := make([]byte, 1)
	n, err := r.dev.Control(r.setup(usbtransport.In, ReqGetState, 0), buf)
	if err != nil {
		return 0, errors.Wrap(err, "DFU_GETSTATE")
	}
	if n < 1 {
		return 0, errors.New("DFU_GETSTATE: short response")
	}
	return buf[0], nil
}

// Abort requests a return to dfuIDLE from dfuDNLOAD_IDLE or dfuUPLOAD_IDLE.
func (r *Requester) Abort() error {
	_, err := r.dev.Control(r.setup(usbtransport.Out, ReqAbort, 0), nil)
	return errors.Wrap(err, "DFU_ABORT")
}

// StateName renders a device state for logging, matching the names used
// by the class specification.
func StateName(s uint8) string {
	switch s {
	case AppIdle:
		return "appIDLE"
	case AppDetach:
		return "appDETACH"
	case DfuIdle:
		return "dfuIDLE"
	case DfuDnloadSync:
		return "dfuDNLOAD-SYNC"
	case DfuDnbusy:
		return "dfuDNBUSY"
	case DfuDnloadIdle:
		return "dfuDNLOAD-IDLE"
	case DfuManifestSync:
		return "dfuMANIFEST-SYNC"
	case DfuManifest:
		return "dfuMANIFEST"
	case DfuManifestWaitReset:
		return "dfuMANIFEST-WAIT-RESET"
	case DfuUploadIdle:
		return "dfuUPLOAD-IDLE"
	case DfuError:
		return "dfuERROR"
	default:
		return "unknown"
	}
}
