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

package dfuse

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/rcaelers/go-dfu-util/internal/clock"
	"github.com/rcaelers/go-dfu-util/internal/dfuproto"
)

// Special command byte-0 values, sent as a DNLOAD with wValue=0.
const (
	cmdSetAddress    = 0x21
	cmdErasePage     = 0x41 // 5-byte form
	cmdMassErase     = 0x41 // 1-byte form
	cmdReadUnprotect = 0x92
)

// Commander issues DfuSe special commands over an already-claimed DFU
// interface and waits out the resulting busy period, applying whatever
// poll-loop quirks the target device needs.
type Commander struct {
	req    *dfuproto.Requester
	clk    clock.Clock
	quirks dfuproto.Quirk
}

// NewCommander wraps a request layer for DfuSe special-command use.
func NewCommander(req *dfuproto.Requester, clk clock.Clock, quirks dfuproto.Quirk) *Commander {
	return &Commander{req: req, clk: clk, quirks: quirks}
}

func (c *Commander) send(payload []byte, isMassErase bool) error {
	if err := c.req.Dnload(0, payload); err != nil {
		return errors.Wrap(err, "dfuse special command")
	}
	_, err := dfuproto.PollUntilNotBusy(c.req, c.clk, dfuproto.PollOptions{
		Quirks:      c.quirks,
		IsMassErase: isMassErase,
	})
	return errors.Wrap(err, "dfuse special command: poll")
}

// SetAddress issues SET_ADDRESS for the given pointer.
func (c *Commander) SetAddress(addr uint32) error {
	buf := make([]byte, 5)
	buf[0] = cmdSetAddress
	binary.LittleEndian.PutUint32(buf[1:], addr)
	return errors.Wrap(c.send(buf, false), "SET_ADDRESS")
}

// ErasePage issues ERASE_PAGE for the page containing addr.
func (c *Commander) ErasePage(addr uint32) error {
	buf := make([]byte, 5)
	buf[0] = cmdErasePage
	binary.LittleEndian.PutUint32(buf[1:], addr)
	return errors.Wrap(c.send(buf, false), "ERASE_PAGE")
}

// MassErase issues the 1-byte MASS_ERASE command.
func (c *Commander) MassErase() error {
	return errors.Wrap(c.send([]byte{cmdMassErase}, true), "MASS_ERASE")
}

// ReadUnprotect issues READ_UNPROTECT. The device disconnects
// unconditionally afterwards, so only the first poll sleep is observed;
// a transport error following it is expected, not a failure.
func (c *Commander) ReadUnprotect() error {
	if err := c.req.Dnload(0, []byte{cmdReadUnprotect}); err != nil {
		return errors.Wrap(err, "READ_UNPROTECT")
	}
	c.clk.SleepMillis(1)
	return nil
}

// WriteData sends one DfuSe data chunk. DfuSe repurposes DNLOAD's
// transaction field for data chunks: wValue must be at least 2 so the
// device can tell a data transfer apart from a special command (wValue 0)
// or the historical plain-DFU transaction 1.
func (c *Commander) WriteData(chunk []byte) error {
	if err := c.req.Dnload(2, chunk); err != nil {
		return errors.Wrap(err, "dfuse data DNLOAD")
	}
	_, err := dfuproto.PollUntilNotBusy(c.req, c.clk, dfuproto.PollOptions{Quirks: c.quirks})
	return errors.Wrap(err, "dfuse data DNLOAD: poll")
}

// Leave sends the DNLOAD(length=0, wValue=2) that tells a DfuSe device to
// leave DFU mode and start the application. Devices with QuirkDfuseLeave
// are known to not reply to the follow-up status request, so that error is
// swallowed rather than surfaced.
func (c *Commander) Leave() error {
	if err := c.req.Dnload(2, nil); err != nil {
		return errors.Wrap(err, "dfuse leave")
	}
	if c.quirks&dfuproto.QuirkDfuseLeave != 0 {
		_, _ = c.req.GetStatus()
		return nil
	}
	_, err := c.req.GetStatus()
	return errors.Wrap(err, "dfuse leave: status")
}
