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

package dfuproto

import (
	"github.com/pkg/errors"

	"github.com/rcaelers/go-dfu-util/internal/clock"
	"github.com/rcaelers/go-dfu-util/internal/usbtransport"
)

// Quirk bits that change poll-loop behavior. Kept here, not in
// internal/discovery, because they gate logic this package owns; the
// quirk registry (internal/discovery) is merely where they are looked up.
type Quirk uint32

const (
	QuirkUTF8Serial Quirk = 1 << iota
	QuirkForceDFU11
	QuirkDfuseLayout
	QuirkDfuseLeave
	QuirkST_H7EraseStall
	QuirkST_F405MassEraseLie
)

// busy reports whether a state requires another poll before the caller can
// proceed.
func busy(state uint8) bool {
	switch state {
	case DfuDnbusy, DfuManifest, DfuDnloadSync, DfuManifestSync:
		return true
	default:
		return false
	}
}

// PollOptions configures the device-specific workarounds a poll loop
// applies. IsMassErase marks a poll loop following a DfuSe MASS_ERASE
// special command, the only context the STM32F405 timeout-lie quirk
// applies to.
type PollOptions struct {
	Quirks      Quirk
	IsMassErase bool
}

const (
	maxStallRetries      = 3
	maxZeroPollTolerate  = 100
	h7StallBusyPolls     = 4
	f405LyingPollMs      = 100
	f405SubstitutePollMs = 35000
)

// PollUntilNotBusy repeatedly calls GETSTATUS, sleeping the device-supplied
// poll timeout between calls, until the device reports a non-busy state or
// a hard error. It applies all documented per-quirk workarounds:
//
//   - a pipe stall following a non-zero poll timeout is tolerated up to
//     three times, reusing the last known timeout;
//   - a zero poll timeout is tolerated for up to 100 consecutive polls
//     before the device is declared stuck;
//   - QuirkST_H7EraseStall clears the error status after four busy polls;
//   - QuirkST_F405MassEraseLie substitutes a 35 second wait whenever the
//     device claims only 100ms after a MASS_ERASE command.
func PollUntilNotBusy(req *Requester, clk clock.Clock, opts PollOptions) (Status, error) {
	var lastPoll uint32 = 1
	stallRetries := 0
	zeroPolls := 0
	busyPolls := 0

	for {
		clk.SleepMillis(int(lastPoll))

		status, err := req.GetStatus()
		if err != nil {
			if te, ok := errors.Cause(err).(*usbtransport.TransportError); ok && te.Kind == usbtransport.ErrPipe && stallRetries < maxStallRetries {
				stallRetries++
				continue
			}
			return Status{}, errors.Wrap(err, "poll loop")
		}
		stallRetries = 0

		if status.State == DfuError {
			return status, nil
		}

		if opts.IsMassErase && opts.Quirks&QuirkST_F405MassEraseLie != 0 && status.PollTimeout == f405LyingPollMs {
			status.PollTimeout = f405SubstitutePollMs
		}

		if !busy(status.State) {
			return status, nil
		}

		busyPolls++
		if opts.Quirks&QuirkST_H7EraseStall != 0 && busyPolls >= h7StallBusyPolls {
			if err := req.ClrStatus(); err != nil {
				return Status{}, errors.Wrap(err, "poll loop: H7 erase-stall clear status")
			}
			busyPolls = 0
		}

		if status.PollTimeout == 0 {
			zeroPolls++
			if zeroPolls > maxZeroPollTolerate {
				return Status{}, errors.New("poll loop: device stuck reporting zero poll timeout")
			}
			lastPoll = 1
		} else {
			zeroPolls = 0
			lastPoll = status.PollTimeout
		}
	}
}

// AbortToIdle returns a device sitting in dfuDNLOAD_IDLE or dfuUPLOAD_IDLE
// to dfuIDLE. It is a no-op if the device is already idle or in error.
func AbortToIdle(req *Requester) error {
	status, err := req.GetStatus()
	if err != nil {
		return errors.Wrap(err, "abort to idle: initial status")
	}
	if status.State != DfuDnloadIdle && status.State != DfuUploadIdle {
		return nil
	}
	if err := req.Abort(); err != nil {
		return errors.Wrap(err, "abort to idle")
	}
	status, err = req.GetStatus()
	if err != nil {
		return errors.Wrap(err, "abort to idle: post-abort status")
	}
	if status.State != DfuIdle {
		return errors.Errorf("abort to idle: device left in state %s", StateName(status.State))
	}
	return nil
}

// EnsureNotError clears a dfuERROR condition if present, leaving the
// device in dfuIDLE.
func EnsureNotError(req *Requester) error {
	status, err := req.GetStatus()
	if err != nil {
		return errors.Wrap(err, "ensure not error: status")
	}
	if status.State != DfuError {
		return nil
	}
	return errors.Wrap(req.ClrStatus(), "ensure not error: clear status")
}
