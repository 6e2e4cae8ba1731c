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

// Package orchestrator is the explicit phase state machine (Probe,
// Transition, Claim, StatusSync, Execute, Finalize) that drives one full
// tool invocation as a sequence of named Go functions. It owns the one
// thing every layer below it must not: the per-run lastErasedPage dedup
// field, reset whenever the device or its alt setting changes.
package orchestrator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	jww "github.com/spf13/jwalterweatherman"

	"github.com/rcaelers/go-dfu-util/internal/clock"
	"github.com/rcaelers/go-dfu-util/internal/dfuerr"
	"github.com/rcaelers/go-dfu-util/internal/dfufile"
	"github.com/rcaelers/go-dfu-util/internal/dfuproto"
	"github.com/rcaelers/go-dfu-util/internal/dfuse"
	"github.com/rcaelers/go-dfu-util/internal/discovery"
	"github.com/rcaelers/go-dfu-util/internal/session"
	"github.com/rcaelers/go-dfu-util/internal/transfer"
	"github.com/rcaelers/go-dfu-util/internal/usbtransport"
)

// unerasedSentinel marks "no page erased yet" -- any real page address is a
// multiple of its page size, and DfuSe page sizes are never 0xffffffff.
const unerasedSentinel uint32 = 0xffffffff

// maxTransferSize is the largest control-transfer payload this tool will
// ever negotiate, matching the Linux USB host controller's URB limit the
// real tool also clamps to.
const maxTransferSize = 4096

// probeRetryDelayMs is how long a Wait-mode probe sleeps between scans.
const probeRetryDelayMs = 20

// Progress mirrors internal/transfer.Progress; Run takes one to forward
// into whichever transfer it ends up driving.
type Progress func(value, maxValue int64, info string)

// Run executes one full tool invocation against cfg: discovery, an
// optional runtime-to-DFU transition, interface claim, status
// synchronization, the upload/download/list dispatch, and finalization. It
// writes human-readable listing output to out.
func Run(ctx usbtransport.Context, cfg session.Config, clk clock.Clock, quirks *discovery.Registry, out io.Writer, progress Progress) error {
	if err := quirks.LoadOverlay(cfg.QuirksOverrideFile); err != nil {
		return dfuerr.WrapUsage(err, "load quirks overlay")
	}

	records, err := probePhase(ctx, cfg, quirks)
	if err != nil {
		return err
	}

	if cfg.Mode == session.ModeList {
		listDevices(out, records)
		return nil
	}

	rec, err := requireOne(records, "matching")
	if err != nil {
		return err
	}

	rec, err = transitionPhase(ctx, cfg, quirks, rec, clk)
	if err != nil {
		return err
	}
	defer func() { _ = rec.Disconnect() }()

	if cfg.Mode == session.ModeDetach {
		return nil
	}

	if err := claimPhase(rec); err != nil {
		return err
	}
	defer func() { _ = rec.Device.ReleaseInterface(rec.InterfaceNumber) }()

	req := dfuproto.New(rec.Device, rec.InterfaceNumber)
	if err := statusSyncPhase(req); err != nil {
		return err
	}

	transferSize := negotiateTransferSize(cfg, rec)

	if err := executePhase(cfg, rec, req, clk, transferSize, progress); err != nil {
		return err
	}

	return finalizePhase(cfg, rec)
}

// probePhase enumerates matching alt-settings, retrying every
// probeRetryDelayMs while cfg.Wait is set and none are found yet.
func probePhase(ctx usbtransport.Context, cfg session.Config, quirks *discovery.Registry) ([]discovery.Record, error) {
	for {
		records, err := discovery.Probe(ctx, cfg.Filter, quirks)
		if err != nil {
			return nil, dfuerr.WrapIo(err, "probe USB devices")
		}
		if len(records) > 0 || !cfg.Wait {
			if len(records) == 0 {
				return nil, dfuerr.Usagef("no DFU capable USB device found")
			}
			return records, nil
		}
		clockSleep(probeRetryDelayMs)
	}
}

// clockSleep exists so probePhase's retry delay does not need a clock
// threaded all the way through Run's signature just for this one spot;
// every timing decision that matters to a test (poll loops, special
// commands) already takes an explicit clock.Clock.
func clockSleep(ms int) {
	(&clock.Real{}).SleepMillis(ms)
}

func requireOne(records []discovery.Record, what string) (discovery.Record, error) {
	switch len(records) {
	case 0:
		return discovery.Record{}, dfuerr.Usagef("no %s device found", what)
	case 1:
		return records[0], nil
	default:
		return discovery.Record{}, dfuerr.Usagef("%d %s devices found, narrow the selection with -d/-p/-S", len(records), what)
	}
}

// transitionPhase moves a runtime-mode device into DFU mode by sending
// DETACH and re-probing. A device already in DFU mode passes through
// unchanged. The re-probed record's Mode is checked directly here, so a
// device that re-enumerates but stays out of DFU mode is caught rather
// than silently accepted.
func transitionPhase(ctx usbtransport.Context, cfg session.Config, quirks *discovery.Registry, rec discovery.Record, clk clock.Clock) (discovery.Record, error) {
	if rec.Mode == discovery.DFU {
		return rec, nil
	}
	if !cfg.Detach {
		return discovery.Record{}, dfuerr.Usagef("device is in runtime mode and -e/--detach was not given")
	}

	req := dfuproto.New(rec.Device, rec.InterfaceNumber)
	detachMs := uint16(rec.Functional.DetachTimeout)
	if detachMs == 0 {
		detachMs = 1000
	}
	if err := req.Detach(detachMs); err != nil {
		_ = rec.Disconnect()
		return discovery.Record{}, dfuerr.WrapProtocol(err, "send DETACH")
	}

	// A device advertising bitWillDetach re-enumerates on its own; one that
	// doesn't needs an explicit bus reset to leave run-time mode.
	if rec.Functional.WillDetach() {
		jww.DEBUG.Printf("device will detach and reattach on its own")
	} else if err := rec.Device.Reset(); err != nil && !isNotFound(err) {
		_ = rec.Disconnect()
		return discovery.Record{}, dfuerr.WrapIo(err, "reset USB after detach")
	}

	if err := rec.Disconnect(); err != nil {
		jww.DEBUG.Printf("disconnect after detach: %v", err)
	}
	clk.SleepMillis(int(cfg.DetachDelay.Milliseconds()))

	if cfg.Mode == session.ModeDetach {
		return discovery.Record{}, nil
	}

	// Force the runtime-mode match to Never so the re-probe can only land
	// on the DFU-mode interface -- the device's DFU-mode identity is
	// unaffected and keeps matching through cfg.Filter.DFUVendor/Product.
	reprobeFilter := cfg.Filter
	reprobeFilter.RuntimeVendor = session.NeverField()
	reprobeFilter.RuntimeProduct = session.NeverField()

	records, err := discovery.Probe(ctx, reprobeFilter, quirks)
	if err != nil {
		return discovery.Record{}, dfuerr.WrapIo(err, "re-probe after detach")
	}
	next, err := requireOne(records, "DFU-mode")
	if err != nil {
		return discovery.Record{}, err
	}
	if next.Mode != discovery.DFU {
		return discovery.Record{}, dfuerr.Protocolf("device re-enumerated but is still not in DFU mode")
	}
	return next, nil
}

// isNotFound reports whether err is a transport failure consistent with the
// device having already disappeared to re-enumerate, which a bus reset
// right after DETACH is expected to trigger.
func isNotFound(err error) bool {
	var terr *usbtransport.TransportError
	return errors.As(err, &terr) && terr.Kind == usbtransport.ErrNotFound
}

func claimPhase(rec discovery.Record) error {
	if err := rec.Device.ClaimInterface(rec.ConfigValue, rec.InterfaceNumber, rec.AltSetting); err != nil {
		return dfuerr.WrapIo(err, "claim DFU interface")
	}
	return nil
}

// statusSyncPhase clears a stale dfuERROR and aborts any leftover
// dfuDNLOAD_IDLE/dfuUPLOAD_IDLE state before the real transfer begins, so a
// device left mid-transfer by a previous, interrupted run does not wedge
// this one.
func statusSyncPhase(req *dfuproto.Requester) error {
	if err := dfuproto.EnsureNotError(req); err != nil {
		return dfuerr.WrapProtocol(err, "clear stale error status")
	}
	if err := dfuproto.AbortToIdle(req); err != nil {
		return dfuerr.WrapProtocol(err, "return device to idle")
	}
	return nil
}

// negotiateTransferSize picks the control-transfer chunk size: an explicit
// override wins, otherwise the device's advertised wTransferSize; the
// result is clamped to maxTransferSize and floored to the endpoint-0
// max-packet-size, matching the real tool's negotiation.
func negotiateTransferSize(cfg session.Config, rec discovery.Record) int {
	size := int(rec.Functional.TransferSize)
	if cfg.TransferSize != 0 {
		size = int(cfg.TransferSize)
	}
	if size <= 0 || size > maxTransferSize {
		size = maxTransferSize
	}
	if mp := int(rec.Desc.MaxPacketSize0); mp > 0 && size < mp {
		size = mp
	}
	return size
}

func isDfuSe(rec discovery.Record, cfg session.Config) bool {
	if rec.Quirks&dfuproto.QuirkDfuseLayout != 0 {
		return true
	}
	if cfg.DfuSe.Active {
		return true
	}
	_, ok, _ := dfuse.ParseLayout(rec.AltName)
	return ok
}

func executePhase(cfg session.Config, rec discovery.Record, req *dfuproto.Requester, clk clock.Clock, transferSize int, progress Progress) error {
	switch cfg.Mode {
	case session.ModeUpload:
		return runUpload(cfg, rec, req, clk, transferSize, progress)
	case session.ModeDownload:
		return runDownload(cfg, rec, req, clk, transferSize, progress)
	default:
		return dfuerr.Usagef("no transfer mode selected")
	}
}

func runUpload(cfg session.Config, rec discovery.Record, req *dfuproto.Requester, clk clock.Clock, transferSize int, progress Progress) error {
	if !rec.Functional.CanUpload() {
		return dfuerr.Usagef("device does not advertise upload support")
	}

	if isDfuSe(rec, cfg) {
		layout, hasLayout, err := dfuse.ParseLayout(rec.AltName)
		if err != nil {
			return dfuerr.WrapData(err, "parse DfuSe memory layout")
		}
		addr, length, err := resolveUploadRange(cfg, layout, hasLayout)
		if err != nil {
			return err
		}

		cmd := dfuse.NewCommander(req, clk, rec.Quirks)
		if err := cmd.SetAddress(addr); err != nil {
			return dfuerr.WrapProtocol(err, "set upload address")
		}
		var buf bytes.Buffer
		if err := transfer.Upload(req, &buf, transferSize, int64(length), func(v, m int64, info string) { callProgress(progress, v, m, info) }); err != nil {
			return dfuerr.WrapIo(err, "upload")
		}
		file := &dfuse.File{Targets: []dfuse.Target{{
			AltSetting: rec.AltSetting,
			Name:       rec.AltName,
			Elements:   []dfuse.Element{{Address: addr, Data: buf.Bytes()}},
		}}}
		raw := dfuse.SerializeFile(file)
		raw = dfufile.Append(raw, rec.Desc.Vendor, rec.Desc.Product, rec.Desc.BcdDevice)
		return writeFile(cfg.UploadFile, raw)
	}

	var buf bytes.Buffer
	if err := transfer.Upload(req, &buf, transferSize, int64(cfg.UploadSize), func(v, m int64, info string) { callProgress(progress, v, m, info) }); err != nil {
		return dfuerr.WrapIo(err, "upload")
	}
	raw := dfufile.Append(buf.Bytes(), rec.Desc.Vendor, rec.Desc.Product, rec.Desc.BcdDevice)
	return writeFile(cfg.UploadFile, raw)
}

// resolveUploadRange picks the starting address and byte count for a
// DfuSe upload: an explicit -s address and length win; otherwise the
// address is the start of the layout's first segment and the length runs
// to the end of its last segment. Segment flags are not consulted.
func resolveUploadRange(cfg session.Config, layout dfuse.Layout, hasLayout bool) (addr uint32, length uint32, err error) {
	if cfg.DfuSe.Address != nil {
		addr = *cfg.DfuSe.Address
	} else if hasLayout && len(layout.Segments) > 0 {
		addr = layout.Segments[0].Start
	} else {
		return 0, 0, dfuerr.Usagef("no memory layout advertised; specify -s address:length explicitly")
	}
	if cfg.DfuSe.Length != nil {
		length = *cfg.DfuSe.Length
	} else if hasLayout {
		last := layout.Segments[len(layout.Segments)-1]
		length = last.End - addr
	} else {
		return 0, 0, dfuerr.Usagef("no memory layout advertised; specify -s address:length explicitly")
	}
	return addr, length, nil
}

func runDownload(cfg session.Config, rec discovery.Record, req *dfuproto.Requester, clk clock.Clock, transferSize int, progress Progress) error {
	if !rec.Functional.CanDnload() {
		return dfuerr.Usagef("device does not advertise download support")
	}

	raw, err := os.ReadFile(cfg.DownloadFile)
	if err != nil {
		return dfuerr.WrapIo(err, "read firmware file")
	}

	body, suffix, hasSuffix, err := dfufile.Split(raw)
	if err != nil && !cfg.DfuSe.Force {
		return dfuerr.WrapData(err, "validate firmware suffix")
	}
	if err != nil {
		body = raw
	}
	if hasSuffix && !cfg.DfuSe.Force {
		if suffix.IdVendor != rec.Desc.Vendor || suffix.IdProduct != rec.Desc.Product {
			return dfuerr.Dataf("firmware suffix vendor:product %04x:%04x does not match device %04x:%04x",
				suffix.IdVendor, suffix.IdProduct, rec.Desc.Vendor, rec.Desc.Product)
		}
	}

	if !isDfuSe(rec, cfg) {
		return transfer.Download(req, clk, bytes.NewReader(body), int64(len(body)), transferSize, rec.Quirks, rec.Functional.ManifestationTolerant(),
			func(v, m int64, info string) { callProgress(progress, v, m, info) })
	}

	return runDfuSeDownload(cfg, rec, req, clk, transferSize, body, progress)
}

func runDfuSeDownload(cfg session.Config, rec discovery.Record, req *dfuproto.Requester, clk clock.Clock, transferSize int, body []byte, progress Progress) error {
	layout, hasLayout, err := dfuse.ParseLayout(rec.AltName)
	if err != nil {
		return dfuerr.WrapData(err, "parse DfuSe memory layout")
	}

	var targets []dfuse.Target
	if len(body) >= 5 && string(body[0:5]) == "DfuSe" {
		file, err := dfuse.ParseFile(body)
		if err != nil {
			return dfuerr.WrapData(err, "parse DfuSe file container")
		}
		targets = file.Targets
	} else {
		if cfg.DfuSe.Address == nil {
			return dfuerr.Usagef("raw (non-DfuSe) download requires -s address to be given")
		}
		targets = []dfuse.Target{{AltSetting: rec.AltSetting, Elements: []dfuse.Element{{Address: *cfg.DfuSe.Address, Data: body}}}}
	}

	opts := dfuse.DownloadOptions{Force: cfg.DfuSe.Force || !hasLayout, MassErase: cfg.DfuSe.MassErase}
	cmd := dfuse.NewCommander(req, clk, rec.Quirks)

	if opts.MassErase {
		if err := cmd.MassErase(); err != nil {
			return dfuerr.WrapProtocol(err, "mass erase")
		}
	}

	lastErasedPage := unerasedSentinel
	currentAlt := rec.AltSetting
	for _, target := range targets {
		if target.AltSetting != currentAlt {
			name, found, err := discovery.AltSettingName(rec.Device, rec.Desc, rec.ConfigValue, rec.InterfaceNumber, target.AltSetting, rec.Quirks)
			if err != nil {
				return dfuerr.WrapIo(err, "resolve alt setting name for DfuSe target")
			}
			if !found {
				jww.WARN.Printf("no alternate setting %d on this device, skipping target", target.AltSetting)
				continue
			}

			if err := rec.Device.SetAltSetting(rec.InterfaceNumber, target.AltSetting); err != nil {
				return dfuerr.WrapIo(err, "select alt setting for DfuSe target")
			}
			currentAlt = target.AltSetting
			lastErasedPage = unerasedSentinel

			altLayout, hasAltLayout, err := dfuse.ParseLayout(name)
			if err != nil {
				return dfuerr.WrapData(err, "parse DfuSe memory layout for alt setting")
			}
			layout = altLayout
			opts.Force = cfg.DfuSe.Force || !hasAltLayout
		}
		for _, el := range target.Elements {
			if err := dfuse.DownloadElement(cmd, layout, el, transferSize, opts, &lastErasedPage,
				func(v, m int64, info string) { callProgress(progress, v, m, info) }); err != nil {
				return dfuerr.WrapProtocol(err, "download DfuSe element")
			}
		}
	}

	if cfg.DfuSe.Leave || cfg.DfuSe.WillReset {
		if err := cmd.Leave(); err != nil {
			return dfuerr.WrapProtocol(err, "leave DFU mode")
		}
	}
	return nil
}

func finalizePhase(cfg session.Config, rec discovery.Record) error {
	if !cfg.FinalReset {
		return nil
	}
	if err := rec.Device.Reset(); err != nil {
		return dfuerr.WrapIo(err, "final USB bus reset")
	}
	return nil
}

func listDevices(out io.Writer, records []discovery.Record) {
	for _, rec := range records {
		mode := "runtime"
		if rec.Mode == discovery.DFU {
			mode = "dfu"
		}
		name := rec.AltName
		if name == "" {
			name = "-"
		}
		serial := rec.Serial
		if serial == "" {
			serial = "-"
		}
		fmt.Fprintf(out, "Found %s interface: [%04x:%04x] cfg=%d, intf=%d, alt=%d, name=%q, serial=%q\n",
			mode, rec.Desc.Vendor, rec.Desc.Product, rec.ConfigValue, rec.InterfaceNumber, rec.AltSetting, name, serial)
	}
}

func callProgress(p Progress, v, m int64, info string) {
	if p != nil {
		p(v, m, info)
	}
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return dfuerr.WrapIo(err, "write upload file")
	}
	return nil
}
