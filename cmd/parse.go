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

package cmd

import (
	"strconv"
	"strings"

	"github.com/rcaelers/go-dfu-util/internal/dfuerr"
	"github.com/rcaelers/go-dfu-util/internal/session"
)

// buildConfig translates the parsed flag values into a session.Config.
// Nothing below this point in the call chain ever looks at a flag again.
func buildConfig(o rootOptions) (session.Config, error) {
	cfg := session.Config{
		Filter:             session.NewMatchFilter(),
		DetachDelay:        o.detachDelay,
		Detach:             o.detach,
		FinalReset:         o.finalReset,
		Wait:               o.wait,
		TransferSize:       o.transferSz,
		UploadFile:         o.uploadFile,
		UploadSize:         o.uploadSize,
		DownloadFile:       o.downloadFl,
		QuirksOverrideFile: o.quirksFile,
	}

	switch {
	case o.listOnly:
		cfg.Mode = session.ModeList
	case o.uploadFile != "":
		cfg.Mode = session.ModeUpload
	case o.downloadFl != "":
		cfg.Mode = session.ModeDownload
	case o.detach:
		cfg.Mode = session.ModeDetach
	default:
		return cfg, dfuerr.Usagef("nothing to do: specify -l, -U, -D or -e")
	}

	if o.device != "" {
		if err := applyDeviceSpec(&cfg.Filter, o.device); err != nil {
			return cfg, err
		}
	}
	if o.path != "" {
		cfg.Filter.Path = o.path
	}
	if o.cfgValue > 0 {
		cfg.Filter.Config = session.ExactField(uint32(o.cfgValue))
	}
	if o.intf >= 0 {
		cfg.Filter.Interface = session.ExactField(uint32(o.intf))
	}
	if o.alt != "" {
		if n, err := strconv.ParseUint(o.alt, 0, 32); err == nil {
			cfg.Filter.AltIndex = session.ExactField(uint32(n))
		} else {
			cfg.Filter.AltName = session.ExactStringField(o.alt)
		}
	}
	if o.serial != "" {
		applySerialSpec(&cfg.Filter, o.serial)
	}
	if o.devnum > 0 {
		cfg.Filter.DevNum = session.ExactField(uint32(o.devnum))
	}

	if o.dfuseAddr != "" {
		opts, err := parseDfuSeAddress(o.dfuseAddr)
		if err != nil {
			return cfg, err
		}
		cfg.DfuSe = opts
	}

	return cfg, nil
}

// applyDeviceSpec parses "-d vendor:product[,vendor_dfu:product_dfu]". A
// lone pair matches both the runtime and DFU-mode identity; the optional
// second pair overrides the DFU-mode side only, for devices that
// re-enumerate under a different VID/PID after detach.
func applyDeviceSpec(f *session.MatchFilter, spec string) error {
	parts := strings.SplitN(spec, ",", 2)

	rv, rp, err := parseIDPair(parts[0])
	if err != nil {
		return err
	}
	f.RuntimeVendor, f.RuntimeProduct = rv, rp
	f.DFUVendor, f.DFUProduct = rv, rp

	if len(parts) == 2 {
		dv, dp, err := parseIDPair(parts[1])
		if err != nil {
			return err
		}
		f.DFUVendor, f.DFUProduct = dv, dp
	}
	return nil
}

// parseIDPair parses one "vendor:product" token. "*" means Any, "-" means
// Never (used to suppress matching on that side once the other side is
// pinned), anything else is parsed as hexadecimal with or without a
// leading "0x", so both "0483" and "0x0483" work.
func parseIDPair(tok string) (session.Field, session.Field, error) {
	halves := strings.SplitN(tok, ":", 2)
	vendor, err := parseIDToken(halves[0])
	if err != nil {
		return session.Field{}, session.Field{}, dfuerr.WrapUsage(err, "parse vendor ID")
	}
	product := session.AnyField()
	if len(halves) == 2 {
		product, err = parseIDToken(halves[1])
		if err != nil {
			return session.Field{}, session.Field{}, dfuerr.WrapUsage(err, "parse product ID")
		}
	}
	return vendor, product, nil
}

func parseIDToken(tok string) (session.Field, error) {
	switch tok {
	case "", "*":
		return session.AnyField(), nil
	case "-":
		return session.NeverField(), nil
	default:
		hex := strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
		n, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return session.Field{}, err
		}
		return session.ExactField(uint32(n)), nil
	}
}

// applySerialSpec parses "-S runtime[,dfu]" the same way applyDeviceSpec
// does for IDs: a lone value matches both sides, a second overrides the
// DFU-mode side.
func applySerialSpec(f *session.MatchFilter, spec string) {
	parts := strings.SplitN(spec, ",", 2)
	f.RuntimeSerial = session.ExactStringField(parts[0])
	f.DFUSerial = session.ExactStringField(parts[0])
	if len(parts) == 2 {
		f.DFUSerial = session.ExactStringField(parts[1])
	}
}

// parseDfuSeAddress parses "-s address[:opt[:opt…]]". The bare leading
// token is the target address; a following bare number (when present) is
// the upload length; the named tokens are boolean suboptions.
func parseDfuSeAddress(spec string) (session.DfuSeOptions, error) {
	opts := session.DfuSeOptions{Active: true}
	tokens := strings.Split(spec, ":")

	addr, err := strconv.ParseUint(tokens[0], 0, 32)
	if err != nil {
		return opts, dfuerr.WrapUsage(err, "parse DfuSe address")
	}
	a := uint32(addr)
	opts.Address = &a

	for _, tok := range tokens[1:] {
		switch tok {
		case "force":
			opts.Force = true
		case "leave":
			opts.Leave = true
		case "mass-erase":
			opts.MassErase = true
		case "unprotect":
			opts.Unprotect = true
		case "will-reset":
			opts.WillReset = true
		default:
			n, err := strconv.ParseUint(tok, 0, 32)
			if err != nil {
				return opts, dfuerr.Usagef("unrecognized DfuSe suboption %q", tok)
			}
			length := uint32(n)
			opts.Length = &length
		}
	}
	return opts, nil
}
