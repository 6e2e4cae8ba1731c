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

// Package discovery walks USB configurations/interfaces/alt-settings,
// locates the DFU functional descriptor (falling back to a sibling
// alt-setting's descriptor, then to a synthesized DFU 1.0 default),
// classifies each alt-setting as runtime or DFU mode, and
// narrows the result down with a session.MatchFilter and the quirk
// registry.
package discovery

import (
	"fmt"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/rcaelers/go-dfu-util/internal/dfuproto"
	"github.com/rcaelers/go-dfu-util/internal/session"
	"github.com/rcaelers/go-dfu-util/internal/usbtransport"
)

// Mode is the half of the state graph an interface record currently sits
// in: ordinary application firmware, or the DFU interface itself.
type Mode int

const (
	Runtime Mode = iota
	DFU
)

// Record is one matched alt-setting, immutable once Probe returns it.
type Record struct {
	Device usbtransport.Device
	Desc   usbtransport.DeviceDescriptor

	ConfigValue     int
	InterfaceNumber int
	AltSetting      int
	AltName         string
	Serial          string

	Functional FunctionalDescriptor
	Mode       Mode
	MultiAlt   bool
	Quirks     dfuproto.Quirk
}

// Disconnect closes the underlying device handle. Safe to call on every
// record obtained from a Probe even if several share the same device.
func (r *Record) Disconnect() error {
	return r.Device.Close()
}

// Probe enumerates every USB device, opens each as a candidate, and
// returns the alt-settings surviving the match filter. A configuration
// whose descriptor cannot be fetched is skipped and probing continues with
// the next configuration index -- the real tool's probe_configuration once
// returned early here, leaking every subsequent configuration on that
// device; this routine always continues.
func Probe(ctx usbtransport.Context, filter session.MatchFilter, quirks *Registry) ([]Record, error) {
	descs, err := ctx.Devices()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate USB devices")
	}

	var out []Record
	for _, desc := range descs {
		if filter.DevNum.Kind != session.Any && !filter.DevNum.Matches(uint32(desc.Address)) {
			continue
		}
		if filter.Path != "" && portPathString(desc) != filter.Path {
			continue
		}

		dev, err := ctx.Open(desc)
		if err != nil {
			jww.DEBUG.Printf("skip device %04x:%04x: %v", desc.Vendor, desc.Product, err)
			continue
		}

		recs, err := probeDevice(dev, desc, filter, quirks)
		if err != nil {
			jww.DEBUG.Printf("skip device %04x:%04x: %v", desc.Vendor, desc.Product, err)
			_ = dev.Close()
			continue
		}
		if len(recs) == 0 {
			_ = dev.Close()
			continue
		}
		out = append(out, recs...)
	}
	return out, nil
}

func probeDevice(dev usbtransport.Device, desc usbtransport.DeviceDescriptor, filter session.MatchFilter, quirks *Registry) ([]Record, error) {
	var matched []Record

	for cfgIndex := 0; cfgIndex < int(desc.NumConfigs); cfgIndex++ {
		raw, err := dev.RawConfigDescriptor(cfgIndex)
		if err != nil {
			// Open Question (b): the original early-returned out of the
			// whole device here, silently dropping every later
			// configuration. Continue to the next index instead.
			continue
		}

		configValue, numInterfaces, ifaces := parseConfigDescriptor(raw)
		if ifaces == nil {
			continue
		}
		if filter.Config.Kind != session.Any && !filter.Config.Matches(uint32(configValue)) {
			continue
		}

		multiAlt := hasMultipleDFUAltSettings(ifaces)

		for _, iface := range ifaces {
			if filter.Interface.Kind != session.Any && !filter.Interface.Matches(uint32(iface.Number)) {
				continue
			}

			fd, mode, ok := classify(iface, ifaces, numInterfaces, desc)
			if !ok {
				continue
			}

			q := quirks.Lookup(desc.Vendor, desc.Product, desc.BcdDevice)

			rec := Record{
				Device:          dev,
				Desc:            desc,
				ConfigValue:     configValue,
				InterfaceNumber: iface.Number,
				AltSetting:      iface.AltSetting,
				Functional:      fd,
				Mode:            mode,
				MultiAlt:        multiAlt,
				Quirks:          q,
			}

			if !matchesMode(rec, filter) {
				continue
			}

			if mode == DFU && filter.AltIndex.Kind != session.Any && !filter.AltIndex.Matches(uint32(iface.AltSetting)) {
				continue
			}

			if iface.StringIndex != 0 {
				utf8 := q&dfuproto.QuirkUTF8Serial != 0
				name, err := dev.StringDescriptor(iface.StringIndex, utf8)
				if err == nil {
					rec.AltName = name
				}
			}
			if mode == DFU && filter.AltName.Kind != session.Any && !filter.AltName.Matches(rec.AltName) {
				continue
			}

			rec.Serial, _ = dev.SerialNumber(q&dfuproto.QuirkUTF8Serial != 0)

			serialFilter := filter.RuntimeSerial
			if mode == DFU {
				serialFilter = filter.DFUSerial
			}
			if serialFilter.Kind != session.Any && !serialFilter.Matches(rec.Serial) {
				continue
			}

			matched = append(matched, rec)
		}
	}
	return matched, nil
}

// AltSettingName re-walks dev's configuration descriptor to find the
// string-descriptor name for a specific interface/alt-setting pair,
// independent of whichever alt-setting Probe originally selected. A DfuSe
// download that switches alt-settings mid-container needs this to parse
// that alt's own memory layout rather than reusing the first one. The bool
// result reports whether the alt-setting exists on the device at all; a
// false result is not an error, just an absent target.
func AltSettingName(dev usbtransport.Device, desc usbtransport.DeviceDescriptor, configValue, ifaceNumber, altSetting int, quirks dfuproto.Quirk) (string, bool, error) {
	for cfgIndex := 0; cfgIndex < int(desc.NumConfigs); cfgIndex++ {
		raw, err := dev.RawConfigDescriptor(cfgIndex)
		if err != nil {
			continue
		}
		cv, _, ifaces := parseConfigDescriptor(raw)
		if ifaces == nil || cv != configValue {
			continue
		}
		for _, iface := range ifaces {
			if iface.Number != ifaceNumber || iface.AltSetting != altSetting {
				continue
			}
			if iface.StringIndex == 0 {
				return "", true, nil
			}
			utf8 := quirks&dfuproto.QuirkUTF8Serial != 0
			name, err := dev.StringDescriptor(iface.StringIndex, utf8)
			if err != nil {
				return "", true, errors.Wrap(err, "read alt setting string descriptor")
			}
			return name, true, nil
		}
	}
	return "", false, nil
}

func hasMultipleDFUAltSettings(ifaces []rawInterface) bool {
	count := 0
	for _, i := range ifaces {
		if isDFUInterface(i) {
			count++
		}
	}
	return count > 1
}

// classify finds the functional descriptor for this alt-setting (searching
// its own extra bytes, then any other DFU alt-setting's extra bytes on the
// same interface number, then falling back to a synthesized 7-byte
// descriptor) and decides whether this alt-setting is the DFU interface or
// ordinary runtime firmware.
func classify(iface rawInterface, all []rawInterface, numInterfaces int, desc usbtransport.DeviceDescriptor) (FunctionalDescriptor, Mode, bool) {
	if !isDFUInterface(iface) {
		return FunctionalDescriptor{}, Runtime, false
	}

	fd, ok := findFunctional(iface.Extra)
	if !ok {
		for _, other := range all {
			if other.Number == iface.Number && isDFUInterface(other) {
				if fd, ok = findFunctional(other.Extra); ok {
					break
				}
			}
		}
	}
	if !ok {
		// No direct GET_DESCRIPTOR(DFU) control request is made, here or
		// later: the DFU 1.0 default is synthesized so discovery still
		// produces a usable record when no functional descriptor was
		// announced at all.
		fd = FunctionalDescriptor{BcdDFU: 0x0100}
	}

	dfuMode := iface.Protocol == 2

	// ST DfuSe devices often report bInterfaceProtocol 0 instead of 2.
	if fd.BcdDFU == 0x011a && iface.Protocol == 0 {
		dfuMode = true
	}
	// The LPC DFU bootloader reports bInterfaceProtocol 1 (Runtime) instead
	// of 2.
	if desc.Vendor == 0x1fc9 && desc.Product == 0x000c && iface.Protocol == 1 {
		dfuMode = true
	}
	// Old Jabra devices may report bInterfaceProtocol 0 instead of 2; in
	// DFU mode their configuration descriptor has only one interface, and
	// the runtime and DFU PIDs are the same.
	if desc.Vendor == 0x0b0e && iface.Protocol == 0 && numInterfaces == 1 {
		dfuMode = true
	}

	mode := Runtime
	if dfuMode {
		mode = DFU
	}
	return fd, mode, true
}

func matchesMode(rec Record, filter session.MatchFilter) bool {
	if rec.Mode == Runtime {
		return filter.RuntimeVendor.Matches(uint32(rec.Desc.Vendor)) &&
			filter.RuntimeProduct.Matches(uint32(rec.Desc.Product))
	}
	return filter.DFUVendor.Matches(uint32(rec.Desc.Vendor)) &&
		filter.DFUProduct.Matches(uint32(rec.Desc.Product))
}

func portPathString(desc usbtransport.DeviceDescriptor) string {
	s := fmt.Sprintf("%d", desc.Bus)
	for _, p := range desc.Port {
		s += fmt.Sprintf("-%d", p)
	}
	return s
}
