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

package discovery

import "encoding/binary"

const (
	descTypeInterface = 4
	descTypeDFUFunc   = 0x21

	classApplicationSpecific = 0xfe
	subclassDFU              = 0x01
)

// rawInterface is one alt-setting as read from a configuration descriptor,
// with every byte following its 9-byte header up to the next INTERFACE
// descriptor (or end of buffer) carried along unparsed as "extra" -- the
// endpoint descriptors and any class-specific descriptors, among them the
// DFU functional descriptor this package is actually looking for.
type rawInterface struct {
	Number      int
	AltSetting  int
	Class       byte
	SubClass    byte
	Protocol    byte
	StringIndex int
	Extra       []byte
}

// parseConfigDescriptor walks a raw GET_DESCRIPTOR(CONFIGURATION) response
// (config header + chained interface/endpoint/class descriptors) into its
// alt-settings. It does not interpret the bytes beyond finding descriptor
// boundaries; callers search Extra for the DFU functional descriptor.
func parseConfigDescriptor(raw []byte) (configValue int, numInterfaces int, ifaces []rawInterface) {
	if len(raw) < 9 || raw[1] != 2 {
		return 0, 0, nil
	}
	numInterfaces = int(raw[4])
	configValue = int(raw[5])

	offset := int(raw[0]) // skip the 9-byte (or larger) config header
	var cur *rawInterface
	for offset+2 <= len(raw) {
		length := int(raw[offset])
		if length < 2 || offset+length > len(raw) {
			break
		}
		dtype := raw[offset+1]
		if dtype == descTypeInterface && length >= 9 {
			if cur != nil {
				ifaces = append(ifaces, *cur)
			}
			cur = &rawInterface{
				Number:      int(raw[offset+2]),
				AltSetting:  int(raw[offset+3]),
				Class:       raw[offset+5],
				SubClass:    raw[offset+6],
				Protocol:    raw[offset+7],
				StringIndex: int(raw[offset+8]),
			}
		} else if cur != nil {
			cur.Extra = append(cur.Extra, raw[offset:offset+length]...)
		}
		offset += length
	}
	if cur != nil {
		ifaces = append(ifaces, *cur)
	}
	return configValue, numInterfaces, ifaces
}

// FunctionalDescriptor is the decoded 7- or 9-byte DFU functional
// descriptor (USB_DT_DFU, type 0x21).
type FunctionalDescriptor struct {
	Attributes    byte
	DetachTimeout uint16
	TransferSize  uint16
	BcdDFU        uint16
}

// WillDetach reports bitWillDetach (bit 3) of bmAttributes.
func (f FunctionalDescriptor) WillDetach() bool { return f.Attributes&0x08 != 0 }

// ManifestationTolerant reports bitManifestationTolerant (bit 2).
func (f FunctionalDescriptor) ManifestationTolerant() bool { return f.Attributes&0x04 != 0 }

// CanUpload reports bitCanUpload (bit 0).
func (f FunctionalDescriptor) CanUpload() bool { return f.Attributes&0x01 != 0 }

// CanDnload reports bitCanDnload (bit 1).
func (f FunctionalDescriptor) CanDnload() bool { return f.Attributes&0x02 != 0 }

func decodeFunctional(b []byte) (FunctionalDescriptor, bool) {
	if len(b) < 7 || b[1] != descTypeDFUFunc {
		return FunctionalDescriptor{}, false
	}
	fd := FunctionalDescriptor{Attributes: b[2]}
	fd.DetachTimeout = binary.LittleEndian.Uint16(b[3:5])
	if len(b) >= 9 {
		fd.TransferSize = binary.LittleEndian.Uint16(b[5:7])
		fd.BcdDFU = binary.LittleEndian.Uint16(b[7:9])
	} else {
		// A 7-byte descriptor means the device predates DFU 1.1 and
		// never advertised a transfer size; the caller must supply one.
		fd.BcdDFU = 0x0100
	}
	return fd, true
}

// findFunctional searches extra bytes for a DFU functional descriptor,
// scanning forward descriptor-by-descriptor so a malformed trailing byte
// can't be mistaken for one.
func findFunctional(extra []byte) (FunctionalDescriptor, bool) {
	offset := 0
	for offset+2 <= len(extra) {
		length := int(extra[offset])
		if length < 2 || offset+length > len(extra) {
			break
		}
		if extra[offset+1] == descTypeDFUFunc {
			if fd, ok := decodeFunctional(extra[offset : offset+length]); ok {
				return fd, true
			}
		}
		offset += length
	}
	return FunctionalDescriptor{}, false
}

func isDFUInterface(i rawInterface) bool {
	return i.Class == classApplicationSpecific && i.SubClass == subclassDFU
}
