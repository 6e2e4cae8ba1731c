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
)

const (
	containerSignature = "DfuSe"
	containerRevision  = 1

	targetPrefixLen    = 274
	targetSignature    = "Target"
	targetNameFieldLen = 255
	elementHeaderLen   = 8
)

// Target is one DfuSe target: the alt-setting it addresses, its name if
// any, and the elements to write there.
type Target struct {
	AltSetting int
	Name       string
	Elements   []Element
}

// File is a fully decoded DfuSe container (the bytes before the plain
// suffix, if any -- stripping that suffix is internal/dfufile's job, not
// this package's).
type File struct {
	Targets []Target
}

// ParseFile decodes a DfuSe container. Every read is bounds-checked
// against the remaining buffer; any element whose declared size exceeds
// what is left is rejected rather than silently truncated or allowed to
// read past the buffer.
func ParseFile(data []byte) (*File, error) {
	if len(data) < 11 || string(data[0:5]) != containerSignature {
		return nil, errors.New("dfuse file: missing \"DfuSe\" signature")
	}
	revision := data[5]
	if revision != containerRevision {
		return nil, errors.Errorf("dfuse file: unsupported format revision %d", revision)
	}
	totalSize := binary.LittleEndian.Uint32(data[6:10])
	if int(totalSize) > len(data) {
		return nil, errors.Errorf("dfuse file: declared image size %d exceeds file size %d", totalSize, len(data))
	}
	targetCount := int(data[10])

	offset := 11
	f := &File{}
	for t := 0; t < targetCount; t++ {
		target, consumed, err := parseTarget(data[offset:])
		if err != nil {
			return nil, errors.Wrapf(err, "dfuse file: target %d", t)
		}
		f.Targets = append(f.Targets, target)
		offset += consumed
	}
	return f, nil
}

func parseTarget(data []byte) (Target, int, error) {
	if len(data) < targetPrefixLen {
		return Target{}, 0, errors.New("truncated target prefix")
	}
	if string(data[0:6]) != targetSignature {
		return Target{}, 0, errors.New("missing \"Target\" signature")
	}
	altSetting := int(data[6])
	named := binary.LittleEndian.Uint32(data[7:11])
	nameBytes := data[11 : 11+targetNameFieldLen]
	targetSize := binary.LittleEndian.Uint32(data[266:270])
	numElements := binary.LittleEndian.Uint32(data[270:274])

	var name string
	if named != 0 {
		name = cString(nameBytes)
	}

	if int(targetSize) > len(data)-targetPrefixLen {
		return Target{}, 0, errors.Errorf("declared target size %d exceeds remaining body", targetSize)
	}

	body := data[targetPrefixLen : targetPrefixLen+int(targetSize)]
	elements := make([]Element, 0, numElements)
	off := 0
	for e := uint32(0); e < numElements; e++ {
		if off+elementHeaderLen > len(body) {
			return Target{}, 0, errors.Errorf("element %d header truncated", e)
		}
		addr := binary.LittleEndian.Uint32(body[off : off+4])
		size := binary.LittleEndian.Uint32(body[off+4 : off+8])
		off += elementHeaderLen
		if int(size) > len(body)-off {
			return Target{}, 0, errors.Errorf("element %d declares size %d beyond remaining target body", e, size)
		}
		payload := make([]byte, size)
		copy(payload, body[off:off+int(size)])
		off += int(size)
		elements = append(elements, Element{Address: addr, Data: payload})
	}

	return Target{AltSetting: altSetting, Name: name, Elements: elements}, targetPrefixLen + int(targetSize), nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// SerializeFile is the inverse of ParseFile, used by tests and by the
// DfuSe upload path to frame the uploaded bytes as a container; keeping it
// next to ParseFile keeps the container framing logic in one place.
func SerializeFile(f *File) []byte {
	var targets []byte
	for _, t := range f.Targets {
		var body []byte
		for _, el := range t.Elements {
			hdr := make([]byte, elementHeaderLen)
			binary.LittleEndian.PutUint32(hdr[0:4], el.Address)
			binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(el.Data)))
			body = append(body, hdr...)
			body = append(body, el.Data...)
		}

		prefix := make([]byte, targetPrefixLen)
		copy(prefix[0:6], targetSignature)
		prefix[6] = byte(t.AltSetting)
		named := uint32(0)
		if t.Name != "" {
			named = 1
			copy(prefix[11:11+targetNameFieldLen], t.Name)
		}
		binary.LittleEndian.PutUint32(prefix[7:11], named)
		binary.LittleEndian.PutUint32(prefix[266:270], uint32(len(body)))
		binary.LittleEndian.PutUint32(prefix[270:274], uint32(len(t.Elements)))

		targets = append(targets, prefix...)
		targets = append(targets, body...)
	}

	out := make([]byte, 11)
	copy(out[0:5], containerSignature)
	out[5] = containerRevision
	binary.LittleEndian.PutUint32(out[6:10], uint32(11+len(targets)))
	out[10] = byte(len(f.Targets))
	out = append(out, targets...)
	return out
}
