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

// Package dfufile implements the plain-DFU firmware file's optional
// 16-byte trailing suffix: bcdDevice, idProduct, idVendor, bcdDFU, the
// "UFD" signature, suffix length, and a CRC32 covering everything before
// it. This is an orchestrator-level concern -- none of internal/transfer,
// internal/dfuproto or internal/dfuse import it.
package dfufile

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

const (
	suffixLen  = 16
	suffixSig  = "UFD"
	bcdDFUV1_0 = 0x0100
)

// Suffix is the decoded trailing metadata block.
type Suffix struct {
	BcdDevice uint16
	IdProduct uint16
	IdVendor  uint16
	BcdDFU    uint16
}

// Split separates a firmware file's body from its trailing suffix. If the
// last 16 bytes do not carry the "UFD" signature, ok is false and body is
// the whole input unchanged -- the file is headerless raw firmware, which
// is not an error.
func Split(data []byte) (body []byte, suffix Suffix, ok bool, err error) {
	if len(data) < suffixLen {
		return data, Suffix{}, false, nil
	}
	tail := data[len(data)-suffixLen:]
	if string(tail[8:11]) != suffixSig {
		return data, Suffix{}, false, nil
	}
	declaredLen := tail[11]
	if declaredLen != suffixLen {
		return data, Suffix{}, false, errors.Errorf("dfu suffix: unsupported suffix length %d", declaredLen)
	}

	wantCRC := binary.LittleEndian.Uint32(tail[12:16])
	gotCRC := crc32.ChecksumIEEE(data[:len(data)-4])
	if wantCRC != gotCRC {
		return data, Suffix{}, false, errors.Errorf("dfu suffix: CRC32 mismatch (file %08x, computed %08x)", wantCRC, gotCRC)
	}

	s := Suffix{
		BcdDevice: binary.LittleEndian.Uint16(tail[0:2]),
		IdProduct: binary.LittleEndian.Uint16(tail[2:4]),
		IdVendor:  binary.LittleEndian.Uint16(tail[4:6]),
		BcdDFU:    binary.LittleEndian.Uint16(tail[6:8]),
	}
	return data[:len(data)-suffixLen], s, true, nil
}

// Append renders body plus a suffix for (vendor, product, bcdDevice),
// computing the trailing CRC32 over body and the suffix bytes that
// precede it.
func Append(body []byte, vendor, product, bcdDevice uint16) []byte {
	out := make([]byte, len(body)+suffixLen)
	copy(out, body)
	tail := out[len(body):]

	binary.LittleEndian.PutUint16(tail[0:2], bcdDevice)
	binary.LittleEndian.PutUint16(tail[2:4], product)
	binary.LittleEndian.PutUint16(tail[4:6], vendor)
	binary.LittleEndian.PutUint16(tail[6:8], bcdDFUV1_0)
	copy(tail[8:11], suffixSig)
	tail[11] = suffixLen

	crc := crc32.ChecksumIEEE(out[:len(out)-4])
	binary.LittleEndian.PutUint32(tail[12:16], crc)
	return out
}
