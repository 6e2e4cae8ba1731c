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

// Package transfer implements the plain DFU 1.0/1.1 chunked upload and
// download engine: transaction sequencing, the zero-length terminator,
// and manifestation handling. It knows nothing about DfuSe --
// internal/dfuse layers address-oriented commands on top of the same
// Dnload/Upload primitives this package also uses.
package transfer

import (
	"io"

	"github.com/pkg/errors"

	"github.com/rcaelers/go-dfu-util/internal/clock"
	"github.com/rcaelers/go-dfu-util/internal/dfuproto"
)

// Progress is called after every chunk with bytes transferred so far, the
// expected total (0 if unknown), and a short phase description.
type Progress func(value, maxValue int64, info string)

// Download streams src to the device in chunks of at most transferSize
// bytes, starting transaction numbers at 0, and issues the zero-length
// terminator DNLOAD after the last data chunk. size, if known, drives the
// progress callback's max value; pass 0 when unknown. manifestationTolerant
// should come from the device's FunctionalDescriptor.ManifestationTolerant:
// when clear, the device may stall or error on a GETSTATUS sent right after
// the terminator, so manifestation is treated as successful without
// issuing one.
func Download(req *dfuproto.Requester, clk clock.Clock, src io.Reader, size int64, transferSize int, quirks dfuproto.Quirk, manifestationTolerant bool, progress Progress) error {
	if transferSize <= 0 {
		return errors.New("download: transfer size must be positive")
	}
	buf := make([]byte, transferSize)
	var transaction uint16
	var sent int64

	for {
		n, err := io.ReadFull(src, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return errors.Wrap(err, "download: read firmware")
		}
		if n == 0 {
			break
		}
		chunk := buf[:n]

		if err := req.Dnload(transaction, chunk); err != nil {
			return errors.Wrapf(err, "download: DNLOAD transaction %d", transaction)
		}
		if _, perr := dfuproto.PollUntilNotBusy(req, clk, dfuproto.PollOptions{Quirks: quirks}); perr != nil {
			return errors.Wrapf(perr, "download: poll after transaction %d", transaction)
		}

		sent += int64(n)
		if progress != nil {
			progress(sent, size, "download")
		}

		transaction++
		if n < transferSize {
			break
		}
	}

	// Terminator: a zero-length DNLOAD tells the device the image is
	// complete and begins manifestation.
	if err := req.Dnload(transaction, nil); err != nil {
		return errors.Wrap(err, "download: terminator DNLOAD")
	}

	if !manifestationTolerant {
		return nil
	}

	status, err := dfuproto.PollUntilNotBusy(req, clk, dfuproto.PollOptions{Quirks: quirks})
	if err != nil {
		return errors.Wrap(err, "download: poll after terminator")
	}
	if status.State == dfuproto.DfuError {
		return errors.Errorf("download: device reported error status %d after manifestation", status.Status)
	}
	return nil
}

// Upload requests chunks of at most transferSize bytes starting at
// transaction 2 (0 and 1 are reserved by the DNLOAD side of the protocol
// and never appear on an UPLOAD-only device) and writes each to dst,
// stopping at the first short read or once limit bytes have been
// collected (limit 0 means unbounded).
func Upload(req *dfuproto.Requester, dst io.Writer, transferSize int, limit int64, progress Progress) error {
	if transferSize <= 0 {
		return errors.New("upload: transfer size must be positive")
	}
	buf := make([]byte, transferSize)
	var transaction uint16 = 2
	var received int64

	for {
		n, err := req.Upload(transaction, buf)
		if err != nil {
			return errors.Wrapf(err, "upload: transaction %d", transaction)
		}
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return errors.Wrap(werr, "upload: write firmware")
			}
			received += int64(n)
			if progress != nil {
				progress(received, limit, "upload")
			}
		}

		transaction++
		if n < transferSize {
			return nil
		}
		if limit > 0 && received >= limit {
			return nil
		}
	}
}
