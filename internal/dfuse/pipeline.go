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

import "github.com/pkg/errors"

// Element is one address-tagged chunk of firmware, either read directly
// from a DfuSeOptions address/length pair (raw download) or decoded from a
// DfuSe file container target.
type Element struct {
	Address uint32
	Data    []byte
}

// Progress mirrors internal/transfer.Progress; duplicated rather than
// imported to keep this package's dependency on internal/transfer out of
// its hot path (it already has enough of its own state).
type Progress func(value, maxValue int64, info string)

// DownloadOptions are the DfuSe-specific knobs the orchestrator's "-s"
// suboptions feed into the pipeline.
type DownloadOptions struct {
	Force     bool // write pages outside the known layout, or unwriteable
	MassErase bool // erase the whole device instead of per-page erase
}

// pageFloor rounds addr down to the start of its containing page-size
// boundary, using pageSize directly since DfuSe pages are always a power
// of two in practice and page-aligned from the base address.
func pageFloor(addr, pageSize uint32) uint32 {
	if pageSize == 0 {
		return addr
	}
	return addr - (addr % pageSize)
}

// Erase walks element's address range in chunks of at most transferSize
// and erases every distinct page it overlaps, skipping a page whose
// aligned address equals *lastErasedPage -- the per-session dedup field
// that must be reset by the caller whenever the device or memory layout
// changes. MassErase bypasses all of this: it is issued once, by the
// caller, before any element is processed.
func Erase(cmd *Commander, layout Layout, el Element, transferSize int, opts DownloadOptions, lastErasedPage *uint32) error {
	if opts.MassErase {
		return nil
	}
	if transferSize <= 0 {
		return errors.New("dfuse erase: transfer size must be positive")
	}

	addr := el.Address
	end := el.Address + uint32(len(el.Data))
	for addr < end {
		chunkEnd := addr + uint32(transferSize)
		if chunkEnd > end {
			chunkEnd = end
		}

		for a := addr; a < chunkEnd; {
			if err := eraseCoveringPage(cmd, layout, a, opts, lastErasedPage); err != nil {
				return err
			}
			seg, ok := layout.Find(a)
			if !ok || seg.PageSize == 0 {
				break
			}
			next := pageFloor(a, seg.PageSize) + seg.PageSize
			if next <= a {
				break
			}
			a = next
		}
		lastByte := chunkEnd - 1
		if err := eraseCoveringPage(cmd, layout, lastByte, opts, lastErasedPage); err != nil {
			return err
		}

		addr = chunkEnd
	}
	return nil
}

func eraseCoveringPage(cmd *Commander, layout Layout, addr uint32, opts DownloadOptions, lastErasedPage *uint32) error {
	seg, ok := layout.Find(addr)
	if !ok {
		if opts.Force {
			return nil // outside known layout: nothing to dedup against
		}
		return errors.Errorf("dfuse erase: address 0x%08x is outside the known memory layout", addr)
	}
	if seg.Flags&Erasable == 0 {
		if opts.Force {
			return nil
		}
		return errors.Errorf("dfuse erase: page at 0x%08x is not erasable", addr)
	}

	page := pageFloor(addr, seg.PageSize)
	if lastErasedPage != nil && *lastErasedPage == page {
		return nil
	}
	if err := cmd.ErasePage(page); err != nil {
		return errors.Wrapf(err, "dfuse erase: page 0x%08x", page)
	}
	if lastErasedPage != nil {
		*lastErasedPage = page
	}
	return nil
}

// Write streams element's data in chunks of at most transferSize bytes,
// issuing SET_ADDRESS before each chunk and failing if the device
// transfers fewer bytes than requested.
func Write(cmd *Commander, layout Layout, el Element, transferSize int, opts DownloadOptions, progress Progress) error {
	if transferSize <= 0 {
		return errors.New("dfuse write: transfer size must be positive")
	}

	total := int64(len(el.Data))
	var sent int64
	addr := el.Address
	remaining := el.Data

	for len(remaining) > 0 {
		if !opts.Force {
			seg, ok := layout.Find(addr)
			if !ok {
				return errors.Errorf("dfuse write: address 0x%08x is outside the known memory layout", addr)
			}
			if seg.Flags&Writeable == 0 {
				return errors.Errorf("dfuse write: page at 0x%08x is not writeable", addr)
			}
		}

		n := transferSize
		if n > len(remaining) {
			n = len(remaining)
		}
		chunk := remaining[:n]

		if err := cmd.SetAddress(addr); err != nil {
			return errors.Wrapf(err, "dfuse write: set address 0x%08x", addr)
		}
		if err := cmd.WriteData(chunk); err != nil {
			return errors.Wrapf(err, "dfuse write: chunk at 0x%08x", addr)
		}

		sent += int64(n)
		if progress != nil {
			progress(sent, total, "dfuse write")
		}

		addr += uint32(n)
		remaining = remaining[n:]
	}
	return nil
}

// DownloadElement runs the full erase-then-write pipeline for one element.
func DownloadElement(cmd *Commander, layout Layout, el Element, transferSize int, opts DownloadOptions, lastErasedPage *uint32, progress Progress) error {
	if err := Erase(cmd, layout, el, transferSize, opts, lastErasedPage); err != nil {
		return err
	}
	return Write(cmd, layout, el, transferSize, opts, progress)
}
