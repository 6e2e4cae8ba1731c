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

// Package dfuse implements the ST DfuSe 1.1a extension: the per-alt-setting
// memory layout string, the address-oriented special commands, the
// erase/write download pipeline, and the DfuSe file container parser.
package dfuse

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// SegmentFlags marks what a memory segment supports.
type SegmentFlags uint8

const (
	Readable SegmentFlags = 1 << iota
	Erasable
	Writeable
)

// Segment is one contiguous, fixed-page-size region of device memory.
type Segment struct {
	Start    uint32
	End      uint32 // exclusive
	PageSize uint32
	Flags    SegmentFlags
}

// Contains reports whether addr falls in [Start, End).
func (s Segment) Contains(addr uint32) bool {
	return addr >= s.Start && addr < s.End
}

// Layout is an ordered, non-overlapping set of memory segments parsed from
// one alt-setting name string.
type Layout struct {
	Name     string
	Segments []Segment
}

// Find returns the segment containing addr, or false if none does.
func (l Layout) Find(addr uint32) (Segment, bool) {
	i := sort.Search(len(l.Segments), func(i int) bool { return l.Segments[i].End > addr })
	if i < len(l.Segments) && l.Segments[i].Contains(addr) {
		return l.Segments[i], true
	}
	return Segment{}, false
}

// ParseLayout decodes a DfuSe alt-setting name of the form
// "@name/address/N1*SIZE1<unit1><mode1>,N2*SIZE2<unit2><mode2>,...". Names
// not beginning with '@' are not a DfuSe layout at all, and ParseLayout
// returns (Layout{}, false, nil) rather than an error -- plain DFU devices
// commonly name their one alt-setting something else entirely.
func ParseLayout(name string) (Layout, bool, error) {
	if !strings.HasPrefix(name, "@") {
		return Layout{}, false, nil
	}

	parts := strings.SplitN(name[1:], "/", 3)
	if len(parts) != 3 {
		return Layout{}, false, errors.Errorf("dfuse layout %q: expected @name/address/sectors", name)
	}

	regionName := strings.TrimSpace(parts[0])
	addr, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 0, 32)
	if err != nil {
		return Layout{}, false, errors.Wrapf(err, "dfuse layout %q: bad base address", name)
	}

	cur := uint32(addr)
	var segments []Segment
	for _, spec := range strings.Split(parts[2], ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		seg, size, err := parseSectorSpec(spec, cur)
		if err != nil {
			return Layout{}, false, errors.Wrapf(err, "dfuse layout %q", name)
		}
		segments = append(segments, seg...)
		cur += size
	}

	return Layout{Name: regionName, Segments: segments}, true, nil
}

// parseSectorSpec decodes one "N*SIZE<unit><mode>" token into N fixed-size
// segments starting at base, plus the total byte span it consumed.
func parseSectorSpec(spec string, base uint32) ([]Segment, uint32, error) {
	star := strings.IndexByte(spec, '*')
	if star < 0 {
		return nil, 0, errors.Errorf("missing '*' in sector spec %q", spec)
	}
	count, err := strconv.ParseUint(spec[:star], 10, 32)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "bad sector count in %q", spec)
	}

	rest := spec[star+1:]
	digitEnd := 0
	for digitEnd < len(rest) && rest[digitEnd] >= '0' && rest[digitEnd] <= '9' {
		digitEnd++
	}
	if digitEnd == 0 {
		return nil, 0, errors.Errorf("missing sector size in %q", spec)
	}
	size, err := strconv.ParseUint(rest[:digitEnd], 10, 32)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "bad sector size in %q", spec)
	}

	rest = rest[digitEnd:]
	if len(rest) == 0 {
		return nil, 0, errors.Errorf("missing unit/mode in %q", spec)
	}
	multiplier := uint64(1)
	switch rest[0] {
	case 'K':
		multiplier = 1024
		rest = rest[1:]
	case 'M':
		multiplier = 1024 * 1024
		rest = rest[1:]
	case ' ':
		rest = rest[1:]
	}
	pageSize := uint32(size * multiplier)

	// The mode is a single ASCII letter whose low 3 bits are the flag
	// bitmask: 'a'=1 (readable), 'b'=2 (erasable), 'c'=3, 'd'=4
	// (writeable), 'e'=5, 'f'=6, 'g'=7. 'w' never appears in real DfuSe
	// strings; it is not a mode letter.
	var flags SegmentFlags
	if len(rest) > 0 && rest[0] >= 'a' && rest[0] <= 'g' {
		flags = SegmentFlags((rest[0] - 'a' + 1) & 0x7)
	}

	segments := make([]Segment, 0, count)
	addr := base
	for i := uint64(0); i < count; i++ {
		segments = append(segments, Segment{Start: addr, End: addr + pageSize, PageSize: pageSize, Flags: flags})
		addr += pageSize
	}
	return segments, uint32(uint64(pageSize) * count), nil
}

// Serialize renders a Layout back to its alt-setting name string, run-
// length-encoding consecutive segments that share page size and flags.
// Serialize(Parse(s)) == s is not guaranteed byte-for-byte (unit choice and
// whitespace are not preserved). Parse(Serialize(l)) == l holds for layouts
// whose segments are contiguous from the first Start and each span exactly
// one page, as Parse produces; only the first segment's Start is written,
// so gaps between segments are not preserved.
func Serialize(l Layout) string {
	var b strings.Builder
	b.WriteByte('@')
	b.WriteString(l.Name)
	b.WriteByte('/')
	if len(l.Segments) == 0 {
		b.WriteString("0x00000000/")
		return b.String()
	}
	b.WriteString("0x")
	b.WriteString(strconv.FormatUint(uint64(l.Segments[0].Start), 16))
	b.WriteByte('/')

	i := 0
	first := true
	for i < len(l.Segments) {
		j := i + 1
		for j < len(l.Segments) && l.Segments[j].PageSize == l.Segments[i].PageSize && l.Segments[j].Flags == l.Segments[i].Flags {
			j++
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(strconv.Itoa(j - i))
		b.WriteByte('*')
		b.WriteString(strconv.FormatUint(uint64(l.Segments[i].PageSize), 10))
		b.WriteByte(' ')
		b.WriteByte(flagLetter(l.Segments[i].Flags))
		i = j
	}
	return b.String()
}

// flagLetter renders a flag bitmask back to its single DfuSe mode letter:
// the inverse of the "letter & 7" decode in parseSectorSpec.
func flagLetter(f SegmentFlags) byte {
	bits := byte(f & 0x7)
	if bits == 0 {
		return 'a'
	}
	return 'a' + bits - 1
}
