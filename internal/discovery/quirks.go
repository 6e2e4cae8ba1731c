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

import (
	"encoding/json"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"

	"github.com/rcaelers/go-dfu-util/internal/dfuproto"
)

// quirkEntry is one row of the built-in quirks table: a (vendor, product)
// pair, an optional bcdDevice range (BcdMin==BcdMax==0 means "any
// revision"), and the flags that apply.
type quirkEntry struct {
	Vendor, Product uint16
	BcdMin, BcdMax  uint16
	Flags           dfuproto.Quirk
}

// builtinQuirks mirrors the table the real tool keeps for known-buggy DFU
// implementations; one row per documented workaround.
var builtinQuirks = []quirkEntry{
	// STM32 DfuSe bootloader reports a too-small or absent memory layout
	// string on some revisions of large-flash parts.
	{Vendor: 0x0483, Product: 0xdf11, Flags: dfuproto.QuirkDfuseLayout},
	// STM32H7 erase-page handling can wedge waiting for GETSTATUS.
	{Vendor: 0x0483, Product: 0xdf11, BcdMin: 0x0200, BcdMax: 0x02ff, Flags: dfuproto.QuirkST_H7EraseStall},
	// STM32F405 under-reports the MASS_ERASE poll timeout by two orders
	// of magnitude.
	{Vendor: 0x0483, Product: 0xdf11, BcdMin: 0x0100, BcdMax: 0x01ff, Flags: dfuproto.QuirkST_F405MassEraseLie},
	// LPC1343 reference bootloader reports protocol 1 but is already in
	// DFU mode.
	{Vendor: 0x1fc9, Product: 0x000c, Flags: dfuproto.QuirkForceDFU11},
	// Jabra devices with a single combined interface behave the same way.
	{Vendor: 0x0b0e, Product: 0, Flags: dfuproto.QuirkForceDFU11},
}

// Registry resolves (vendor, product, bcdDevice) to the applicable quirk
// flags, built from the compiled-in table and an optional user overlay.
type Registry struct {
	entries []quirkEntry
}

// NewRegistry builds a registry from the built-in table alone.
func NewRegistry() *Registry {
	return &Registry{entries: append([]quirkEntry(nil), builtinQuirks...)}
}

// overlayEntry is the JSON shape of a user-supplied quirks.json row.
type overlayEntry struct {
	Vendor  uint16 `json:"vendor"`
	Product uint16 `json:"product"`
	BcdMin  uint16 `json:"bcdMin"`
	BcdMax  uint16 `json:"bcdMax"`
	Flags   uint32 `json:"flags"`
}

// LoadOverlay merges a user quirks file (resolved through the user's home
// directory when given as "~/...") over the built-in table. A missing file
// is not an error -- the overlay is optional.
func (r *Registry) LoadOverlay(path string) error {
	if path == "" {
		return nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return errors.Wrap(err, "expand quirks overlay path")
	}
	data, err := os.ReadFile(filepath.Clean(expanded))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read quirks overlay")
	}
	var rows []overlayEntry
	if err := json.Unmarshal(data, &rows); err != nil {
		return errors.Wrap(err, "parse quirks overlay")
	}
	for _, row := range rows {
		r.entries = append(r.entries, quirkEntry{
			Vendor: row.Vendor, Product: row.Product,
			BcdMin: row.BcdMin, BcdMax: row.BcdMax,
			Flags: dfuproto.Quirk(row.Flags),
		})
	}
	return nil
}

// Lookup returns the OR of every matching row's flags. A row with
// BcdMin==BcdMax==0 matches any bcdDevice; rows are additive, never
// exclusive, since a device can combine independent workarounds.
func (r *Registry) Lookup(vendor, product, bcdDevice uint16) dfuproto.Quirk {
	var flags dfuproto.Quirk
	for _, e := range r.entries {
		if e.Vendor != vendor || e.Product != product {
			continue
		}
		if e.BcdMin != 0 || e.BcdMax != 0 {
			if bcdDevice < e.BcdMin || bcdDevice > e.BcdMax {
				continue
			}
		}
		flags |= e.Flags
	}
	return flags
}
