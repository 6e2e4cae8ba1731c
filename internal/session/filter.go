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

// Package session holds the orchestrator's data model: the match filter
// (modeled as tagged variants rather than sentinel integers), the DfuSe
// options, and the overall run configuration.
package session

// FieldKind distinguishes the three states a match field can be in,
// replacing a single overloaded integer per field: -1 meaning "don't
// care", and a magic out-of-range value (0x10000, bigger than any real
// vendor/product ID) meaning "must not match anything" -- used to disable
// runtime-ID matching once DFU-mode IDs were supplied on the command line.
// Tagging the state explicitly removes the dual meaning.
type FieldKind int

const (
	Any FieldKind = iota
	Exact
	Never
)

// Field is one optional match dimension over a uint32-sized value (vendor
// ID, product ID, devnum, interface/alt-setting index all fit).
type Field struct {
	Kind  FieldKind
	Value uint32
}

// AnyField matches every device.
func AnyField() Field { return Field{Kind: Any} }

// ExactField matches only devices reporting exactly this value.
func ExactField(v uint32) Field { return Field{Kind: Exact, Value: v} }

// NeverField matches no device; used to suppress runtime-mode matching once
// the caller has pinned DFU-mode vendor/product IDs instead.
func NeverField() Field { return Field{Kind: Never} }

// Matches reports whether the field accepts the given candidate value.
func (f Field) Matches(v uint32) bool {
	switch f.Kind {
	case Any:
		return true
	case Exact:
		return f.Value == v
	case Never:
		return false
	default:
		return false
	}
}

// StringField is the string-valued analogue of Field, used for serial
// numbers and alt-setting names, which have no natural "impossible" numeric
// sentinel.
type StringField struct {
	Kind  FieldKind
	Value string
}

func AnyStringField() StringField { return StringField{Kind: Any} }

func ExactStringField(v string) StringField { return StringField{Kind: Exact, Value: v} }

func (f StringField) Matches(v string) bool {
	switch f.Kind {
	case Any:
		return true
	case Exact:
		return f.Value == v
	case Never:
		return false
	default:
		return false
	}
}

// MatchFilter is the full set of dimensions a discovery probe narrows
// candidate interfaces by. Every field defaults to Any.
type MatchFilter struct {
	Path string // non-empty enables bus/port-path filtering

	RuntimeVendor  Field
	RuntimeProduct Field
	DFUVendor      Field
	DFUProduct     Field

	Config    Field // configuration value
	Interface Field // interface number
	AltIndex  Field // alt-setting index, DFU mode only
	AltName   StringField
	DevNum    Field

	RuntimeSerial StringField
	DFUSerial     StringField
}

// NewMatchFilter returns a filter with every dimension set to Any.
func NewMatchFilter() MatchFilter {
	return MatchFilter{
		RuntimeVendor:  AnyField(),
		RuntimeProduct: AnyField(),
		DFUVendor:      AnyField(),
		DFUProduct:     AnyField(),
		Config:         AnyField(),
		Interface:      AnyField(),
		AltIndex:       AnyField(),
		AltName:        AnyStringField(),
		DevNum:         AnyField(),
		RuntimeSerial:  AnyStringField(),
		DFUSerial:      AnyStringField(),
	}
}
