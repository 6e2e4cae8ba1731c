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

// Package sysexits defines the process exit codes the CLI surface returns,
// following the conventions of BSD sysexits.h as used by dfu-util.
package sysexits

// Code is a process exit status.
type Code int

const (
	OK          Code = 0
	Usage       Code = 64
	DataErr     Code = 65
	NoInput     Code = 66
	Unavailable Code = 69
	Software    Code = 70
	IOErr       Code = 74
	Protocol    Code = 76
	CantCreate  Code = 73
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case Usage:
		return "usage"
	case DataErr:
		return "data error"
	case NoInput:
		return "cannot open input"
	case Unavailable:
		return "unavailable"
	case Software:
		return "software error"
	case IOErr:
		return "i/o error"
	case Protocol:
		return "protocol error"
	case CantCreate:
		return "cannot create output"
	default:
		return "unknown"
	}
}
