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

// Package dfuerr classifies failures into the taxonomy the CLI layer maps
// to a sysexits code: usage, I/O, protocol, data, software and
// out-of-memory. Every internal package wraps its failures with
// github.com/pkg/errors and, at the boundary that knows which taxonomy
// applies, with one of the constructors below so cmd can recover the right
// exit code via KindOf.
package dfuerr

import "github.com/pkg/errors"

// Kind is the error taxonomy from the error handling design.
type Kind int

const (
	Usage Kind = iota
	Io
	Protocol
	Data
	Software
	OutOfMemory
)

// Error is a taxonomy-tagged error. Cause() unwraps to the wrapped error so
// github.com/pkg/errors.Cause still reaches the original failure if needed,
// but errors.As-style callers should match on *Error directly to read Kind.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Cause() error  { return e.err }
func (e *Error) Unwrap() error { return e.err }

func newf(kind Kind, err error) error {
	return &Error{Kind: kind, err: err}
}

func Usagef(format string, args ...interface{}) error {
	return newf(Usage, errors.Errorf(format, args...))
}

func WrapUsage(err error, msg string) error {
	if err == nil {
		return nil
	}
	return newf(Usage, errors.Wrap(err, msg))
}

func WrapIo(err error, msg string) error {
	if err == nil {
		return nil
	}
	return newf(Io, errors.Wrap(err, msg))
}

func WrapProtocol(err error, msg string) error {
	if err == nil {
		return nil
	}
	return newf(Protocol, errors.Wrap(err, msg))
}

func Protocolf(format string, args ...interface{}) error {
	return newf(Protocol, errors.Errorf(format, args...))
}

func WrapData(err error, msg string) error {
	if err == nil {
		return nil
	}
	return newf(Data, errors.Wrap(err, msg))
}

func Dataf(format string, args ...interface{}) error {
	return newf(Data, errors.Errorf(format, args...))
}

func WrapSoftware(err error, msg string) error {
	if err == nil {
		return nil
	}
	return newf(Software, errors.Wrap(err, msg))
}

// KindOf walks the error chain (both pkg/errors causers and stdlib
// Unwrap-ers) looking for a *Error, returning its Kind or Software if none
// is found -- an untagged error is treated as a programming mistake.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		type causer interface{ Cause() error }
		type unwrapper interface{ Unwrap() error }
		if c, ok := err.(causer); ok {
			err = c.Cause()
			continue
		}
		if u, ok := err.(unwrapper); ok {
			err = u.Unwrap()
			continue
		}
		break
	}
	return Software
}
