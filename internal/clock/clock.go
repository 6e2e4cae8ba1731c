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

// Package clock abstracts the millisecond sleeps the DFU poll loop depends
// on, so tests can drive the state engine without real wall-clock delay.
package clock

import "time"

// Clock sleeps for a duration given in milliseconds.
type Clock interface {
	SleepMillis(ms int)
}

// Real sleeps using time.Sleep.
type Real struct{}

func (Real) SleepMillis(ms int) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// Mock records every requested sleep instead of blocking, for tests that
// need to assert on the poll loop's timing decisions without waiting.
type Mock struct {
	Sleeps []int
}

func (m *Mock) SleepMillis(ms int) {
	m.Sleeps = append(m.Sleeps, ms)
}
