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

package session

import "time"

// Mode selects what the orchestrator's Execute phase does.
type Mode int

const (
	ModeNone Mode = iota
	ModeList
	ModeDetach
	ModeUpload
	ModeDownload
)

// DfuSeOptions carries the parsed "-s address:opt:opt..." suboptions.
type DfuSeOptions struct {
	Active    bool
	Address   *uint32
	Length    *uint32
	Force     bool
	Leave     bool
	Unprotect bool
	MassErase bool
	WillReset bool
}

// Config is the fully parsed, validated set of run options. It is built
// once by the CLI layer and handed to the orchestrator unchanged; nothing
// below the orchestrator reads flags directly.
type Config struct {
	Filter MatchFilter

	Mode Mode

	UploadFile   string
	DownloadFile string
	UploadSize   uint32 // 0 = unbounded, stop on short packet only

	TransferSize uint32 // 0 = let device/negotiation decide

	Detach      bool
	DetachDelay time.Duration
	FinalReset  bool
	Wait        bool

	DfuSe DfuSeOptions

	QuirksOverrideFile string
}
