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

// Package cmd wires the cobra command surface onto internal/orchestrator.
// Unlike the nRF tool this is adapted from, which split scan/dfu/boot
// across three BLE-specific subcommands, a DFU host tool has one job
// controlled by mode flags -- so the whole surface lives on the root
// command, the way the real tool's flag set does.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/rcaelers/go-dfu-util/internal/clock"
	"github.com/rcaelers/go-dfu-util/internal/dfuerr"
	"github.com/rcaelers/go-dfu-util/internal/discovery"
	"github.com/rcaelers/go-dfu-util/internal/orchestrator"
	"github.com/rcaelers/go-dfu-util/internal/sysexits"
	"github.com/rcaelers/go-dfu-util/internal/usbtransport"
)

// Command is the interface every command wraps, a holdover from a
// multi-command layout even though this tool only ever has one.
type Command interface {
	init(cli *Cli)
	getCommand() *cobra.Command
}

type baseCommand struct {
	cmd *cobra.Command
	cli *Cli
}

func (c *baseCommand) init(cli *Cli) { c.cli = cli }

func (c *baseCommand) getCommand() *cobra.Command { return c.cmd }

func newBaseCommand(cmd *cobra.Command) *baseCommand {
	return &baseCommand{cmd: cmd}
}

// rootOptions holds the root command's own flags before they are folded
// into a session.Config by buildConfig.
type rootOptions struct {
	verbosity   int
	listOnly    bool
	detach      bool
	detachDelay time.Duration
	device      string
	path        string
	cfgValue    int
	intf        int
	alt         string
	serial      string
	devnum      int
	transferSz  uint32
	uploadFile  string
	uploadSize  uint32
	downloadFl  string
	finalReset  bool
	wait        bool
	dfuseAddr   string
	quirksFile  string
}

// Cli is the whole command tree; kept as a type (rather than a bare
// *cobra.Command) so initLogging and Execute can live next to it.
type Cli struct {
	*baseCommand
	opts rootOptions
}

// NewCli builds the root command and binds every flag from the external
// interface surface directly onto it.
func NewCli() *Cli {
	c := &Cli{}

	c.baseCommand = newBaseCommand(&cobra.Command{
		Use:     "go-dfu-util",
		Short:   "Perform USB Device Firmware Upgrade (DFU and DfuSe) transfers",
		Version: "0.1",
		Args:    cobra.NoArgs,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.initLogging()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run()
		},
	})

	c.cmd.SilenceUsage = true
	c.cmd.SilenceErrors = true

	flags := c.cmd.Flags()
	flags.BoolP("version", "V", false, "print the version and exit")
	flags.CountVarP(&c.opts.verbosity, "verbose", "v", "increase verbosity (repeatable)")
	flags.BoolVarP(&c.opts.listOnly, "list", "l", false, "list matching USB DFU capable devices")
	flags.BoolVarP(&c.opts.detach, "detach", "e", false, "send DFU detach request and continue into DFU mode")
	flags.DurationVarP(&c.opts.detachDelay, "detach-delay", "E", 5*time.Second, "time to wait after detach before re-probing")
	flags.StringVarP(&c.opts.device, "device", "d", "", "filter by vendor:product[,vendor_dfu:product_dfu]; * = any, - = never")
	flags.StringVarP(&c.opts.path, "path", "p", "", "filter by USB bus-port.port… path")
	flags.IntVarP(&c.opts.cfgValue, "cfg", "c", 0, "filter by configuration value (0 = any)")
	flags.IntVarP(&c.opts.intf, "intf", "i", -1, "filter by interface number (-1 = any)")
	flags.StringVarP(&c.opts.alt, "alt", "a", "", "filter by alt-setting index or name")
	flags.StringVarP(&c.opts.serial, "serial", "S", "", "filter by serial number, runtime[,dfu]")
	flags.IntVarP(&c.opts.devnum, "devnum", "n", 0, "filter by device bus address (0 = any)")
	flags.Uint32VarP(&c.opts.transferSz, "transfer-size", "t", 0, "control transfer chunk size (0 = negotiate)")
	flags.StringVarP(&c.opts.uploadFile, "upload", "U", "", "read firmware from the device into this file")
	flags.Uint32VarP(&c.opts.uploadSize, "upload-size", "Z", 0, "stop uploading after this many bytes (0 = unbounded)")
	flags.StringVarP(&c.opts.downloadFl, "download", "D", "", "write this file's firmware to the device")
	flags.BoolVarP(&c.opts.finalReset, "reset", "R", false, "issue a USB bus reset once the transfer completes")
	flags.BoolVarP(&c.opts.wait, "wait", "w", false, "wait for the device to appear instead of failing immediately")
	flags.StringVarP(&c.opts.dfuseAddr, "dfuse-address", "s", "", "DfuSe address[:opt[:opt…]] (force, leave, mass-erase, unprotect, will-reset)")
	flags.StringVar(&c.opts.quirksFile, "quirks-file", "", "path to a JSON quirks overlay, ~ expanded")

	return c
}

func (c *Cli) initLogging() {
	switch {
	case c.opts.verbosity >= 2:
		jww.SetStdoutThreshold(jww.LevelTrace)
	case c.opts.verbosity == 1:
		jww.SetStdoutThreshold(jww.LevelDebug)
	default:
		jww.SetStdoutThreshold(jww.LevelInfo)
	}
}

// Execute runs the command tree and maps any returned error to a sysexits
// code, per the error handling design's user-visible behavior: the phase
// that failed is always named by the wrapped error chain jww already
// logged it against.
func (c *Cli) Execute() {
	if err := c.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if c.opts.verbosity >= 2 {
			fmt.Fprintln(os.Stderr, spew.Sdump(c.opts))
		}
		os.Exit(int(sysexitFor(dfuerr.KindOf(err))))
	}
}

func (c *Cli) run() error {
	cfg, err := buildConfig(c.opts)
	if err != nil {
		return err
	}

	ctx := usbtransport.NewContext()
	defer ctx.Close()

	quirks := discovery.NewRegistry()
	clk := &clock.Real{}

	var bar *pb.ProgressBar
	progress := func(value, maxValue int64, info string) {
		if bar == nil {
			bar = pb.ProgressBarTemplate(`{{ white "DFU:" }} {{bar . | green}} {{speed . "%s byte/s" | white }}`).Start(100)
		}
		if bar.Total() != maxValue {
			bar.SetTotal(maxValue)
		}
		bar.SetCurrent(value)
		_ = info
	}

	err = orchestrator.Run(ctx, cfg, clk, quirks, os.Stdout, progress)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return errors.Wrap(err, "dfu operation failed")
	}
	return nil
}

func sysexitFor(kind dfuerr.Kind) sysexits.Code {
	switch kind {
	case dfuerr.Usage:
		return sysexits.Usage
	case dfuerr.Io:
		return sysexits.IOErr
	case dfuerr.Protocol:
		return sysexits.Protocol
	case dfuerr.Data:
		return sysexits.DataErr
	case dfuerr.OutOfMemory:
		return sysexits.Unavailable
	default:
		return sysexits.Software
	}
}
