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

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcaelers/go-dfu-util/internal/session"
)

func TestApplyDeviceSpec_SinglePairMatchesBothModes(t *testing.T) {
	f := session.NewMatchFilter()
	require.NoError(t, applyDeviceSpec(&f, "0483:df11"))
	assert.True(t, f.RuntimeVendor.Matches(0x0483))
	assert.True(t, f.DFUVendor.Matches(0x0483))
	assert.True(t, f.DFUProduct.Matches(0xdf11))
}

func TestApplyDeviceSpec_SecondPairOverridesDFUSideOnly(t *testing.T) {
	f := session.NewMatchFilter()
	require.NoError(t, applyDeviceSpec(&f, "0x1234:0x0001,0x0483:0xdf11"))
	assert.True(t, f.RuntimeVendor.Matches(0x1234))
	assert.True(t, f.DFUVendor.Matches(0x0483))
	assert.False(t, f.DFUVendor.Matches(0x1234))
}

func TestApplyDeviceSpec_NeverTokenSuppressesMatching(t *testing.T) {
	f := session.NewMatchFilter()
	require.NoError(t, applyDeviceSpec(&f, "-:-,0483:df11"))
	assert.False(t, f.RuntimeVendor.Matches(0x1234))
	assert.False(t, f.RuntimeVendor.Matches(0))
}

func TestParseDfuSeAddress_ParsesAddressAndSuboptions(t *testing.T) {
	opts, err := parseDfuSeAddress("0x08000000:force:leave:256")
	require.NoError(t, err)
	require.NotNil(t, opts.Address)
	assert.Equal(t, uint32(0x08000000), *opts.Address)
	assert.True(t, opts.Force)
	assert.True(t, opts.Leave)
	require.NotNil(t, opts.Length)
	assert.Equal(t, uint32(256), *opts.Length)
}

func TestParseDfuSeAddress_RejectsUnknownSuboption(t *testing.T) {
	_, err := parseDfuSeAddress("0x08000000:bogus")
	require.Error(t, err)
}

func TestBuildConfig_RequiresAMode(t *testing.T) {
	_, err := buildConfig(rootOptions{intf: -1})
	require.Error(t, err)
}
