package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gladserv/shallfs/engine"
)

func TestDefaultOptions(t *testing.T) {
	opts := engine.DefaultOptions()
	assert.Equal(t, 5, opts.CommitSeconds)
	assert.Equal(t, 4096, opts.CommitSize)
	assert.Equal(t, engine.OverflowWait, opts.Overflow)
	assert.Equal(t, engine.TooBigLog, opts.TooBig)
	assert.Equal(t, engine.LogAfter, opts.Log)
	assert.Equal(t, engine.DataNone, opts.Data)
	assert.Equal(t, "", opts.FSPath)
}

func TestParseOptions(t *testing.T) {
	opts, err := engine.ParseOptions(
		"fs=/mnt/data,overflow=drop,too_big=error,commit=10:8192,log=twice,data=hash",
		engine.DefaultOptions())
	require.Nil(t, err)
	assert.Equal(t, "/mnt/data", opts.FSPath)
	assert.Equal(t, engine.OverflowDrop, opts.Overflow)
	assert.Equal(t, engine.TooBigFail, opts.TooBig)
	assert.Equal(t, 10, opts.CommitSeconds)
	assert.Equal(t, 8192, opts.CommitSize)
	assert.Equal(t, engine.LogTwice, opts.Log)
	assert.Equal(t, engine.DataHash, opts.Data)
}

func TestParseOptionsPathFilter(t *testing.T) {
	opts, err := engine.ParseOptions("fs=/mnt,pathfilter=data/*:logs/app",
		engine.DefaultOptions())
	require.Nil(t, err)
	assert.Equal(t, []string{"data/*", "logs/app"}, opts.PathFilter)
}

func TestParseOptionsEscapes(t *testing.T) {
	opts, err := engine.ParseOptions(`fs=/mnt/with\,comma`,
		engine.DefaultOptions())
	require.Nil(t, err)
	assert.Equal(t, "/mnt/with,comma", opts.FSPath)
}

func TestParseOptionsErrors(t *testing.T) {
	base := engine.DefaultOptions()
	base.FSPath = "/keep"

	for _, bad := range []string{
		"nonsense",
		"option=bogus",
		"overflow=maybe",
		"too_big=never",
		"log=sometimes",
		"data=most",
		"commit=5",
		"commit=0:4096",
		"commit=5:100",
		"pathfilter=/leading",
		"pathfilter=a/../b",
		"pathfilter=fo*o",
		"pathfilter=",
	} {
		got, err := engine.ParseOptions(bad, base)
		assert.NotNil(t, err, "option %q", bad)
		assert.IsType(t, engine.InvalidRequestError(""), err, "option %q", bad)
		assert.Equal(t, base, got, "option %q", bad)
	}
}

func TestOptionsStringRoundTrip(t *testing.T) {
	opts, err := engine.ParseOptions(
		"fs=/mnt/data,overflow=drop,commit=3:16384,data=data,pathfilter=a/*/b:c",
		engine.DefaultOptions())
	require.Nil(t, err)

	again, err := engine.ParseOptions(opts.String(), engine.DefaultOptions())
	require.Nil(t, err)
	assert.Equal(t, opts, again)
	assert.Equal(t, opts.String(), again.String())
}

func TestOptionsStringOrder(t *testing.T) {
	s := engine.DefaultOptions().String()
	assert.Equal(t, "fs=,overflow=wait,too_big=log,commit=5:4096,log=after,data=none", s)
}
