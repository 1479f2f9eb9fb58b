package utils_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gladserv/shallfs/utils"
)

const validConfig = `
socket: /var/run/shallfs.sock
timezone: America/New_York
log_level: info
stop_grace_period: 30
devices:
  - device: /dev/sdb1
    options: fs=/srv/data,overflow=drop
  - device: /var/tmp/journal.img
`

func TestParseConfig(t *testing.T) {
	var c utils.Config
	require.Nil(t, c.Parse([]byte(validConfig)))
	assert.Equal(t, "/var/run/shallfs.sock", c.Socket)
	assert.Equal(t, "America/New_York", c.Timezone.String())
	assert.Equal(t, 30*time.Second, c.StopGracePeriod)
	require.Equal(t, 2, len(c.Devices))
	assert.Equal(t, "/dev/sdb1", c.Devices[0].Device)
	assert.Equal(t, "fs=/srv/data,overflow=drop", c.Devices[0].Options)
	assert.Equal(t, "/var/tmp/journal.img", c.Devices[1].Device)
	assert.Equal(t, "", c.Devices[1].Options)
}

func TestParseConfigDefaults(t *testing.T) {
	var c utils.Config
	require.Nil(t, c.Parse([]byte(
		"socket: /tmp/s.sock\ndevices:\n  - device: /tmp/j.img\n")))
	assert.Equal(t, time.UTC, c.Timezone)
	assert.Equal(t, time.Duration(0), c.StopGracePeriod)
}

func TestParseConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing socket", "devices:\n  - device: /tmp/j.img\n"},
		{"no devices", "socket: /tmp/s.sock\n"},
		{"empty device path", "socket: /tmp/s.sock\ndevices:\n  - options: fs=/x\n"},
		{"bad timezone", "socket: /tmp/s.sock\ntimezone: Mars/Olympus\ndevices:\n  - device: /tmp/j.img\n"},
		{"bad log level", "socket: /tmp/s.sock\nlog_level: noisy\ndevices:\n  - device: /tmp/j.img\n"},
		{"not yaml", ": : :\n"},
	}
	for _, tc := range cases {
		var c utils.Config
		assert.NotNil(t, c.Parse([]byte(tc.yaml)), tc.name)
	}
}
