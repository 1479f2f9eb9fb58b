package engine_test

import (
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gladserv/shallfs/engine"
	"github.com/gladserv/shallfs/journal"
)

func TestRegistry(t *testing.T) {
	reg := engine.NewRegistry()
	e, path := mountEngine(t, "")
	defer e.Unmount()

	require.Nil(t, reg.Add(e))
	assert.IsType(t, engine.BusyError(""), reg.Add(e))

	got, err := reg.Get(path)
	require.Nil(t, err)
	assert.Equal(t, e, got)

	got, err = reg.Get(filepath.Base(path))
	require.Nil(t, err)
	assert.Equal(t, e, got)

	_, err = reg.Get("nosuch.img")
	assert.IsType(t, engine.NotMountedError(""), err)

	assert.Equal(t, []string{path}, reg.Paths())
	reg.Remove(path)
	assert.Empty(t, reg.Paths())
}

// startServer mounts a device, registers it and serves a control
// socket, waiting until the socket accepts connections.
func startServer(t *testing.T) (*engine.Engine, *engine.Server, string, string) {
	t.Helper()
	e, devPath := mountEngine(t, "")
	reg := engine.NewRegistry()
	require.Nil(t, reg.Add(e))
	sock := filepath.Join(t.TempDir(), "shallfs.sock")
	srv := engine.NewServer(reg, sock)
	go srv.ListenAndServe()

	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.Dial("unix", sock)
		if err == nil {
			conn.Close()
			break
		}
		require.True(t, time.Now().Before(deadline), "control socket never came up")
		time.Sleep(10 * time.Millisecond)
	}
	t.Cleanup(func() {
		srv.Close()
		e.Unmount()
	})
	return e, srv, sock, filepath.Base(devPath)
}

func TestControlInfo(t *testing.T) {
	e, _, sock, dev := startServer(t)

	info, err := engine.FetchInfo(sock, dev)
	require.Nil(t, err)
	assert.Equal(t, e.Options().FSPath, info["fs"])
	assert.Equal(t, "8", info["align"])
	assert.Equal(t, "1", info["logged"])
	assert.NotEmpty(t, info["space"])
	assert.Equal(t, "12", info["nsuper"])
	assert.Equal(t, "8388608", info["devsize"])

	_, err = engine.FetchInfo(sock, "nosuch.img")
	assert.NotNil(t, err)
}

func TestControlCommands(t *testing.T) {
	e, _, sock, dev := startServer(t)

	require.Nil(t, engine.Command(sock, dev, "userlog deploy done"))
	require.Nil(t, engine.Command(sock, dev, "commit"))
	require.Nil(t, engine.Command(sock, dev, "clear 0"))

	assert.NotNil(t, engine.Command(sock, dev, "bogus"))
	assert.NotNil(t, engine.Command(sock, dev, "clear notanumber"))
	assert.NotNil(t, engine.Command(sock, dev, "commit now"))
	assert.NotNil(t, engine.Command(sock, "nosuch.img", "commit"))

	recs := drain(t, e)
	last := recs[len(recs)-1]
	assert.Equal(t, journal.OpUserLog, last.Op)
	assert.Equal(t, []byte("deploy done"), last.File1)
}

func TestControlBinaryStream(t *testing.T) {
	e, _, sock, dev := startServer(t)

	require.Nil(t, e.UserLog(nil, "streamed"))

	conn, err := engine.Dial(sock, "blog nonblock", dev)
	require.Nil(t, err)
	data, err := io.ReadAll(conn)
	conn.Close()
	require.Nil(t, err)

	var recs []*journal.Record
	for off := 0; off < len(data); {
		rec, perr := journal.Parse(data[off:])
		require.Nil(t, perr)
		recs = append(recs, rec)
		off += rec.Length
	}
	require.Equal(t, 2, len(recs))
	assert.Equal(t, journal.OpMount, recs[0].Op)
	assert.Equal(t, journal.OpUserLog, recs[1].Op)
	assert.Equal(t, []byte("streamed"), recs[1].File1)
}

func TestControlBinaryStreamBusy(t *testing.T) {
	e, _, sock, dev := startServer(t)

	require.Nil(t, e.AcquireReader())
	defer e.ReleaseReader()

	_, err := engine.Dial(sock, "blog nonblock", dev)
	assert.NotNil(t, err)
}
