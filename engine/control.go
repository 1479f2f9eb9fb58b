package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/gladserv/shallfs/utils/log"
)

// blogChunk is the buffer handed to each binary stream read.
const blogChunk = 65536

// Server exposes the engines in a registry over a unix socket. The
// first line of each connection selects a stream:
//
//	info <device>
//	ctrl <device>
//	blog [nonblock] <device>
//
// info replies with a keyword dump and closes. ctrl accepts one
// command per line (commit, clear <N>, userlog <text>) and
// acknowledges each with "ok" or "error: ...". blog streams whole
// binary records; only one blog reader per device at a time.
type Server struct {
	reg    *Registry
	path   string
	ln     net.Listener
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(reg *Registry, socketPath string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{reg: reg, path: socketPath, ctx: ctx, cancel: cancel}
}

// ListenAndServe binds the socket and accepts connections until Close.
func (s *Server) ListenAndServe() error {
	os.Remove(s.path)
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	s.ln = ln
	log.Info("shallfs: control socket listening on %s", s.path)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// Close stops accepting, wakes blocked streams and waits for handlers
// to drain.
func (s *Server) Close() error {
	s.cancel()
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	s.wg.Wait()
	os.Remove(s.path)
	return err
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		return
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		fmt.Fprintf(conn, "error: %v\n",
			InvalidRequestError("expected <stream> <device>"))
		return
	}
	stream := fields[0]
	block := true
	if stream == "blog" && fields[1] == "nonblock" && len(fields) == 3 {
		block = false
		fields = fields[1:]
	}
	e, err := s.reg.Get(fields[1])
	if err != nil {
		fmt.Fprintf(conn, "error: %v\n", err)
		return
	}
	switch stream {
	case "info":
		s.serveInfo(conn, e)
	case "ctrl":
		s.serveCtrl(conn, r, e)
	case "blog":
		s.serveBlog(conn, e, block)
	default:
		fmt.Fprintf(conn, "error: %v\n",
			InvalidRequestError("unknown stream "+stream))
	}
}

func (s *Server) serveInfo(w io.Writer, e *Engine) {
	info := e.Stats()
	fmt.Fprintf(w, "mounted: %d\n", info.Mounted.Unix())
	fmt.Fprintf(w, "logged: %d\n", info.Logged)
	fmt.Fprintf(w, "maxsize: %d\n", info.MaxSize)
	fmt.Fprintf(w, "size: %d\n", info.Size)
	fmt.Fprintf(w, "space: %d\n", info.Space)
	fmt.Fprintf(w, "devsize: %d\n", info.DevSize)
	fmt.Fprintf(w, "start: %d\n", info.Start)
	fmt.Fprintf(w, "commit_size: %d\n", info.CommitSize)
	fmt.Fprintf(w, "commit_time: %d\n", info.CommitTime)
	fmt.Fprintf(w, "commit_forced: %d\n", info.CommitForced)
	fmt.Fprintf(w, "version: %d\n", info.Version)
	fmt.Fprintf(w, "flags: 0x%x\n", info.Flags)
	fmt.Fprintf(w, "nsuper: %d\n", info.NumSuper)
	fmt.Fprintf(w, "align: %d\n", info.Alignment)
	fmt.Fprintf(w, "fs: %s\n", info.FSPath)
}

func (s *Server) serveCtrl(w io.Writer, r *bufio.Reader, e *Engine) {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		if err := s.runCommand(e, strings.TrimRight(line, "\r\n")); err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
		} else {
			fmt.Fprintf(w, "ok\n")
		}
	}
}

func (s *Server) runCommand(e *Engine, line string) error {
	cmd := line
	arg := ""
	if i := strings.IndexByte(line, ' '); i >= 0 {
		cmd, arg = line[:i], line[i+1:]
	}
	switch cmd {
	case "commit":
		if arg != "" {
			return InvalidRequestError("commit takes no argument")
		}
		return e.Commit()
	case "clear":
		n, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || n < 0 {
			return InvalidRequestError("clear needs a byte count")
		}
		_, err = e.Discard(n)
		return err
	case "userlog":
		return e.UserLog(s.ctx, arg)
	}
	return InvalidRequestError("unknown command " + cmd)
}

func (s *Server) serveBlog(conn net.Conn, e *Engine, block bool) {
	if err := e.AcquireReader(); err != nil {
		fmt.Fprintf(conn, "error: %v\n", err)
		return
	}
	defer e.ReleaseReader()
	fmt.Fprintf(conn, "ok\n")
	buf := make([]byte, blogChunk)
	for {
		n, err := e.ReadBinary(s.ctx, buf, block)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil || (!block && n == 0) {
			return
		}
	}
}

// Dial connects to a control socket and selects a stream on a device.
// For blog streams the server's one-line acknowledgement is consumed
// before the connection is handed back. The ack is read one byte at a
// time so no stream bytes end up in a discarded buffer.
func Dial(socketPath, stream, dev string) (net.Conn, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintf(conn, "%s %s\n", stream, dev); err != nil {
		conn.Close()
		return nil, err
	}
	if strings.HasPrefix(stream, "blog") {
		var line []byte
		b := make([]byte, 1)
		for {
			if _, err := io.ReadFull(conn, b); err != nil {
				conn.Close()
				return nil, err
			}
			if b[0] == '\n' {
				break
			}
			line = append(line, b[0])
		}
		ack := strings.TrimRight(string(line), "\r")
		if ack != "ok" {
			conn.Close()
			return nil, fmt.Errorf("%s", strings.TrimPrefix(ack, "error: "))
		}
	}
	return conn, nil
}

// Command runs one ctrl command against a device and waits for the
// acknowledgement.
func Command(socketPath, dev, cmd string) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := fmt.Fprintf(conn, "ctrl %s\n%s\n", dev, cmd); err != nil {
		return err
	}
	return readAck(bufio.NewReader(conn))
}

func readAck(r *bufio.Reader) error {
	line, err := r.ReadString('\n')
	if err != nil {
		return err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "ok" {
		return nil
	}
	return fmt.Errorf("%s", strings.TrimPrefix(line, "error: "))
}

// FetchInfo queries the info stream of a device and returns the
// keyword dump.
func FetchInfo(socketPath, dev string) (map[string]string, error) {
	conn, err := Dial(socketPath, "info", dev)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	out := make(map[string]string)
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "error: ") {
			return nil, fmt.Errorf("%s", strings.TrimPrefix(line, "error: "))
		}
		i := strings.Index(line, ": ")
		if i < 0 {
			continue
		}
		out[line[:i]] = line[i+2:]
	}
	return out, sc.Err()
}
