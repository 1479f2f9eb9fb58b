package read

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gladserv/shallfs/device"
	"github.com/gladserv/shallfs/engine"
	"github.com/gladserv/shallfs/journal"
)

const (
	usage = "read <device|file>"
	short = "Print or save the events recorded on a journal device"
	long  = "This command streams events from an unmounted device, from a " +
		"file saved by a previous run, or from a running server via the " +
		"control socket"
	example = "shallfs read --logs /var/tmp/journal.img"
)

var (
	// Cmd is the read command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Args:    cobra.ExactArgs(1),
		Example: example,
		RunE:    executeRead,
	}
	flagLogs     bool
	flagSBInfo   bool
	flagClear    bool
	flagInput    bool
	flagBlocking bool
	flagMax      int
	flagOutput   string
	flagAppend   bool
	flagSocket   string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().BoolVarP(&flagLogs, "logs", "l", false, "show all event logs (default with --input)")
	Cmd.Flags().BoolVarP(&flagSBInfo, "sb-info", "s", false, "show superblock information (default without --logs)")
	Cmd.Flags().BoolVarP(&flagClear, "clear", "c", false, "remove the events from the device after reading them")
	Cmd.Flags().BoolVarP(&flagInput, "input", "i", false, "treat the argument as a file produced by --output")
	Cmd.Flags().BoolVarP(&flagBlocking, "wait", "w", false, "with --socket, wait for new events instead of stopping at end of journal")
	Cmd.Flags().IntVarP(&flagMax, "max", "p", 0, "stop after this many events")
	Cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "write the raw event stream to a file instead of printing")
	Cmd.Flags().BoolVarP(&flagAppend, "append", "a", false, "append to the output file instead of overwriting")
	Cmd.Flags().StringVarP(&flagSocket, "socket", "S", "", "read from a running server over its control socket")
}

func executeRead(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	switch {
	case flagInput && flagSocket != "":
		return fmt.Errorf("cannot combine --input with --socket")
	case flagInput && flagSBInfo:
		return fmt.Errorf("cannot combine --input with --sb-info")
	case flagClear && flagInput:
		return fmt.Errorf("cannot combine --clear with --input")
	case flagClear && flagSocket != "":
		return fmt.Errorf("cannot combine --clear with --socket")
	case flagClear && !flagLogs:
		return fmt.Errorf("cannot use --clear without --logs")
	}
	if flagInput {
		flagLogs = true
	}
	if flagSocket != "" {
		return readSocket(args[0])
	}
	if flagInput {
		return readFile(args[0])
	}
	return readDevice(args[0])
}

// printer renders whole records from a raw event stream, or copies the
// stream verbatim when an output file is given.
type printer struct {
	out    io.Writer
	raw    bool
	count  int
	offset int64
	space  int64
}

func newPrinter(showOffset bool, space int64) (*printer, func(), error) {
	p := &printer{out: os.Stdout, space: space}
	if !showOffset {
		p.offset = -1
	}
	if flagOutput != "" {
		mode := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if flagAppend {
			mode = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		}
		f, err := os.OpenFile(flagOutput, mode, 0644)
		if err != nil {
			return nil, nil, err
		}
		p.out = f
		p.raw = true
		return p, func() { f.Close() }, nil
	}
	return p, func() {}, nil
}

// feed consumes one buffer of whole records. It reports false once the
// event limit is reached.
func (p *printer) feed(buf []byte) (bool, error) {
	if p.raw {
		_, err := p.out.Write(buf)
		return true, err
	}
	for len(buf) > 0 {
		rec, err := journal.Parse(buf)
		if err != nil {
			return false, err
		}
		p.count++
		fmt.Fprint(p.out, rec.Format(p.count, p.offset, p.offset >= 0))
		if p.offset >= 0 {
			p.offset += int64(rec.Length)
			if p.offset >= p.space {
				p.offset -= p.space
			}
		}
		buf = buf[rec.Length:]
		if flagMax > 0 && p.count >= flagMax {
			return false, nil
		}
	}
	return true, nil
}

func (p *printer) finish() {
	if !p.raw {
		fmt.Printf("End of journal, %d events\n", p.count)
	}
}

func readDevice(path string) error {
	dev, sb, err := device.OpenBest(path, !flagClear)
	if err != nil {
		return err
	}
	defer dev.Close()
	if flagSBInfo || !flagLogs {
		printSB(path, sb)
	}
	if !flagLogs {
		return nil
	}
	p, done, err := newPrinter(true, sb.DataSpace)
	if err != nil {
		return err
	}
	defer done()
	p.offset = sb.DataStart
	r := device.NewDataReader(dev, sb)
	consumed := int64(0)
	var hdr [journal.HeaderSize]byte
	more := true
	for more && r.Remaining() >= journal.HeaderSize {
		if err := r.Read(hdr[:]); err != nil {
			return err
		}
		head, err := journal.ParseHeader(hdr[:])
		if err != nil {
			return err
		}
		if int64(head.Length-journal.HeaderSize) > r.Remaining() {
			return journal.ShortRecordError(int(r.Remaining()))
		}
		body := make([]byte, head.Length)
		copy(body, hdr[:])
		if err := r.Read(body[journal.HeaderSize:]); err != nil {
			return err
		}
		if more, err = p.feed(body); err != nil {
			return err
		}
		consumed += int64(head.Length)
	}
	p.finish()
	if flagClear {
		sb.DataStart = (sb.DataStart + consumed) % sb.DataSpace
		sb.DataLength -= consumed
		sb.Version++
		sb.Flags &^= device.FlagDirty
		if err := device.Write(dev, sb, 0, false); err != nil {
			return err
		}
		if err := device.Write(dev, sb, 1, true); err != nil {
			return err
		}
	}
	return nil
}

// readFile replays a raw stream saved by --output, stopping at the
// first record that does not verify.
func readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	p, done, err := newPrinter(false, 0)
	if err != nil {
		return err
	}
	defer done()
	for len(data) >= journal.HeaderSize {
		head, err := journal.ParseHeader(data)
		if err != nil || head.Length > len(data) {
			break
		}
		more, err := p.feed(data[:head.Length])
		if err != nil {
			return err
		}
		data = data[head.Length:]
		if !more {
			break
		}
	}
	p.finish()
	return nil
}

func readSocket(dev string) error {
	stream := "blog"
	if !flagBlocking {
		stream = "blog nonblock"
	}
	conn, err := engine.Dial(flagSocket, stream, dev)
	if err != nil {
		return err
	}
	defer conn.Close()
	p, done, err := newPrinter(false, 0)
	if err != nil {
		return err
	}
	defer done()
	var pending []byte
	buf := make([]byte, 65536)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			whole := 0
			for len(pending)-whole >= journal.HeaderSize {
				head, perr := journal.ParseHeader(pending[whole:])
				if perr != nil {
					return perr
				}
				if whole+head.Length > len(pending) {
					break
				}
				whole += head.Length
			}
			if whole > 0 {
				more, ferr := p.feed(pending[:whole])
				if ferr != nil {
					return ferr
				}
				pending = append(pending[:0], pending[whole:]...)
				if !more {
					break
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	p.finish()
	return nil
}

func printSB(path string, sb *device.SuperBlock) {
	fmt.Printf("Superblock information for %s:\n", path)
	fmt.Printf("    version     %12d\n", sb.Version)
	fmt.Printf("    data_start  %12d\n", sb.DataStart)
	fmt.Printf("    data_length %12d\n", sb.DataLength)
	fmt.Printf("    data_space  %12d\n", sb.DataSpace)
}
