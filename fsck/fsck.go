package fsck

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"code.cloudfoundry.org/bytefmt"

	"github.com/gladserv/shallfs/device"
	"github.com/gladserv/shallfs/journal"
)

// Exit status bits, combined into the process exit code.
const (
	ExitOK          = 0
	ExitCorrected   = 1
	ExitRebootNeed  = 2
	ExitUncorrected = 4
	ExitOperational = 8
	ExitUsage       = 16
	ExitCancelled   = 32
)

// Options select what the checker does and how much it may change.
type Options struct {
	// Auto repairs simple problems without asking and skips the
	// data scan, suitable for running at boot.
	Auto bool
	// Force runs the full check even when superblock 0 is clean.
	Force bool
	// ReadOnly reports problems without changing the device.
	ReadOnly bool
	// Yes answers yes to every question.
	Yes bool
	// UseSuper reads the given superblock instead of searching
	// when superblock 0 is bad. Zero means search.
	UseSuper int
	// MaxSuper bounds the brute-force superblock search. Zero
	// means search to end of device.
	MaxSuper int
	// Progress, when not nil, receives progress reports: an
	// in-place bar, or one line per step with Machine set.
	Progress io.Writer
	Machine  bool
}

type checker struct {
	dev     *device.Device
	sb      *device.SuperBlock
	opts    Options
	out     io.Writer
	in      *bufio.Reader
	prog    *progress
	path    string
	rescued bool
	exit    int
}

// Run checks and optionally repairs an unmounted journal device,
// returning the exit status bitmask. Reports go to out; questions are
// answered from in unless Options decide them.
func Run(path string, opts Options, out io.Writer, in io.Reader) int {
	if opts.Auto && (opts.Force || opts.ReadOnly || opts.Yes) {
		fmt.Fprintf(out, "fsck: cannot combine auto mode with -f, -n or -y\n")
		return ExitUsage
	}
	if opts.ReadOnly && opts.Yes {
		fmt.Fprintf(out, "fsck: cannot combine -n with -y\n")
		return ExitUsage
	}
	c := &checker{opts: opts, out: out, path: path}
	if in != nil {
		c.in = bufio.NewReader(in)
	}
	if opts.Progress != nil {
		c.prog = &progress{w: opts.Progress, machine: opts.Machine, device: path}
	}
	return c.run()
}

func (c *checker) run() int {
	if err := c.open(); err != nil {
		fmt.Fprintf(c.out, "fsck: %s: %v\n", c.path, err)
		return c.exit | ExitUncorrected
	}
	defer c.dev.Close()
	if c.sb.Flags&device.FlagUpdate != 0 {
		fmt.Fprintf(c.out,
			"fsck: %s: an update was interrupted, please complete it\n",
			c.path)
		c.exit |= ExitOperational
		if c.sb.ThisSuper != 0 || c.sb.Flags&device.FlagDirty != 0 {
			c.exit |= ExitUncorrected
		}
		return c.exit
	}
	clean := c.sb.ThisSuper == 0 &&
		c.sb.Flags&device.FlagDirty == 0 &&
		!c.opts.Force && !c.rescued
	if !clean {
		c.setupProgress()
		if c.rescued {
			c.extraScan()
		}
		c.compareSuperBlocks()
		switch {
		case c.opts.Auto:
			c.prog.clear()
			fmt.Fprintf(c.out, "Skipping pass 2 in auto mode\n")
		case c.exit&ExitUncorrected != 0:
			c.prog.clear()
			fmt.Fprintf(c.out,
				"Skipping pass 2 because of previous uncorrected errors\n")
		default:
			c.fullScan()
		}
	}
	c.prog.clear()
	status := "clean"
	if c.exit&ExitUncorrected != 0 {
		status = "has errors"
	} else if c.exit != ExitOK {
		status = "cleaned"
	}
	fmt.Fprintf(c.out, "fsck: %s %s, %s/%s (%.1f%%) used\n",
		c.path, status,
		bytefmt.ByteSize(uint64(c.sb.DataLength)),
		bytefmt.ByteSize(uint64(c.sb.DataSpace)),
		100.0*float64(c.sb.DataLength)/float64(c.sb.DataSpace))
	return c.exit
}

// open reads a usable superblock: 0 first, then the one named by -l,
// then a brute search accepting any superblock whose defects are all
// fixable.
func (c *checker) open() error {
	d, err := device.Open(c.path, c.opts.ReadOnly)
	if err != nil {
		return err
	}
	c.dev = d
	sb, err := device.Read(d, 0)
	if err == nil {
		if sb.Flags&device.FlagDirty != 0 {
			sb = device.ScanBest(d, sb)
		}
		c.sb = sb
		return nil
	}
	if c.opts.UseSuper > 0 {
		if sb, err := device.Read(d, c.opts.UseSuper); err == nil {
			c.sb = sb
			c.rescued = true
			return nil
		}
	}
	if !c.opts.Auto {
		if c.searchSuperBlock() {
			return nil
		}
	}
	d.Close()
	c.dev = nil
	return device.NoSuperBlockError(c.path)
}

// searchSuperBlock walks every superblock location and rescues the
// first one whose defects the Fixable mask covers.
func (c *checker) searchSuperBlock() bool {
	for n := 0; device.SuperBlockByteOffset(n) < c.dev.Size(); n++ {
		if c.opts.MaxSuper > 0 && n >= c.opts.MaxSuper {
			return false
		}
		sb, err := device.ReadRaw(c.dev, n)
		if err != nil {
			continue
		}
		chk := sb.Check(c.dev.Size(), n)
		if chk&^device.CheckFixable != 0 {
			continue
		}
		fixed := sb.Fix(chk)
		fmt.Fprintf(c.out, "fsck: %s: rescued superblock %d", c.path, n)
		if len(fixed) > 0 {
			fmt.Fprintf(c.out, ", fixed: %s", strings.Join(fixed, ", "))
		}
		fmt.Fprintf(c.out, "\n")
		c.sb = sb
		c.rescued = true
		return true
	}
	return false
}

func (c *checker) setupProgress() {
	if c.prog == nil {
		return
	}
	end := int(c.sb.NumSuper)
	if c.rescued {
		end += int(c.sb.NumSuper)
	}
	if !c.opts.Auto {
		end += int((c.sb.DataLength + scanChunk - 1) / scanChunk)
	}
	c.prog.end = end
}

// extraScan runs after a rescue: automatic recovery never saw the
// other superblocks, so look for one with a greater version whose
// defects are still all fixable.
func (c *checker) extraScan() {
	c.prog.clear()
	fmt.Fprintf(c.out, "Pass 0: extra superblock scan\n")
	for n := 0; n < int(c.sb.NumSuper); n++ {
		if n != int(c.sb.ThisSuper) {
			if sb, err := device.ReadRaw(c.dev, n); err == nil {
				chk := sb.Check(c.dev.Size(), n)
				if chk&^device.CheckFixable == 0 &&
					sb.Version > c.sb.Version {
					sb.Fix(chk)
					c.sb = sb
				}
			}
		}
		c.prog.add(0, 1)
	}
}

// sbSame reports whether a replica superblock matches the reference in
// every field that a clean rewrite would stamp.
func sbSame(a, b *device.SuperBlock) bool {
	return a.DeviceSize == b.DeviceSize &&
		a.DataSpace == b.DataSpace &&
		a.DataStart == b.DataStart &&
		a.DataLength == b.DataLength &&
		a.MaxLength == b.MaxLength &&
		a.Version == b.Version &&
		a.Alignment == b.Alignment &&
		a.NumSuper == b.NumSuper
}

// compareSuperBlocks rewrites every superblock that differs from a
// clean VALID image of the best one.
func (c *checker) compareSuperBlocks() {
	clean := *c.sb
	clean.Flags &^= device.FlagDirty
	clean.Flags |= device.FlagValid
	c.prog.clear()
	fmt.Fprintf(c.out, "Pass 1: scan superblocks\n")
	var uncorrected []int
	corrected := 0
	for n := 0; n < int(c.sb.NumSuper); n++ {
		ok := true
		if n != int(c.sb.ThisSuper) {
			sb, err := device.Read(c.dev, n)
			if err != nil || !sbSame(c.sb, sb) {
				ok = false
			}
		}
		if !ok || c.sb.Flags&device.FlagDirty != 0 ||
			c.sb.Flags&device.FlagValid == 0 {
			if !c.opts.ReadOnly &&
				device.Write(c.dev, &clean, n, false) == nil {
				corrected++
			} else {
				uncorrected = append(uncorrected, n)
			}
		}
		c.prog.add(1, 1)
	}
	if corrected > 0 {
		c.dev.Sync()
	}
	c.prog.clear()
	switch {
	case len(uncorrected) > 0:
		if corrected > 0 {
			fmt.Fprintf(c.out,
				"Pass 1 corrected %d errors but left %d uncorrected\n",
				corrected, len(uncorrected))
		} else {
			fmt.Fprintf(c.out, "Pass 1 left %d errors uncorrected\n",
				len(uncorrected))
		}
		fmt.Fprintf(c.out, "Superblocks left with errors:")
		for i, n := range uncorrected {
			if i > 0 {
				fmt.Fprintf(c.out, ",")
			}
			fmt.Fprintf(c.out, " %d", n)
		}
		fmt.Fprintf(c.out, "\n")
		c.exit |= ExitUncorrected
	case corrected > 0:
		fmt.Fprintf(c.out, "Pass 1 corrected %d errors\n", corrected)
		c.exit |= ExitCorrected
	}
	c.sb = &clean
}

// scanChunk is the progress granularity of the data scan.
const scanChunk = 1024

// fullScan streams all journal data front to back, verifying every
// record header. A failure at a record head makes the rest of the
// journal unreadable, so the offered repair truncates there and
// rewrites the superblocks.
func (c *checker) fullScan() {
	c.prog.clear()
	fmt.Fprintf(c.out, "Pass 2: scan data for validity\n")
	r := device.NewDataReader(c.dev, c.sb)
	var pos int64
	var hdr [journal.HeaderSize]byte
	lastProg := int64(0)
	for r.Remaining() >= journal.HeaderSize {
		if err := r.Read(hdr[:]); err != nil {
			fmt.Fprintf(c.out, "fsck: %s: reading events: %v\n",
				c.path, err)
			c.exit |= ExitUncorrected
			return
		}
		head, err := journal.ParseHeader(hdr[:])
		if err == nil && int64(head.Length-journal.HeaderSize) > r.Remaining() {
			err = journal.ShortRecordError(int(r.Remaining()))
		}
		if err != nil {
			fmt.Fprintf(c.out,
				"fsck: %s: bad record at offset %d: %v\n",
				c.path, pos, err)
			c.truncateAt(pos)
			return
		}
		r.Skip(int64(head.Length - journal.HeaderSize))
		pos += int64(head.Length)
		if tp := pos / scanChunk; tp > lastProg {
			c.prog.add(2, int(tp-lastProg))
			lastProg = tp
		}
	}
	if r.Remaining() > 0 {
		fmt.Fprintf(c.out,
			"fsck: %s: %d trailing bytes below one record header\n",
			c.path, r.Remaining())
		c.truncateAt(pos)
	}
}

// truncateAt cuts the journal after the last good record and rewrites
// all superblocks, once the operator agrees.
func (c *checker) truncateAt(pos int64) {
	if !c.ask(fmt.Sprintf("Truncate journal to %d valid bytes", pos)) {
		c.exit |= ExitUncorrected
		return
	}
	sb := *c.sb
	sb.DataLength = pos
	if sb.MaxLength < pos {
		sb.MaxLength = pos
	}
	sb.Version++
	if err := device.WriteAll(c.dev, &sb); err != nil {
		fmt.Fprintf(c.out, "fsck: %s: rewriting superblocks: %v\n",
			c.path, err)
		c.exit |= ExitUncorrected
		return
	}
	c.sb = &sb
	c.exit |= ExitCorrected
}

func (c *checker) ask(q string) bool {
	if c.opts.Yes {
		return true
	}
	if c.opts.ReadOnly || c.opts.Auto || c.in == nil {
		return false
	}
	c.prog.clear()
	fmt.Fprintf(c.out, "%s? (y/n) ", q)
	line, err := c.in.ReadString('\n')
	if err != nil {
		c.exit |= ExitCancelled
		return false
	}
	line = strings.TrimSpace(line)
	return line == "y" || line == "yes" || line == "Y"
}
