package bench

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/gladserv/shallfs/engine"
	"github.com/gladserv/shallfs/journal"
	"github.com/gladserv/shallfs/utils/pool"
)

const (
	usage = "bench <device>"
	short = "Exercise a journal device with a synthetic event load"
	long  = "This command mounts a device, drives it with a pool of workers " +
		"generating one event batch per simulated file operation, and reports " +
		"the counts and throughput; the exit code is a bitmask in the fsck style"
	example = "shallfs bench --runs 1000 --passes 3 /var/tmp/journal.img"
)

// Exit code bits.
const (
	exitOK        = 0
	exitSyntax    = 1
	exitOperation = 2
	exitCancelled = 4
	exitFailed    = 8
)

var (
	// Cmd is the bench command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Args:    cobra.ExactArgs(1),
		Example: example,
		Run:     executeBench,
	}
	flagRuns    int
	flagPasses  int
	flagTime    int
	flagWorkers int
	flagOptions string
	flagOutput  string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().IntVarP(&flagRuns, "runs", "r", 100, "run this many events for each operation")
	Cmd.Flags().IntVarP(&flagPasses, "passes", "p", 1, "run this many complete cycles")
	Cmd.Flags().IntVarP(&flagTime, "time", "t", 0, "stop after this many seconds even if the run is not complete (0 disables)")
	Cmd.Flags().IntVarP(&flagWorkers, "workers", "j", 4, "number of concurrent event producers")
	Cmd.Flags().StringVarP(&flagOptions, "options", "O", "", "mount options for the run")
	Cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "record per-operation results in a file")
}

// operations are the simulated file system calls, one event each.
var operations = []struct {
	name string
	code func(ctx context.Context, e *engine.Engine, n int) error
}{
	{"mkdir", func(ctx context.Context, e *engine.Engine, n int) error {
		return e.LogName(ctx, journal.OpMkdir, fmt.Sprintf("/bench/dir%d", n), 0)
	}},
	{"create", func(ctx context.Context, e *engine.Engine, n int) error {
		return e.LogName(ctx, journal.OpCreate, fmt.Sprintf("/bench/file%d", n), 0)
	}},
	{"open", func(ctx context.Context, e *engine.Engine, n int) error {
		return e.LogNameID(ctx, journal.OpOpen, fmt.Sprintf("/bench/file%d", n), uint32(n), 0)
	}},
	{"write", func(ctx context.Context, e *engine.Engine, n int) error {
		return e.LogRegion(ctx, journal.OpWrite, uint64(n)*512, 512, uint32(n), 0)
	}},
	{"close", func(ctx context.Context, e *engine.Engine, n int) error {
		return e.LogFileID(ctx, journal.OpClose, uint32(n), 0)
	}},
	{"move", func(ctx context.Context, e *engine.Engine, n int) error {
		return e.LogNames(ctx, journal.OpMove,
			fmt.Sprintf("/bench/file%d", n), fmt.Sprintf("/bench/moved%d", n), 0)
	}},
	{"delete", func(ctx context.Context, e *engine.Engine, n int) error {
		return e.LogName(ctx, journal.OpDelete, fmt.Sprintf("/bench/moved%d", n), 0)
	}},
	{"rmdir", func(ctx context.Context, e *engine.Engine, n int) error {
		return e.LogName(ctx, journal.OpRmdir, fmt.Sprintf("/bench/dir%d", n), 0)
	}},
}

type workItem struct {
	op int
	n  int
}

func executeBench(cmd *cobra.Command, args []string) {
	cmd.SilenceUsage = true
	if flagRuns < 1 || flagPasses < 1 || flagTime < 0 || flagWorkers < 1 {
		fmt.Fprintln(os.Stderr, "bench: runs, passes and workers must be positive")
		os.Exit(exitSyntax)
	}
	os.Exit(run(args[0]))
}

func run(path string) int {
	opts, err := engine.ParseOptions(flagOptions, engine.DefaultOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "bench: %v\n", err)
		return exitSyntax
	}
	e, err := engine.Mount(path, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bench: %v\n", err)
		return exitOperation
	}
	defer e.Unmount()

	out := os.Stdout
	if flagOutput != "" {
		f, err2 := os.Create(flagOutput)
		if err2 != nil {
			fmt.Fprintf(os.Stderr, "bench: %v\n", err2)
			return exitOperation
		}
		defer f.Close()
		out = f
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if flagTime > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(flagTime)*time.Second)
		defer cancel()
	}

	failed := make([]int64, len(operations))
	done := make([]int64, len(operations))
	p := pool.NewPool(flagWorkers, func(input interface{}) {
		w := input.(workItem)
		if err := operations[w.op].code(ctx, e, w.n); err != nil {
			atomic.AddInt64(&failed[w.op], 1)
		} else {
			atomic.AddInt64(&done[w.op], 1)
		}
	})
	work := make(chan interface{})
	go p.Work(work)

	before := e.Stats().Logged
	start := time.Now()
	cancelled := false
feed:
	for pass := 0; pass < flagPasses; pass++ {
		for op := range operations {
			for n := 0; n < flagRuns; n++ {
				select {
				case <-ctx.Done():
					cancelled = true
					break feed
				case work <- workItem{op: op, n: n}:
				}
			}
		}
		if err := e.Commit(); err != nil {
			fmt.Fprintf(os.Stderr, "bench: commit: %v\n", err)
			close(work)
			p.Wait()
			return exitOperation
		}
	}
	close(work)
	p.Wait()
	elapsed := time.Since(start)
	after := e.Stats()
	logged := after.Logged - before

	code := exitOK
	var totalOK, totalFailed int64
	for i, op := range operations {
		fmt.Fprintf(out, "%-8s %8d ok %8d failed\n", op.name, done[i], failed[i])
		totalOK += done[i]
		totalFailed += failed[i]
	}
	rate := float64(logged) / elapsed.Seconds()
	fmt.Fprintf(out, "total    %8d ok %8d failed, %d events in %s (%.0f/s), high water %s\n",
		totalOK, totalFailed, logged,
		elapsed.Round(time.Millisecond), rate,
		bytefmt.ByteSize(uint64(after.MaxSize)))
	if totalFailed > 0 {
		code |= exitFailed
	}
	if cancelled {
		code |= exitCancelled
	}
	return code
}
