package fsck

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gladserv/shallfs/fsck"
)

const (
	usage = "fsck <device>"
	short = "Check and repair an unmounted journal device"
	long  = "This command verifies the superblocks and record stream of an " +
		"unmounted device, repairing what the operator allows; the exit code " +
		"is the usual fsck bitmask"
	example = "shallfs fsck -y /var/tmp/journal.img"
)

var (
	// Cmd is the fsck command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Args:    cobra.ExactArgs(1),
		Example: example,
		Run:     executeFsck,
	}
	flagAuto     bool
	flagPreen    bool
	flagForce    bool
	flagReadOnly bool
	flagYes      bool
	flagUseSuper int
	flagMaxSuper int
	flagProgress int
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().BoolVarP(&flagAuto, "auto", "a", false, "same as --preen, for fsck compatibility")
	Cmd.Flags().BoolVarP(&flagPreen, "preen", "p", false, "automatically repair simple problems, suitable for running at boot")
	Cmd.Flags().BoolVarP(&flagForce, "force", "f", false, "force the check even if the device looks clean")
	Cmd.Flags().BoolVarP(&flagReadOnly, "no-changes", "n", false, "do not make any changes, just check and report")
	Cmd.Flags().BoolVarP(&flagYes, "yes", "y", false, "answer yes to all questions")
	Cmd.Flags().IntVarP(&flagUseSuper, "use-superblock", "l", 0, "use the given superblock instead of searching for one")
	Cmd.Flags().IntVarP(&flagMaxSuper, "superblocks", "b", 0, "bound the superblock search when the first one is invalid")
	Cmd.Flags().IntVarP(&flagProgress, "progress-fd", "C", -1, "write progress information to a file descriptor (0 for a bar on stdout)")
}

func executeFsck(cmd *cobra.Command, args []string) {
	cmd.SilenceUsage = true
	opts := fsck.Options{
		Auto:     flagAuto || flagPreen,
		Force:    flagForce,
		ReadOnly: flagReadOnly,
		Yes:      flagYes,
		UseSuper: flagUseSuper,
		MaxSuper: flagMaxSuper,
	}
	switch {
	case flagProgress == 0:
		opts.Progress = os.Stdout
	case flagProgress > 0:
		f := os.NewFile(uintptr(flagProgress), "progress")
		if f == nil {
			fmt.Fprintf(os.Stderr, "fsck: bad progress descriptor %d\n",
				flagProgress)
			os.Exit(fsck.ExitUsage)
		}
		opts.Progress = f
		opts.Machine = true
	}
	os.Exit(fsck.Run(args[0], opts, os.Stdout, os.Stdin))
}
