package info

import (
	"fmt"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/gladserv/shallfs/device"
	"github.com/gladserv/shallfs/engine"
)

const (
	usage   = "info <device>"
	short   = "Print superblock information for a journal device"
	long    = "This command prints the recovered superblock of an unmounted device, or queries a running server with --socket"
	example = "shallfs info /dev/sdb1"
)

var (
	// Cmd is the info command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Args:    cobra.ExactArgs(1),
		Example: example,
		RunE:    executeInfo,
	}
	flagSocket string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&flagSocket, "socket", "S", "", "query a running server over its control socket")
}

func executeInfo(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	if flagSocket != "" {
		return serverInfo(args[0])
	}
	dev, sb, err := device.OpenBest(args[0], true)
	if err != nil {
		return err
	}
	defer dev.Close()
	printSuperBlock(args[0], sb)
	return nil
}

func serverInfo(dev string) error {
	info, err := engine.FetchInfo(flagSocket, dev)
	if err != nil {
		return err
	}
	fmt.Printf("Mounted journal information for %s:\n", dev)
	for _, key := range []string{
		"fs", "mounted", "logged", "size", "maxsize", "space",
		"devsize", "start", "commit_size", "commit_time",
		"commit_forced", "version", "flags", "nsuper", "align",
	} {
		if v, ok := info[key]; ok {
			fmt.Printf("    %-14s%s\n", key, v)
		}
	}
	return nil
}

func printSuperBlock(path string, sb *device.SuperBlock) {
	size := func(n int64) string {
		return fmt.Sprintf("%12d (%s)", n, bytefmt.ByteSize(uint64(n)))
	}
	fmt.Printf("Superblock information for %s:\n", path)
	fmt.Printf("    version     %12d\n", sb.Version)
	fmt.Printf("    device_size %s\n", size(sb.DeviceSize))
	fmt.Printf("    data_space  %s\n", size(sb.DataSpace))
	fmt.Printf("    data_start  %s\n", size(sb.DataStart))
	fmt.Printf("    data_length %s\n", size(sb.DataLength))
	fmt.Printf("    max_length  %s\n", size(sb.MaxLength))
	fmt.Printf("    num_superblocks %8d\n", sb.NumSuper)
	fmt.Printf("    alignment   %12d\n", sb.Alignment)
	valid, dirty, update := "invalid", "clean", "operation"
	if sb.Flags&device.FlagValid != 0 {
		valid = "valid"
	}
	if sb.Flags&device.FlagDirty != 0 {
		dirty = "dirty"
	}
	if sb.Flags&device.FlagUpdate != 0 {
		update = "update"
	}
	fmt.Printf("    flags: %s, %s, %s\n", valid, dirty, update)
	if sb.Flags&device.FlagUpdate != 0 {
		fmt.Printf("    staged resize: size %d alignment %d superblocks %d\n",
			sb.NewSize, sb.NewAlignment, sb.NewSuper)
	}
}
