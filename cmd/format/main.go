package format

import (
	"fmt"
	"os"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/gladserv/shallfs/device"
)

const (
	usage   = "format <device>"
	short   = "Initialize a journal device"
	long    = "This command writes a fresh set of superblocks to a block device or image file"
	example = "shallfs format --size 16m --create /var/tmp/journal.img"
)

var (
	// Cmd is the format command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Args:    cobra.ExactArgs(1),
		Example: example,
		RunE:    executeFormat,
	}
	flagSize      string
	flagAlignment int
	flagSuper     int
	flagCreate    bool
	flagDryRun    bool
	flagQuiet     bool
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&flagSize, "size", "s", "", "device size (accepts units, e.g. 16m); required with --create")
	Cmd.Flags().IntVarP(&flagAlignment, "alignment", "a", 8, "record alignment in bytes")
	Cmd.Flags().IntVarP(&flagSuper, "superblocks", "b", 0, "number of superblocks (default: derived from size)")
	Cmd.Flags().BoolVarP(&flagCreate, "create", "c", false, "create a file-backed image of the given size")
	Cmd.Flags().BoolVarP(&flagDryRun, "dry-run", "n", false, "report what would be done without writing")
	Cmd.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress progress output")
}

func executeFormat(cmd *cobra.Command, args []string) error {
	path := args[0]
	cmd.SilenceUsage = true
	if flagAlignment < 8 || flagAlignment%8 != 0 || flagAlignment > device.BlockSize {
		return fmt.Errorf("invalid alignment %d: must be a multiple of 8 up to %d",
			flagAlignment, device.BlockSize)
	}
	if flagSuper != 0 && flagSuper < device.MinSuperBlocks {
		return fmt.Errorf("invalid number of superblocks %d: minimum is %d",
			flagSuper, device.MinSuperBlocks)
	}
	if flagDryRun && flagQuiet {
		return fmt.Errorf("cannot combine --dry-run with --quiet")
	}
	if flagCreate && flagSize == "" {
		return fmt.Errorf("must specify a size when creating an image")
	}

	var size int64
	if flagSize != "" {
		b, err := bytefmt.ToBytes(flagSize)
		if err != nil {
			return fmt.Errorf("invalid size %q: %v", flagSize, err)
		}
		size = int64(b)
		if size < device.MinDeviceSize || size%device.BlockSize != 0 {
			return fmt.Errorf("invalid size %q: need a multiple of %d of at least %s",
				flagSize, device.BlockSize,
				bytefmt.ByteSize(device.MinDeviceSize))
		}
	}

	var dev *device.Device
	var err error
	if flagCreate {
		if flagDryRun {
			dev = nil
		} else if dev, err = device.Create(path, size); err != nil {
			return err
		}
	} else {
		readonly := flagDryRun
		if dev, err = device.Open(path, readonly); err != nil {
			return err
		}
		if size == 0 {
			size = dev.Size()
		} else if size > dev.Size() {
			dev.Close()
			return fmt.Errorf("%s: size %s exceeds the device", path, flagSize)
		}
	}
	if dev != nil {
		defer dev.Close()
	}

	nsuper := flagSuper
	if nsuper == 0 {
		nsuper = device.DefaultSuperBlocks(size)
		if nsuper < device.MinSuperBlocks {
			return fmt.Errorf("%s: device too small", path)
		}
	} else if device.SuperBlockByteOffset(nsuper-1)+device.SuperBlockSize > size {
		return fmt.Errorf("%s: some superblocks are past end of device", path)
	}
	dataSpace := size - device.BlockSize*int64(nsuper)

	if !flagQuiet {
		fmt.Printf("format: %s: formatting with %d superblocks, alignment %d\n",
			path, nsuper, flagAlignment)
		fmt.Printf("format: %s: device size is  %d bytes (%s)\n",
			path, size, bytefmt.ByteSize(uint64(size)))
		fmt.Printf("format: %s: journal size is %d bytes (%s)\n",
			path, dataSpace, bytefmt.ByteSize(uint64(dataSpace)))
	}
	if flagDryRun {
		return nil
	}

	sb := &device.SuperBlock{
		DeviceSize: size,
		DataSpace:  dataSpace,
		Alignment:  int32(flagAlignment),
		NumSuper:   int32(nsuper),
		Flags:      device.FlagValid,
	}
	if err := device.WriteAll(dev, sb); err != nil {
		if flagCreate {
			os.Remove(path)
		}
		return err
	}
	if !flagQuiet {
		fmt.Printf("format: %s: device set up successfully\n", path)
	}
	return nil
}
