package tune

import (
	"fmt"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/gladserv/shallfs/device"
)

const (
	usage = "tune <device>"
	short = "Stage layout changes on an unmounted journal device"
	long  = "This command records a new size, alignment or superblock count " +
		"in superblock 0 and marks the device as updating; a separate resize " +
		"run completes the move"
	example = "shallfs tune --new-size 64m /var/tmp/journal.img"
)

var (
	// Cmd is the tune command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Args:    cobra.ExactArgs(1),
		Example: example,
		RunE:    executeTune,
	}
	flagNewSize  string
	flagNewAlign int
	flagNewSuper int
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVar(&flagNewSize, "new-size", "", "stage a new device size (accepts units)")
	Cmd.Flags().IntVar(&flagNewAlign, "new-alignment", 0, "stage a new record alignment")
	Cmd.Flags().IntVar(&flagNewSuper, "new-superblocks", 0, "stage a new superblock count")
}

func executeTune(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	if flagNewSize == "" && flagNewAlign == 0 && flagNewSuper == 0 {
		return fmt.Errorf("nothing to stage: give --new-size, --new-alignment or --new-superblocks")
	}
	if flagNewAlign != 0 &&
		(flagNewAlign < 8 || flagNewAlign%8 != 0 || flagNewAlign > device.BlockSize) {
		return fmt.Errorf("invalid alignment %d: must be a multiple of 8 up to %d",
			flagNewAlign, device.BlockSize)
	}
	if flagNewSuper != 0 && flagNewSuper < device.MinSuperBlocks {
		return fmt.Errorf("invalid number of superblocks %d: minimum is %d",
			flagNewSuper, device.MinSuperBlocks)
	}
	var newSize int64
	if flagNewSize != "" {
		b, err := bytefmt.ToBytes(flagNewSize)
		if err != nil {
			return fmt.Errorf("invalid size %q: %v", flagNewSize, err)
		}
		newSize = int64(b)
		if newSize < device.MinDeviceSize || newSize%device.BlockSize != 0 {
			return fmt.Errorf("invalid size %q: need a multiple of %d of at least %d",
				flagNewSize, device.BlockSize, device.MinDeviceSize)
		}
	}
	dev, sb, err := device.OpenBest(args[0], false)
	if err != nil {
		return err
	}
	defer dev.Close()
	if sb.Flags&device.FlagDirty != 0 {
		return fmt.Errorf("%s: device is dirty, run fsck first", args[0])
	}
	sb.NewSize = newSize
	sb.NewAlignment = int32(flagNewAlign)
	sb.NewSuper = int32(flagNewSuper)
	sb.Flags |= device.FlagUpdate
	sb.Version++
	if err := device.Write(dev, sb, 0, true); err != nil {
		return err
	}
	fmt.Printf("tune: %s: staged changes recorded, run the resize to apply them\n",
		args[0])
	return nil
}
