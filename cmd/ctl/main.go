package ctl

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/gladserv/shallfs/engine"
)

const (
	usage   = "ctl <device> <command>..."
	short   = "Send a control command to a running journal"
	long    = "This command forwards a control command (commit, clear <N>, userlog <text>) to a mounted journal over the control socket"
	example = "shallfs ctl --socket /run/shallfs.sock sdb1 commit"
)

var (
	// Cmd is the ctl command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Args:    cobra.MinimumNArgs(2),
		Example: example,
		RunE:    executeCtl,
	}
	flagSocket string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&flagSocket, "socket", "S", "/run/shallfs.sock", "path of the control socket")
}

func executeCtl(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	return engine.Command(flagSocket, args[0], strings.Join(args[1:], " "))
}
