package userlog

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/gladserv/shallfs/engine"
)

const (
	usage   = "userlog <device> <message>"
	short   = "Append a free-form message to a running journal"
	long    = "This command sends a userlog record to a mounted journal over the control socket"
	example = "shallfs userlog --socket /run/shallfs.sock sdb1 'backup started'"
)

var (
	// Cmd is the userlog command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Args:    cobra.MinimumNArgs(2),
		Example: example,
		RunE:    executeUserLog,
	}
	flagSocket string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&flagSocket, "socket", "S", "/run/shallfs.sock", "path of the control socket")
}

func executeUserLog(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	text := strings.Join(args[1:], " ")
	return engine.Command(flagSocket, args[0], "userlog "+text)
}
