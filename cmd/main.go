package cmd

import (
	"github.com/spf13/cobra"

	"github.com/gladserv/shallfs/cmd/bench"
	"github.com/gladserv/shallfs/cmd/ctl"
	"github.com/gladserv/shallfs/cmd/format"
	"github.com/gladserv/shallfs/cmd/fsck"
	"github.com/gladserv/shallfs/cmd/info"
	"github.com/gladserv/shallfs/cmd/read"
	"github.com/gladserv/shallfs/cmd/serve"
	"github.com/gladserv/shallfs/cmd/tune"
	"github.com/gladserv/shallfs/cmd/userlog"
	"github.com/gladserv/shallfs/utils"
	"github.com/gladserv/shallfs/utils/log"
)

// flagPrintVersion set flag to show the current shallfs version.
var flagPrintVersion bool

// Execute builds the command tree and executes commands.
func Execute() error {

	// c is the root command.
	c := &cobra.Command{
		Use: "shallfs",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Print version if specified.
			if flagPrintVersion {
				log.Info("version: %v", utils.Tag)
				log.Info("commit hash: %v", utils.GitHash)
				log.Info("utc build time: %v", utils.BuildStamp)
				return nil
			}
			// Print information regarding usage.
			return cmd.Usage()
		},
	}

	// Adds subcommands and version flag.
	c.AddCommand(format.Cmd)
	c.AddCommand(info.Cmd)
	c.AddCommand(read.Cmd)
	c.AddCommand(fsck.Cmd)
	c.AddCommand(tune.Cmd)
	c.AddCommand(userlog.Cmd)
	c.AddCommand(ctl.Cmd)
	c.AddCommand(serve.Cmd)
	c.AddCommand(bench.Cmd)
	c.Flags().BoolVarP(&flagPrintVersion, "version", "v", false, "show the version info and exit")

	return c.Execute()
}
