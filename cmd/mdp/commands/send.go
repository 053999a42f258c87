package commands

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <file>...",
	Short: "Sends files to the group and exits once they are finished",
	Args:  cobra.MinimumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		cfg.startProfiler().
			startLogger().
			readConfig().
			runNode()

		done := make(chan error, 1)
		go func() { done <- cfg.node.Send(cfg.ctx, args) }()

		cfg.waitDone(done).
			stopNode()
	},
}
