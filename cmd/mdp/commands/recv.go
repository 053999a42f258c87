package commands

import (
	"github.com/spf13/cobra"
)

var count int

func init() {
	recvCmd.Flags().IntVarP(&count, "count", "n", 0, "exit after receiving this many objects, 0 runs until interrupted")
	rootCmd.AddCommand(recvCmd)
}

var recvCmd = &cobra.Command{
	Use:   "recv",
	Short: "Receives objects from the group",
	Run: func(_ *cobra.Command, _ []string) {
		cfg.startProfiler().
			startLogger().
			readConfig().
			runNode()

		if err := cfg.node.Receive(cfg.ctx); err != nil {
			cfg.logger.Fatal("Failed to start receiving: ", err)
		}
		done := make(chan error, 1)
		if count > 0 {
			go func() { done <- cfg.node.WaitReceived(cfg.ctx, count) }()
		}

		cfg.waitDone(done).
			stopNode()
	},
}
