package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/watchpost/internal/cleaner"
	"github.com/rcliao/watchpost/internal/logging"
	"github.com/rcliao/watchpost/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database and snapshot statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

type statsOutput struct {
	*store.Stats
	Snapshots *cleaner.Status `json:"snapshots,omitempty"`
}

func runStats(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	stats, err := s.Stats(cmd.Context(), getDBPath())
	if err != nil {
		exitErr("stats", err)
	}

	out := statsOutput{Stats: stats}
	if st, err := newCleaner().Status(); err == nil {
		out.Snapshots = &st
	} else {
		logging.Warn().Err(err).Msg("snapshot status")
	}
	printJSON(out)
}

func newCleaner() *cleaner.Cleaner {
	c := getConfig()
	return cleaner.New(c.Worker.SnapshotDir, c.Cleaner.MaxSizeMB<<20, c.Cleaner.Interval, logging.Component("cleaner"))
}
