package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export users and embeddings as JSON",
		Long:  "Export every user with their re-id and gait embeddings. Add --events to include the event log.",
		Run:   runExport,
	}

	cmd.Flags().Bool("events", false, "Include events")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	withEvents, _ := cmd.Flags().GetBool("events")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	ex, err := s.ExportAll(cmd.Context(), withEvents)
	if err != nil {
		exitErr("export", err)
	}
	printJSON(ex)
}
