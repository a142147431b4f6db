package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/watchpost/internal/model"
	"github.com/rcliao/watchpost/internal/store"
)

func init() {
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect logged detection events",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List events, newest first",
		Run:   runEventsList,
	}
	listCmd.Flags().StringP("label", "l", "", "Filter by label substring")
	listCmd.Flags().String("method", "", "Filter by identification method: face, reid or gait")
	listCmd.Flags().String("camera", "", "Filter by camera name")
	listCmd.Flags().Duration("since", 0, "Only events newer than this age (e.g. 1h)")
	listCmd.Flags().Bool("unsent", false, "Only events not yet delivered")
	listCmd.Flags().IntP("limit", "n", 20, "Max results (-1 for all)")

	ackCmd := &cobra.Command{
		Use:   "ack <id>",
		Short: "Mark an event as delivered",
		Args:  cobra.ExactArgs(1),
		Run:   runEventsAck,
	}

	eventsCmd.AddCommand(listCmd, ackCmd)
	RootCmd.AddCommand(eventsCmd)
}

func runEventsList(cmd *cobra.Command, args []string) {
	label, _ := cmd.Flags().GetString("label")
	method, _ := cmd.Flags().GetString("method")
	camera, _ := cmd.Flags().GetString("camera")
	since, _ := cmd.Flags().GetDuration("since")
	unsent, _ := cmd.Flags().GetBool("unsent")
	limit, _ := cmd.Flags().GetInt("limit")

	p := store.EventParams{
		Label:  label,
		Method: model.Method(method),
		Camera: camera,
		Unsent: unsent,
		Limit:  limit,
	}
	if since > 0 {
		p.Since = time.Now().Add(-since)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	events, err := s.ListEvents(cmd.Context(), p)
	if err != nil {
		exitErr("list events", err)
	}

	if formatFlag == "text" {
		for _, e := range events {
			fmt.Printf("%s\t%s\t%s\t%s\t%.2f\n", e.CreatedAt.Local().Format(time.DateTime), e.CameraName, e.Label, e.IdentificationMethod, e.Confidence)
		}
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	printJSON(events)
}

func runEventsAck(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if err := s.MarkEventSent(cmd.Context(), args[0]); err != nil {
		exitErr("ack event", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q}`+"\n", args[0])
}
