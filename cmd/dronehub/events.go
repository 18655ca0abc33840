package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newEventsCmd() *cobra.Command {
	var (
		flags clientFlags
		limit int
		drone string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the recent lifecycle operation trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.newClient()
			if err != nil {
				return err
			}
			path := fmt.Sprintf("/api/events?limit=%d", limit)
			if drone != "" {
				path += "&droneId=" + url.QueryEscape(drone)
			}
			var resp struct {
				Events []struct {
					Op         string    `json:"op"`
					DroneName  string    `json:"droneName"`
					Outcome    string    `json:"outcome"`
					Detail     string    `json:"detail"`
					DurationMS int64     `json:"durationMs"`
					CreatedAt  time.Time `json:"createdAt"`
				} `json:"events"`
			}
			if err := client.get(path, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(resp.Events) == 0 {
				fmt.Fprintln(out, "No events.")
				return nil
			}
			for _, e := range resp.Events {
				line := fmt.Sprintf("%s  %-8s %-20s %-12s %dms",
					e.CreatedAt.Format("2006-01-02 15:04:05"), e.Op, e.DroneName, outcomeColor(e.Outcome), e.DurationMS)
				if e.Detail != "" {
					line += "  " + e.Detail
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum events to show")
	cmd.Flags().StringVar(&drone, "drone", "", "filter by drone ID")
	return cmd
}

func outcomeColor(outcome string) string {
	switch outcome {
	case "ok":
		return color.GreenString(outcome)
	case "rolled_back":
		return color.YellowString(outcome)
	case "error", "fatal":
		return color.RedString(outcome)
	default:
		return outcome
	}
}
