package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

func newStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show checkpoint status per group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			var filter crawler.Status
			if status != "" {
				if filter, err = crawler.ParseStatus(status); err != nil {
					return err
				}
			}
			recs, err := appInstance.Checkpoints().List(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("list checkpoints: %w", err)
			}
			renderCheckpoints(cmd.OutOrStdout(), recs)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show PENDING, IN_PROGRESS, DONE or FAILED groups")
	return cmd
}

func renderCheckpoints(w io.Writer, recs []crawler.CheckpointRecord) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Vehicle", "Group", "Status", "Attempts", "Rows", "Updated", "Last error"})
	counts := make(map[crawler.Status]int)
	rows := 0
	for _, rec := range recs {
		counts[rec.Status]++
		rows += rec.RowCount
		t.AppendRow(table.Row{
			rec.Key.VehicleID,
			rec.Key.GroupID,
			rec.Status,
			rec.AttemptCount,
			rec.RowCount,
			rec.UpdatedAt.UTC().Format(time.RFC3339),
			rec.LastError,
		})
	}
	t.AppendFooter(table.Row{
		"", fmt.Sprintf("%d units", len(recs)),
		fmt.Sprintf("%d done / %d failed / %d pending / %d running",
			counts[crawler.StatusDone], counts[crawler.StatusFailed],
			counts[crawler.StatusPending], counts[crawler.StatusInProgress]),
		"", rows, "", "",
	})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 7, WidthMax: 60}})
	t.Render()
}
