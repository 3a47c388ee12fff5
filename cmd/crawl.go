package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one full pass over
// the catalogue and resumes from the checkpoint store.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the catalogue",
		Long: `Discovers every vehicle and group, skips groups already DONE and extracts
the rest with a bounded pool of browser workers. Groups that fail after all
retries are recorded as FAILED and the run still exits 0; startup, discovery
and checkpoint-store failures exit non-zero.`,
		RunE: runCrawlCommand,
	}
	flags := cmd.Flags()
	flags.String("catalogue-url", "", "catalogue landing page URL")
	flags.Bool("headless", true, "run the browser headless")
	flags.Bool("force", false, "reset every discovered group and extract it again")
	flags.Int("concurrency", 4, "groups processed at once")
	flags.StringSlice("vehicle", nil, "restrict the crawl to these vehicle IDs")
	flags.Bool("retry-failed", true, "retry groups left FAILED by earlier runs")
	flags.Bool("serve", false, "serve the status API while crawling")
	flags.Int("port", 8080, "status API port")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := appInstance.Crawl(ctx)
	if summary.RunID != "" {
		renderSummary(cmd.OutOrStdout(), summary)
	}
	if err != nil {
		if crawler.IsRunFatal(err) {
			appInstance.Logger().Error("crawl aborted", zap.Error(err))
		}
		return fmt.Errorf("crawl: %w", err)
	}
	appInstance.Logger().Info("crawl finished",
		zap.String("run_id", summary.RunID),
		zap.Int("done", summary.Done),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped))
	return nil
}

func renderSummary(w io.Writer, s crawler.Summary) {
	t := newTable(w)
	t.SetTitle("Run " + s.RunID)
	t.AppendHeader(table.Row{"Vehicles", "Units", "Done", "Failed", "Skipped", "Retried", "Aborted", "Records", "Duration"})
	t.AppendRow(table.Row{
		s.Vehicles, s.Discovered, s.Done, s.Failed, s.Skipped, s.Retried, s.Aborted, s.Records,
		s.Duration.Round(time.Millisecond),
	})
	t.Render()

	if len(s.Failures) == 0 {
		return
	}
	f := newTable(w)
	f.SetTitle("Failed units")
	f.AppendHeader(table.Row{"Vehicle", "Group", "Error"})
	for _, failure := range s.Failures {
		f.AppendRow(table.Row{failure.Key.VehicleID, failure.Key.GroupID, failure.Error})
	}
	f.SetColumnConfigs([]table.ColumnConfig{{Number: 3, WidthMax: 80}})
	f.Render()
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.Style().Title.Format = text.FormatDefault
	t.SetOutputMirror(w)
	return t
}
