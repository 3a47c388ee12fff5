package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

func newResetCmd() *cobra.Command {
	var (
		vehicle string
		group   string
		failed  bool
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Return groups to PENDING so the next crawl extracts them again",
		Long: `Resets checkpoints to PENDING. Use --vehicle and --group for one group,
--vehicle alone for every group of a vehicle, or --failed for every FAILED
group. Do not reset while a crawl is running against the same store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store := appInstance.Checkpoints()

			var keys []crawler.UnitKey
			switch {
			case group != "" && vehicle == "":
				return errors.New("--group requires --vehicle")
			case group != "":
				key := crawler.UnitKey{VehicleID: vehicle, GroupID: group}
				_, ok, err := store.Get(ctx, key)
				if err != nil {
					return fmt.Errorf("get checkpoint: %w", err)
				}
				if !ok {
					return fmt.Errorf("no checkpoint for %s", key)
				}
				keys = append(keys, key)
			case vehicle != "" || failed:
				var filter crawler.Status
				if failed {
					filter = crawler.StatusFailed
				}
				recs, err := store.List(ctx, filter)
				if err != nil {
					return fmt.Errorf("list checkpoints: %w", err)
				}
				for _, rec := range recs {
					if vehicle == "" || rec.Key.VehicleID == vehicle {
						keys = append(keys, rec.Key)
					}
				}
			default:
				return errors.New("specify --vehicle [--group] or --failed")
			}

			for _, key := range keys {
				if err := store.Reset(ctx, key); err != nil {
					return fmt.Errorf("reset %s: %w", key, err)
				}
				appInstance.Logger().Debug("checkpoint reset", zap.Stringer("key", key))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d group(s) to PENDING\n", len(keys))
			return nil
		},
	}
	cmd.Flags().StringVar(&vehicle, "vehicle", "", "vehicle ID")
	cmd.Flags().StringVar(&group, "group", "", "group ID (requires --vehicle)")
	cmd.Flags().BoolVar(&failed, "failed", false, "reset every FAILED group")
	return cmd
}
