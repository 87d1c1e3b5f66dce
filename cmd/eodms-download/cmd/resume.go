package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-eodms-download/internal/checkpoint"
)

// resumeCmd represents the resume command
var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume an interrupted order run from its CSV checkpoints",
	Long: `Reloads the results and order checkpoints written by a previous run,
re-queries the live status of every order item, and continues polling and
downloading where the run left off. Items already marked downloaded are
kept as-is and skipped.`,
	Run: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)

	resumeCmd.Flags().String("prefix", "", "Checkpoint filename prefix of the run to resume (required)")
	resumeCmd.MarkFlagRequired("prefix")
}

func runResume(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	prefix, _ := cmd.Flags().GetString("prefix")
	store := checkpoint.NewStore(globalConfig.ResultsPath, prefix)

	images, err := store.ImportImages()
	if err != nil {
		fatalExit(fmt.Errorf("could not read results checkpoint %s: %w", store.ImagePath(), err), nil)
	}
	log.Infof("Loaded %d record(s) from %s", images.Count(), store.ImagePath())

	client, err := newApiClient()
	if err != nil {
		fatalExit(fmt.Errorf("could not initialize API client: %w", err), nil)
	}
	defer client.Close()

	// Each checkpointed item is re-queried so the poller starts from the
	// service's view of the order, not the possibly stale CSV row.
	orders, err := store.ImportOrders(ctx, client, images)
	if err != nil {
		fatalExit(fmt.Errorf("could not rebuild orders from %s: %w", store.OrderPath(), err), nil)
	}
	log.Infof("Recovered %d order(s) with %d item(s) from %s", orders.Count(), orders.CountItems(), store.OrderPath())

	pending := 0
	for _, item := range orders.OrderItems() {
		if !item.Downloaded() {
			pending++
		}
	}
	if pending == 0 {
		log.Info("Every checkpointed item is already downloaded. Nothing to resume.")
		return
	}
	log.Infof("%d item(s) still pending download", pending)

	runPollAndDownload(ctx, client, orders, images, store)
}
