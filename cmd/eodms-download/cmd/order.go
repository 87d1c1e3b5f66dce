package cmd

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-eodms-download/internal/checkpoint"
	"go-eodms-download/internal/order"
)

// orderCmd represents the order command
var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Order imagery records and download them as they become available",
	Long: `Searches a collection (or takes records from a previous results CSV),
submits an order for every record that is not already in flight, then polls
the ordering service and downloads each product as it becomes available.
Progress is checkpointed to CSV files so an interrupted run can be resumed.`,
	Run: runOrder,
}

// runOrder is the full pipeline: gather records, submit with dedup, poll
// and download, checkpoint throughout.
func runOrder(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := newApiClient()
	if err != nil {
		fatalExit(fmt.Errorf("could not initialize API client: %w", err), nil)
	}
	defer client.Close()

	images, err := gatherImages(ctx, cmd, client)
	if err != nil {
		fatalExit(err, nil)
	}
	if images.Count() == 0 {
		fatalExit(errors.New("no records matched, nothing to order"), nil)
	}

	maximum, _ := cmd.Flags().GetString("maximum")
	maxRecords, maxItems, err := order.ParseMax(maximum)
	if err != nil {
		fatalExit(fmt.Errorf("invalid --maximum value %q: %w", maximum, err), nil)
	}
	if maxRecords > 0 && maxRecords < images.Count() {
		log.Infof("Trimming %d matched record(s) to the first %d", images.Count(), maxRecords)
		images.Trim(maxRecords, nil)
	}

	store := checkpoint.NewStore(globalConfig.ResultsPath, resultsPrefix(cmd))
	flushImages := func() error { return store.ExportImages(images) }

	log.Infof("Ordering %d record(s)...", images.Count())

	// Viper resolves the flag against its bound "order.*" setting, so these
	// defaults can come from the environment as well as the command line.
	priority, err := canonicalPriority(viper.GetString("order.priority"))
	if err != nil {
		fatalExit(err, flushImages)
	}
	confirm := order.ConfirmFunc(promptYesNo)
	if viper.GetBool("order.yes") || globalConfig.SkipConfirmation {
		confirm = order.AlwaysConfirm
	}

	submitter := &order.Submitter{
		Service:  client,
		Confirm:  confirm,
		Priority: priority,
		MaxItems: maxItems,
	}

	result, err := submitter.Submit(ctx, images)
	if err != nil {
		if errors.Is(err, order.ErrDeclined) {
			log.Info("Order submission cancelled by user.")
			return
		}
		fatalExit(err, flushImages)
	}

	log.Infof("Submission complete: %d item(s) reused from in-flight orders, %d newly submitted (%d failed batch(es))",
		result.ExistingItems, result.SubmittedItems, result.FailedBatches)

	if err := store.ExportImages(images); err != nil {
		log.WithError(err).Warn("Could not write results checkpoint")
	}
	if err := store.ExportOrders(result.Orders); err != nil {
		log.WithError(err).Warn("Could not write order checkpoint")
	}

	noDownload, _ := cmd.Flags().GetBool("no-download")
	if noDownload {
		log.Infof("Skipping download phase due to --no-download flag. Resume later with: eodms-download resume --prefix %s", store.Prefix)
		return
	}

	runPollAndDownload(ctx, client, result.Orders, images, store)
}
