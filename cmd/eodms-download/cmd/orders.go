package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-eodms-download/internal/catalog"
	"go-eodms-download/internal/models"
)

// ordersCmd represents the orders command
var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "List the account's current orders and their statuses",
	Run:   runOrders,
}

func init() {
	rootCmd.AddCommand(ordersCmd)

	ordersCmd.Flags().Int("max-orders", 0, "Maximum order items to fetch (0 uses the configured default)")
	ordersCmd.Flags().Bool("active-only", false, "Only show items that are still in flight")
}

func runOrders(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := newApiClient()
	if err != nil {
		fatalExit(fmt.Errorf("could not initialize API client: %w", err), nil)
	}
	defer client.Close()

	maxOrders, _ := cmd.Flags().GetInt("max-orders")
	if maxOrders <= 0 {
		maxOrders = globalConfig.MaxOrdersFetch
	}
	activeOnly, _ := cmd.Flags().GetBool("active-only")

	log.Infof("Fetching up to %d order item(s)...", maxOrders)
	raw, err := client.GetOrders(ctx, maxOrders)
	if err != nil {
		fatalExit(fmt.Errorf("could not list orders: %w", err), nil)
	}

	orders := catalog.NewOrderList(nil)
	orders.Ingest(raw)

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Order ID\tItem ID\tRecord ID\tStatus\tOrdered\tMessage")
	fmt.Fprintln(tw, "--------\t-------\t---------\t------\t-------\t-------")

	shown := 0
	for _, order := range orders.Orders {
		for _, item := range order.Items {
			if activeOnly && !models.StatusIn(item.Status(), models.ActiveStatuses) {
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				item.OrderID(),
				item.ItemID(),
				item.RecordID(),
				item.Status(),
				item.GetString("dateRapiOrdered"),
				item.StatusMessage(),
			)
			shown++
		}
	}
	if err := tw.Flush(); err != nil {
		log.WithError(err).Error("Error flushing order table")
	}
	log.Infof("Listed %d order item(s) across %d order(s).", shown, orders.Count())
}
