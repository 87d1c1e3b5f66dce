package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-eodms-download/internal/catalog"
	"go-eodms-download/internal/checkpoint"
	"go-eodms-download/internal/eodms"
	"go-eodms-download/internal/fields"
	"go-eodms-download/internal/models"
)

func init() {
	rootCmd.AddCommand(orderCmd)

	orderCmd.Flags().StringP("collection", "c", "", "Collection to search (e.g. RCMImageProducts)")
	orderCmd.Flags().StringArrayP("filter", "f", []string{}, "Search filter as 'Field Name=value' (repeatable)")
	orderCmd.Flags().Int("max-results", 150, "Maximum search results to fetch")
	orderCmd.Flags().StringArrayP("record", "r", []string{}, "Order a specific record as 'Collection:RecordId' (repeatable, skips search)")
	orderCmd.Flags().StringArray("from-results", []string{}, "Order the records of a previous results CSV instead of searching (repeatable)")
	orderCmd.Flags().StringP("maximum", "m", "", "Maximum records to order, optionally with items per order as 'N:K'")
	orderCmd.Flags().StringP("priority", "p", "", "Order priority (Low, Medium, High, Urgent)")
	orderCmd.Flags().String("prefix", "", "Checkpoint filename prefix (defaults to a timestamp)")
	orderCmd.Flags().BoolP("yes", "y", false, "Skip the submission confirmation prompt")
	orderCmd.Flags().Bool("no-download", false, "Submit the order but skip the polling/download phase")

	// Defaults for these are read back through viper, so EODMS_ORDER_*
	// environment variables can override the flag defaults.
	viper.SetEnvPrefix("EODMS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.BindPFlag("order.collection", orderCmd.Flags().Lookup("collection"))
	viper.BindPFlag("order.max_results", orderCmd.Flags().Lookup("max-results"))
	viper.BindPFlag("order.priority", orderCmd.Flags().Lookup("priority"))
	viper.BindPFlag("order.yes", orderCmd.Flags().Lookup("yes"))
}

// allowedPriorities matches what the ordering service accepts.
var allowedPriorities = map[string]string{
	"low":    "Low",
	"medium": "Medium",
	"high":   "High",
	"urgent": "Urgent",
}

// canonicalPriority maps the flag value onto the service's casing, erroring
// on anything outside the accepted set. Empty means service default.
func canonicalPriority(priority string) (string, error) {
	if priority == "" {
		return "", nil
	}
	canonical, ok := allowedPriorities[strings.ToLower(priority)]
	if !ok {
		return "", fmt.Errorf("invalid priority %q (use Low, Medium, High or Urgent)", priority)
	}
	return canonical, nil
}

// resultsPrefix returns the checkpoint filename prefix: the --prefix flag
// when given, otherwise a timestamp so successive runs never collide.
func resultsPrefix(cmd *cobra.Command) string {
	if prefix, _ := cmd.Flags().GetString("prefix"); prefix != "" {
		return prefix
	}
	return time.Now().Format("20060102_150405")
}

// gatherImages assembles the records to order, from exactly one source:
// an explicit --record list, a previous results CSV, or a collection search.
func gatherImages(ctx context.Context, cmd *cobra.Command, client *eodms.Client) (*catalog.ImageList, error) {
	records, _ := cmd.Flags().GetStringArray("record")
	fromResults, _ := cmd.Flags().GetStringArray("from-results")

	switch {
	case len(records) > 0:
		return imagesFromRecordIDs(records)
	case len(fromResults) > 0:
		return imagesFromResultsFiles(fromResults)
	default:
		return imagesFromSearch(ctx, cmd, client)
	}
}

// imagesFromRecordIDs builds bare records from 'Collection:RecordId' args.
func imagesFromRecordIDs(records []string) (*catalog.ImageList, error) {
	var raw []models.RawRecord
	for _, spec := range records {
		collection, recordID, found := strings.Cut(spec, ":")
		if !found || collection == "" || recordID == "" {
			return nil, fmt.Errorf("invalid --record value %q (expected 'Collection:RecordId')", spec)
		}
		raw = append(raw, models.RawRecord{
			"recordId":     recordID,
			"collectionId": collection,
		})
	}
	images := catalog.NewImageList()
	images.Ingest(raw)
	log.Infof("Ordering %d record(s) given on the command line", images.Count())
	return images, nil
}

// imagesFromResultsFiles reloads the records of previous results CSVs,
// combining them into one list. A record appearing in several files is kept
// once, from the first file listing it.
func imagesFromResultsFiles(paths []string) (*catalog.ImageList, error) {
	images := catalog.NewImageList()
	for _, path := range paths {
		header, rows, err := checkpoint.Import(path)
		if err != nil {
			return nil, fmt.Errorf("could not read results file %s: %w", path, err)
		}
		part := catalog.NewImageList()
		part.IngestRows(rows, header)
		for _, id := range part.IDs() {
			if images.Get(id) != nil {
				part.Remove(id)
			}
		}
		images.Combine(part)
	}
	log.Infof("Loaded %d record(s) from %d results file(s)", images.Count(), len(paths))
	return images, nil
}

// imagesFromSearch runs a collection search with the --filter criteria,
// resolving filter names against the typed field registry first.
func imagesFromSearch(ctx context.Context, cmd *cobra.Command, client *eodms.Client) (*catalog.ImageList, error) {
	collection := viper.GetString("order.collection")
	if collection == "" {
		return nil, fmt.Errorf("a collection is required: use --collection, --record or --from-results")
	}

	registry := fields.Default()
	if err := registry.Validate(); err != nil {
		return nil, fmt.Errorf("field registry is invalid: %w", err)
	}

	filterArgs, _ := cmd.Flags().GetStringArray("filter")
	filters := make(map[string]string, len(filterArgs))
	for _, f := range filterArgs {
		name, value, found := strings.Cut(f, "=")
		if !found {
			return nil, fmt.Errorf("invalid --filter value %q (expected 'Field Name=value')", f)
		}
		fieldID, canonical, err := registry.Resolve(collection, strings.TrimSpace(name), strings.TrimSpace(value))
		if err != nil {
			return nil, err
		}
		filters[fieldID] = canonical
	}

	maxResults := viper.GetInt("order.max_results")
	log.Infof("Searching %s with %d filter(s)...", collection, len(filters))
	results, err := client.Search(ctx, collection, filters, maxResults)
	if err != nil {
		return nil, fmt.Errorf("search of %s failed: %w", collection, err)
	}

	images := catalog.NewImageList()
	images.Ingest(results)
	log.Infof("Search matched %d record(s)", images.Count())
	return images, nil
}
