package cmd

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-eodms-download/index"
)

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search [QUERY]",
	Short: "Search the index of downloaded imagery records",
	Long: `Queries the Bleve index built during downloads. The query string uses
Bleve's query syntax, e.g. '+collectionId:RCMImageProducts +status:Downloaded'
or a bare term matched against any field.`,
	Args: cobra.ExactArgs(1),
	Run:  runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	query := args[0]
	indexPath := globalConfig.BleveIndexPath

	// Open, not OpenOrCreateIndex: searching must not create an empty index.
	bleveIndex, err := bleve.Open(indexPath)
	if err != nil {
		if err == bleve.ErrorIndexPathDoesNotExist {
			fatalExit(fmt.Errorf("no search index at %s; run an order with IndexDownloads enabled first", indexPath), nil)
		}
		fatalExit(fmt.Errorf("could not open search index at %s: %w", indexPath, err), nil)
	}
	defer func() {
		if err := bleveIndex.Close(); err != nil {
			log.WithError(err).Error("Error closing search index")
		}
	}()

	searchResults, err := index.SearchIndex(bleveIndex, query)
	if err != nil {
		fatalExit(fmt.Errorf("search failed: %w", err), nil)
	}

	log.Infof("Search finished. Hits: %d, Total: %d, Took: %s",
		len(searchResults.Hits), searchResults.Total, searchResults.Took)

	if searchResults.Total == 0 {
		fmt.Println("No records matched the query.")
		return
	}

	fmt.Println("--- Search Results ---")
	for i, hit := range searchResults.Hits {
		fmt.Printf("[%d] %s (score %.2f)\n", i+1, hit.ID, hit.Score)
		for field, value := range hit.Fields {
			fmt.Printf("  %s: %v\n", field, value)
		}
		fmt.Println("---")
	}
}
