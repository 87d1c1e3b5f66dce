package index

import (
	"log"
	"os"

	"github.com/blevesearch/bleve/v2"
)

const defaultIndexPath = "eodms.bleve"

// Item represents one downloaded imagery record in the search index.
// All fields are indexed and searchable using their lowercase JSON tag
// names (e.g., query '+collectionId:RCMImageProducts' or '+status:Downloaded').
type Item struct {
	ID              string   `json:"id"` // rec_<collectionId>_<recordId>
	RecordID        string   `json:"recordId"`
	CollectionID    string   `json:"collectionId"`
	OrderID         string   `json:"orderId,omitempty"`
	ItemID          string   `json:"itemId,omitempty"`
	Title           string   `json:"title,omitempty"`
	AcquisitionDate string   `json:"acquisitionDate,omitempty"`
	Status          string   `json:"status,omitempty"`
	FilePaths       []string `json:"filePaths,omitempty"` // local destinations
	Blake3          string   `json:"blake3,omitempty"`
	WKT             string   `json:"wkt,omitempty"` // footprint geometry
}

// OpenOrCreateIndex opens an existing Bleve index or creates a new one if it doesn't exist.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	index, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		log.Printf("Creating new index at: %s", indexPath)
		mapping := bleve.NewIndexMapping()
		index, err = bleve.New(indexPath, mapping)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err // Other error opening index
	} else {
		log.Printf("Opened existing index at: %s", indexPath)
	}
	return index, nil
}

// IndexItem adds or updates an item in the Bleve index.
func IndexItem(index bleve.Index, item Item) error {
	return index.Index(item.ID, item)
}

// SearchIndex performs a search query against the index.
func SearchIndex(index bleve.Index, query string) (*bleve.SearchResult, error) {
	searchQuery := bleve.NewQueryStringQuery(query)
	searchRequest := bleve.NewSearchRequest(searchQuery)
	searchRequest.Fields = []string{"*"} // Request all stored fields
	searchResults, err := index.Search(searchRequest)
	if err != nil {
		return nil, err
	}
	return searchResults, nil
}

// DeleteIndex removes the index directory. Use with caution!
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Printf("Attempting to delete index at: %s", indexPath)
	return os.RemoveAll(indexPath)
}
