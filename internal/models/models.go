package models

import "strings"

// RawRecord is a single record as returned by the ordering service. Search
// results, order items and download completion records all arrive in this
// shape; the well-known keys are pulled out by the catalog package and the
// remainder is carried along as metadata.
type RawRecord map[string]interface{}

type (
	Config struct {
		// Connection/Auth
		Username string `toml:"Username"`
		Password string `toml:"Password"`
		BaseUrl  string `toml:"BaseUrl"`

		// Paths
		DownloadPath   string `toml:"DownloadPath"`
		ResultsPath    string `toml:"ResultsPath"`
		DatabasePath   string `toml:"DatabasePath"`
		BleveIndexPath string `toml:"BleveIndexPath"`

		// Remote call behaviour
		AttemptLimit        int `toml:"AttemptLimit"`        // retries per remote call
		ApiClientTimeoutSec int `toml:"ApiClientTimeoutSec"` // per-call timeout
		MaxOrdersFetch      int `toml:"MaxOrdersFetch"`      // cap on order listing size

		// Download behaviour
		MaxDownloads     int  `toml:"MaxDownloads"`     // 0 means no cap
		DownloadAttempts int  `toml:"DownloadAttempts"` // status passes before giving up; 0 means unlimited
		SkipConfirmation bool `toml:"SkipConfirmation"`
		IndexDownloads   bool `toml:"IndexDownloads"`

		// Cleanup cutoffs, parsed as durations (e.g. "336h" for two weeks).
		KeepResults   string `toml:"KeepResults"`
		KeepDownloads string `toml:"KeepDownloads"`

		// Other
		LogApiRequests bool `toml:"LogApiRequests"`
	}

	// OrderRequest identifies one record to order from the remote service.
	OrderRequest struct {
		CollectionID string `json:"collectionId"`
		RecordID     string `json:"recordId"`
	}

	// DownloadPath pairs a remote URL with the local file it was (or will
	// be) written to.
	DownloadPath struct {
		URL              string `json:"url"`
		LocalDestination string `json:"local_destination"`
	}

	// DownloadEntry is the per-record state stored in the download database.
	DownloadEntry struct {
		RecordID     string         `json:"recordId"`
		CollectionID string         `json:"collectionId"`
		OrderID      string         `json:"orderId"`
		ItemID       string         `json:"itemId"`
		Status       string         `json:"status"`
		Paths        []DownloadPath `json:"paths,omitempty"`
		Blake3       string         `json:"blake3,omitempty"`
		ErrorDetails string         `json:"errorDetails,omitempty"`
		Timestamp    int64          `json:"timestamp"`
	}
)

// Order item statuses reported by the ordering service.
const (
	StatusSubmitted  = "SUBMITTED"
	StatusProcessing = "PROCESSING"
	StatusAvailable  = "AVAILABLE_FOR_DOWNLOAD"
	StatusExpanded   = "EXPANDED"
	StatusCancelled  = "CANCELLED"
	StatusFailed     = "FAILED"
	StatusExpired    = "EXPIRED"
	StatusDelivered  = "DELIVERED"
	StatusMediaOrder = "MEDIA_ORDER_SUBMITTED"
	StatusSuccess    = "SUCCESS"
)

// Download database statuses.
const (
	StatusDbPending    = "Pending"
	StatusDbDownloaded = "Downloaded"
	StatusDbError      = "Error"
)

// ActiveStatuses are the order item statuses that count as "still in
// flight": a record with an item in one of these states must not be
// re-ordered.
var ActiveStatuses = []string{StatusSubmitted, StatusAvailable, StatusProcessing}

// DownloadableStatuses are the statuses whose items carry destination URLs
// ready to fetch. Some deployments report SUCCESS instead of
// AVAILABLE_FOR_DOWNLOAD once a product is staged.
var DownloadableStatuses = []string{StatusAvailable, StatusExpanded, StatusSuccess}

// FailedStatuses are terminal statuses with nothing to download; items in
// these states are reported and considered complete.
var FailedStatuses = []string{
	StatusCancelled, StatusFailed, StatusExpired,
	StatusDelivered, StatusMediaOrder,
}

// StatusIn reports whether status matches any entry of set, ignoring case.
func StatusIn(status string, set []string) bool {
	for _, s := range set {
		if strings.EqualFold(status, s) {
			return true
		}
	}
	return false
}
