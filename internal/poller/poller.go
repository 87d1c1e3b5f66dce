// Package poller drives ordered items from "submitted" to "downloaded". It
// repeatedly refreshes remote order status, fetches the files of items that
// became available and collects terminal failures into a report, throttling
// itself to one refresh per interval.
package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"go-eodms-download/internal/catalog"
	"go-eodms-download/internal/helpers"
	"go-eodms-download/internal/models"

	log "github.com/sirupsen/logrus"
)

// DefaultRefreshInterval is the minimum wall-clock spacing between two full
// status refreshes.
const DefaultRefreshInterval = 20 * time.Second

// ErrAttemptsExhausted is returned when the refresh cap is reached with items
// still pending. The pending items stay in the checkpoint and are resumable.
var ErrAttemptsExhausted = errors.New("download attempts exhausted")

// StatusService lists the account's current order items.
type StatusService interface {
	GetOrders(ctx context.Context, maxOrders int) ([]models.RawRecord, error)
}

// Fetcher transfers one product URL into a destination directory.
type Fetcher interface {
	Fetch(ctx context.Context, url string, destDir string) (models.DownloadPath, bool, error)
}

// Recorder persists per-record download state across runs.
type Recorder interface {
	StoreEntry(entry models.DownloadEntry) error
}

// Failure describes one order item that ended in a terminal state with
// nothing to download.
type Failure struct {
	RecordID string
	OrderID  string
	ItemID   string
	Status   string
	Message  string
}

// Report summarizes one polling run.
type Report struct {
	Completed    int // items that reached any terminal state this run
	Downloaded   int // items whose files were fetched
	SkippedFiles int // files skipped by the re-download guard
	Failures     []Failure
}

// Poller owns one polling run over an OrderList.
type Poller struct {
	Service StatusService
	Fetcher Fetcher

	// Recorder and OnDownloaded are optional hooks run after each
	// successful item download (state database, search index).
	Recorder     Recorder
	OnDownloaded func(item *catalog.OrderItem, entry models.DownloadEntry)

	// Checkpoint flushes the current snapshot. It runs after every
	// iteration and, unconditionally, when Run returns - interrupted runs
	// must leave a resumable checkpoint behind.
	Checkpoint func() error

	DownloadDir     string
	MaxDownloads    int // cap on completed items, zero means all
	MaxAttempts     int // cap on status refreshes, zero means unlimited
	MaxOrdersFetch  int // bound on the status listing size
	RefreshInterval time.Duration

	// Progress receives in-place status lines; nil falls back to the log.
	Progress io.Writer
}

// Run polls until every targeted item is terminal or the completion cap is
// reached. The images list (may be nil) receives the download results of
// every completed item so image checkpoints stay current.
func (p *Poller) Run(ctx context.Context, orders *catalog.OrderList, images *catalog.ImageList) (*Report, error) {
	report := &Report{}

	interval := p.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	total := orders.CountItems()
	target := total
	if p.MaxDownloads > 0 && p.MaxDownloads < total {
		target = p.MaxDownloads
		log.Infof("Limiting this run to %d of %d order item(s)", target, total)
	}

	wantedOrders := make(map[string]bool, orders.Count())
	for _, id := range orders.OrderIDs() {
		wantedOrders[id] = true
	}
	completed := make(map[string]bool, total)

	// Required: whatever partial state exists gets flushed even when the
	// run is interrupted mid-download.
	defer p.flush(orders, images)

	attempts := 0
	for report.Completed < target {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
			return report, fmt.Errorf("%w after %d status refresh(es), %d item(s) still pending",
				ErrAttemptsExhausted, attempts, target-report.Completed)
		}

		start := time.Now()
		attempts++

		raw, err := p.Service.GetOrders(ctx, p.MaxOrdersFetch)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			log.WithError(err).Warn("Status refresh failed, will retry")
			p.throttle(ctx, start, interval)
			continue
		}

		var current []models.RawRecord
		for _, rec := range raw {
			if wantedOrders[catalog.MetadataString(rec["orderId"])] {
				current = append(current, rec)
			}
		}
		outstanding := total - report.Completed
		if len(current) < outstanding {
			log.Warnf("Status listing returned %d of %d outstanding item(s); "+
				"items beyond the first %d orders are deferred to a later run",
				len(current), outstanding, p.MaxOrdersFetch)
		}

		newlyCompleted := 0
		for _, rec := range current {
			if report.Completed >= target {
				break
			}
			key := catalog.MetadataString(rec["orderId"]) + "/" + catalog.MetadataString(rec["recordId"])
			if completed[key] {
				continue
			}

			status := catalog.MetadataString(rec["status"])
			switch {
			case models.StatusIn(status, models.DownloadableStatuses):
				item := p.refreshItem(orders, images, rec)
				if item == nil {
					continue
				}
				if err := p.downloadItem(ctx, item, rec, report); err != nil {
					if ctx.Err() != nil {
						return report, ctx.Err()
					}
					log.WithError(err).Warnf("Download failed for record %s (item %s)",
						item.RecordID(), item.ItemID())
					report.Failures = append(report.Failures, Failure{
						RecordID: item.RecordID(),
						OrderID:  item.OrderID(),
						ItemID:   item.ItemID(),
						Status:   models.StatusDbError,
						Message:  err.Error(),
					})
					p.recordFailure(item, err.Error())
				}
				completed[key] = true
				report.Completed++
				newlyCompleted++

			case models.StatusIn(status, models.FailedStatuses):
				item := p.refreshItem(orders, images, rec)
				if item == nil {
					continue
				}
				report.Failures = append(report.Failures, Failure{
					RecordID: item.RecordID(),
					OrderID:  item.OrderID(),
					ItemID:   item.ItemID(),
					Status:   item.Status(),
					Message:  item.StatusMessage(),
				})
				p.recordFailure(item, item.StatusMessage())
				completed[key] = true
				report.Completed++
				newlyCompleted++

			default:
				// Still active, leave pending for the next refresh
			}
		}

		p.flush(orders, images)

		if newlyCompleted == 0 {
			p.progressf("No new images are ready for download yet (%d of %d complete), still waiting...",
				report.Completed, target)
		} else {
			p.progressf("%d of %d order item(s) complete (%d downloaded, %d failed)",
				report.Completed, target, report.Downloaded, len(report.Failures))
		}

		if report.Completed < target {
			p.throttle(ctx, start, interval)
		}
	}

	return report, nil
}

// refreshItem rebuilds the tracked item from the fresh raw record and swaps
// it into its order, keeping one entry per record id. Items belonging to a
// tracked order but not to the tracked record set are ignored.
func (p *Poller) refreshItem(orders *catalog.OrderList, images *catalog.ImageList, rec models.RawRecord) *catalog.OrderItem {
	order := orders.Get(catalog.MetadataString(rec["orderId"]))
	if order == nil {
		return nil
	}
	recordID := catalog.MetadataString(rec["recordId"])
	if order.ItemByRecordID(recordID) == nil {
		return nil
	}

	var image *catalog.Image
	if images != nil {
		image = images.Get(recordID)
	}
	item := catalog.NewOrderItem(image)
	item.ParseRecord(rec)
	order.ReplaceItem(item)
	return item
}

// downloadItem fetches every destination URL of an available item, applying
// the re-download guard per file, then runs the persistence hooks.
func (p *Poller) downloadItem(ctx context.Context, item *catalog.OrderItem, rec models.RawRecord, report *Report) error {
	urls := destinationURLs(rec)
	if len(urls) == 0 {
		return fmt.Errorf("item %s is %s but lists no destination URLs", item.ItemID(), item.Status())
	}

	// Products are grouped by collection under the download root.
	destDir := p.DownloadDir
	if coll := item.GetString("collectionId"); coll != "" {
		destDir = filepath.Join(destDir, helpers.ConvertToSlug(coll))
	}

	var paths []models.DownloadPath
	for _, u := range urls {
		path, skipped, err := p.Fetcher.Fetch(ctx, u, destDir)
		if err != nil {
			return err
		}
		if skipped {
			report.SkippedFiles++
		}
		paths = append(paths, path)
	}

	item.SetDownloaded(paths)
	report.Downloaded++

	entry := models.DownloadEntry{
		RecordID:     item.RecordID(),
		CollectionID: item.GetString("collectionId"),
		OrderID:      item.OrderID(),
		ItemID:       item.ItemID(),
		Status:       models.StatusDbDownloaded,
		Paths:        paths,
		Timestamp:    time.Now().Unix(),
	}
	if sum, err := helpers.Blake3Sum(paths[0].LocalDestination); err == nil {
		entry.Blake3 = sum
	} else {
		log.WithError(err).Warnf("Could not checksum %s", paths[0].LocalDestination)
	}

	if p.Recorder != nil {
		if err := p.Recorder.StoreEntry(entry); err != nil {
			log.WithError(err).Warnf("Could not persist download state for record %s", entry.RecordID)
		}
	}
	if p.OnDownloaded != nil {
		p.OnDownloaded(item, entry)
	}
	return nil
}

// recordFailure persists a terminal failure so later runs see it.
func (p *Poller) recordFailure(item *catalog.OrderItem, details string) {
	if p.Recorder == nil {
		return
	}
	entry := models.DownloadEntry{
		RecordID:     item.RecordID(),
		CollectionID: item.GetString("collectionId"),
		OrderID:      item.OrderID(),
		ItemID:       item.ItemID(),
		Status:       models.StatusDbError,
		ErrorDetails: details,
		Timestamp:    time.Now().Unix(),
	}
	if entry.RecordID == "" || entry.CollectionID == "" {
		return
	}
	if err := p.Recorder.StoreEntry(entry); err != nil {
		log.WithError(err).Warnf("Could not persist failure state for record %s", entry.RecordID)
	}
}

// flush copies completed results onto the image list and writes the
// checkpoint snapshot.
func (p *Poller) flush(orders *catalog.OrderList, images *catalog.ImageList) {
	if images != nil {
		var completions []models.RawRecord
		for _, item := range orders.OrderItems() {
			if !item.Downloaded() {
				continue
			}
			completions = append(completions, models.RawRecord{
				"recordId":      item.RecordID(),
				"orderId":       item.OrderID(),
				"itemId":        item.ItemID(),
				"collectionId":  item.Get("collectionId"),
				"status":        item.Status(),
				"downloaded":    true,
				"downloadPaths": item.DownloadPaths(),
			})
		}
		images.ApplyDownloadResults(completions)
	}

	if p.Checkpoint != nil {
		if err := p.Checkpoint(); err != nil {
			log.WithError(err).Error("Checkpoint flush failed")
		}
	}
}

// throttle sleeps out the remainder of the refresh interval.
func (p *Poller) throttle(ctx context.Context, start time.Time, interval time.Duration) {
	remaining := interval - time.Since(start)
	if remaining <= 0 {
		return
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// progressf writes an in-place progress line, or logs when no progress
// writer is attached.
func (p *Poller) progressf(format string, args ...interface{}) {
	if p.Progress != nil {
		fmt.Fprintf(p.Progress, format+"\n", args...)
		return
	}
	log.Infof(format, args...)
}

// destinationURLs extracts the product URLs of one raw order item. The
// service reports them under "destinations" ({url} objects or bare strings);
// records rebuilt from checkpoints may carry "downloadPaths" instead.
func destinationURLs(rec models.RawRecord) []string {
	var urls []string

	appendURL := func(v interface{}) {
		switch val := v.(type) {
		case string:
			if val != "" {
				urls = append(urls, val)
			}
		case map[string]interface{}:
			if u := catalog.MetadataString(val["url"]); u != "" {
				urls = append(urls, u)
			}
		case models.DownloadPath:
			if val.URL != "" {
				urls = append(urls, val.URL)
			}
		}
	}

	if dests, ok := rec["destinations"].([]interface{}); ok {
		for _, d := range dests {
			appendURL(d)
		}
	}
	if len(urls) == 0 {
		switch dp := rec["downloadPaths"].(type) {
		case []interface{}:
			for _, d := range dp {
				appendURL(d)
			}
		case []models.DownloadPath:
			for _, d := range dp {
				appendURL(d)
			}
		}
	}
	return urls
}
