package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/blevesearch/bleve/v2"
	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"

	"go-eodms-download/index"
	"go-eodms-download/internal/catalog"
	"go-eodms-download/internal/checkpoint"
	"go-eodms-download/internal/database"
	"go-eodms-download/internal/downloader"
	"go-eodms-download/internal/eodms"
	"go-eodms-download/internal/models"
	"go-eodms-download/internal/poller"
)

// runPollAndDownload is the download phase shared by the order and resume
// commands: poll order status, fetch products as they become available,
// checkpoint after every refresh.
func runPollAndDownload(ctx context.Context, client *eodms.Client, orders *catalog.OrderList, images *catalog.ImageList, store *checkpoint.Store) {
	if orders.CountItems() == 0 {
		log.Info("No order items to poll.")
		return
	}

	db, err := database.Open(globalConfig.DatabasePath)
	if err != nil {
		fatalExit(fmt.Errorf("could not open download database at %s: %w", globalConfig.DatabasePath, err), func() error {
			return store.ExportImages(images)
		})
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Error("Error closing download database")
		}
	}()

	var bleveIndex bleve.Index
	if globalConfig.IndexDownloads {
		bleveIndex, err = index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
		if err != nil {
			log.WithError(err).Warnf("Could not open search index at %s, indexing disabled", globalConfig.BleveIndexPath)
			bleveIndex = nil
		} else {
			defer func() {
				if err := bleveIndex.Close(); err != nil {
					log.WithError(err).Error("Error closing search index")
				}
			}()
		}
	}

	writer := uilive.New()
	writer.Start()

	p := &poller.Poller{
		Service:  client,
		Fetcher:  downloader.NewDownloader(client),
		Recorder: db,
		Checkpoint: func() error {
			if err := store.ExportImages(images); err != nil {
				return err
			}
			return store.ExportOrders(orders)
		},
		DownloadDir:    globalConfig.DownloadPath,
		MaxDownloads:   globalConfig.MaxDownloads,
		MaxAttempts:    globalConfig.DownloadAttempts,
		MaxOrdersFetch: globalConfig.MaxOrdersFetch,
		Progress:       writer,
	}
	if bleveIndex != nil {
		p.OnDownloaded = func(item *catalog.OrderItem, entry models.DownloadEntry) {
			if err := index.IndexItem(bleveIndex, indexItemFor(item, entry)); err != nil {
				log.WithError(err).Warnf("Could not index record %s", entry.RecordID)
			}
		}
	}

	log.Infof("Polling %d order item(s)...", orders.CountItems())
	report, err := p.Run(ctx, orders, images)

	writer.Stop()
	printDownloadSummary(report)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			fatalExit(fmt.Errorf("interrupted; progress saved to %s and %s, resume with: eodms-download resume --prefix %s",
				store.ImagePath(), store.OrderPath(), store.Prefix), nil)
		}
		if errors.Is(err, poller.ErrAttemptsExhausted) {
			log.Warn(err)
			log.Warnf("Pending items stay in the checkpoint; resume with: eodms-download resume --prefix %s", store.Prefix)
			return
		}
		fatalExit(err, nil)
	}

	log.Infof("Done. Results checkpoint: %s, order checkpoint: %s", store.ImagePath(), store.OrderPath())
}

// indexItemFor maps a downloaded order item onto its search index document.
func indexItemFor(item *catalog.OrderItem, entry models.DownloadEntry) index.Item {
	doc := index.Item{
		ID:           string(database.EntryKey(entry.CollectionID, entry.RecordID)),
		RecordID:     entry.RecordID,
		CollectionID: entry.CollectionID,
		OrderID:      entry.OrderID,
		ItemID:       entry.ItemID,
		Status:       entry.Status,
		Blake3:       entry.Blake3,
	}
	for _, path := range entry.Paths {
		doc.FilePaths = append(doc.FilePaths, path.LocalDestination)
	}
	if img := item.Image(); img != nil {
		doc.Title = img.Title()
		doc.AcquisitionDate = img.Date()
		doc.WKT = img.WKT()
	}
	return doc
}

// printDownloadSummary writes the run report, failures as a table.
func printDownloadSummary(report *poller.Report) {
	log.Infof("Download phase summary: %d item(s) completed, %d downloaded, %d file(s) skipped (already present), %d failed",
		report.Completed, report.Downloaded, report.SkippedFiles, len(report.Failures))

	if len(report.Failures) == 0 {
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Record ID\tOrder ID\tItem ID\tStatus\tMessage")
	fmt.Fprintln(tw, "---------\t--------\t-------\t------\t-------")
	for _, f := range report.Failures {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", f.RecordID, f.OrderID, f.ItemID, f.Status, f.Message)
	}
	if err := tw.Flush(); err != nil {
		log.WithError(err).Error("Error flushing failure table")
	}

	if globalConfig.DownloadAttempts > 0 {
		log.Warnf("DownloadAttempts is currently set to %d in the configuration file; "+
			"consider increasing it so status checks continue until your orders become %s",
			globalConfig.DownloadAttempts, models.StatusAvailable)
	}
}
