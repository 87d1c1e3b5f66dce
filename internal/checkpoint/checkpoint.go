// Package checkpoint persists snapshots of image and order state as CSV
// files so an interrupted session can resume without resubmitting orders or
// re-downloading products.
package checkpoint

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go-eodms-download/internal/catalog"
	"go-eodms-download/internal/models"

	log "github.com/sirupsen/logrus"
)

// canonicalHeaders maps lower-cased header names back to the current-case
// convention. Checkpoints written by old versions used all-lowercase headers;
// readers accept both, writers emit only the current convention.
var canonicalHeaders = map[string]string{}

func init() {
	for _, h := range []string{
		"recordId", "collectionId", "orderId", "itemId",
		"status", "statusMessage", "orderStatus", "orderMessage",
		"orderSubmitted", "dateRapiOrdered", "dateSubmitted",
		"downloaded", "downloadPaths", "priority",
		"userDisplayName", "collectionTitle", "acquisitionStartDate",
		"imageUrl", "imageMetadata", "imageStartDate",
		"thisRecordUrl", "metadataUrl",
	} {
		canonicalHeaders[strings.ToLower(h)] = h
	}
}

// SortFields orders a header so the identifying columns lead: recordId,
// collectionId, then orderId/itemId when present, then the remaining fields
// in their given order.
func SortFields(fields []string) []string {
	out := []string{"recordId", "collectionId"}
	lead := map[string]bool{"recordId": true, "collectionId": true}

	for _, id := range []string{"orderId", "itemId"} {
		for _, f := range fields {
			if f == id {
				out = append(out, id)
				lead[id] = true
				break
			}
		}
	}

	for _, f := range fields {
		if !lead[f] {
			out = append(out, f)
		}
	}
	return out
}

// normalizeHeader maps a legacy lower-cased header name onto the current
// convention, leaving unknown names untouched.
func normalizeHeader(name string) string {
	if canonical, ok := canonicalHeaders[strings.ToLower(name)]; ok && name == strings.ToLower(name) {
		return canonical
	}
	return name
}

// Store writes and reads checkpoint files under one directory, using a
// session prefix so image and order snapshots of one run stay paired.
type Store struct {
	Dir    string
	Prefix string
}

// NewStore returns a Store rooted at dir with the given filename prefix.
func NewStore(dir, prefix string) *Store {
	return &Store{Dir: dir, Prefix: prefix}
}

// ImagePath returns the path of the image snapshot file.
func (s *Store) ImagePath() string {
	return filepath.Join(s.Dir, s.Prefix+"_Results.csv")
}

// OrderPath returns the path of the order snapshot file.
func (s *Store) OrderPath() string {
	return filepath.Join(s.Dir, s.Prefix+"_OrderInfo.csv")
}

// ExportImages snapshots the image list. Writing an empty list truncates any
// previous snapshot so a resume never acts on withdrawn state.
func (s *Store) ExportImages(images *catalog.ImageList) error {
	header := SortFields(images.Fields())
	return writeCSV(s.ImagePath(), header, images.Raw())
}

// ExportOrders snapshots every order item across the order list.
func (s *Store) ExportOrders(orders *catalog.OrderList) error {
	header := SortFields(orders.Fields())
	return writeCSV(s.OrderPath(), header, orders.Raw())
}

// writeCSV writes the snapshot atomically: a temp file in the same directory
// is synced and renamed over the destination, so an interrupt mid-write
// leaves the previous snapshot intact.
func writeCSV(path string, header []string, rows []map[string]string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating checkpoint directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating checkpoint temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("writing checkpoint header: %w", err)
	}
	for _, row := range rows {
		record := make([]string, len(header))
		for i, h := range header {
			record[i] = row[h]
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("writing checkpoint row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing checkpoint: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing checkpoint %s: %w", path, err)
	}
	log.Debugf("Checkpoint written to %s (%d rows)", path, len(rows))
	return nil
}

// Import reads a checkpoint file into its header and rows. Legacy
// lower-cased header names are normalized to the current convention.
func Import(path string) ([]string, []map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening checkpoint %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // rows from older versions may be ragged

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("reading checkpoint %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = normalizeHeader(h)
	}

	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]string, len(header))
		for i, v := range record {
			if i < len(header) {
				row[header[i]] = v
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

// ImportImages reads an image snapshot back into an ImageList.
func (s *Store) ImportImages() (*catalog.ImageList, error) {
	header, rows, err := Import(s.ImagePath())
	if err != nil {
		return nil, err
	}
	images := catalog.NewImageList()
	images.IngestRows(rows, header)
	return images, nil
}

// ItemLookup re-queries one order item for its live remote state.
type ItemLookup interface {
	GetOrderItem(ctx context.Context, itemID string) (models.RawRecord, error)
}

// ImportOrders reads an order snapshot and rebuilds an OrderList. Each row's
// item id is re-queried against the ordering service so the list reflects
// live status rather than the stale snapshot; rows the service no longer
// knows are logged and skipped. The locally tracked downloaded flag is
// preserved across the refresh.
func (s *Store) ImportOrders(ctx context.Context, lookup ItemLookup, images *catalog.ImageList) (*catalog.OrderList, error) {
	_, rows, err := Import(s.OrderPath())
	if err != nil {
		return nil, err
	}

	orders := catalog.NewOrderList(images)
	for _, row := range rows {
		itemID := row["itemId"]
		if itemID == "" {
			log.Warnf("Skipping checkpoint row for record %s: no item id", row["recordId"])
			continue
		}

		rec, err := lookup.GetOrderItem(ctx, itemID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			log.WithError(err).Warnf("Could not refresh order item %s, skipping", itemID)
			continue
		}
		if downloaded := row["downloaded"]; downloaded != "" {
			rec["downloaded"] = downloaded
		}
		orders.Ingest([]models.RawRecord{rec})
	}
	return orders, nil
}
