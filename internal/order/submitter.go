// Package order implements order submission with in-flight deduplication:
// records that already have an active order are never resubmitted, and the
// remainder is submitted in bounded batches.
package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go-eodms-download/internal/catalog"
	"go-eodms-download/internal/models"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrNoItemsSubmitted is returned when records needed ordering but no
	// batch produced a single order item. Callers treat this as fatal.
	ErrNoItemsSubmitted = errors.New("no order items resulted from submission")

	// ErrDeclined is returned when the confirmation policy rejects the
	// submission.
	ErrDeclined = errors.New("order submission declined")
)

// dedupFetchMargin is added to the image count when listing existing orders,
// reducing the chance an in-flight order falls off the page.
const dedupFetchMargin = 25

// Service is the slice of the ordering API the submitter needs.
type Service interface {
	GetOrders(ctx context.Context, maxOrders int) ([]models.RawRecord, error)
	Order(ctx context.Context, items []models.OrderRequest, priority string) ([]models.RawRecord, error)
}

// ConfirmFunc decides whether a submission proceeds. Headless runs inject
// a constant policy; interactive runs prompt the user.
type ConfirmFunc func(message string) bool

// AlwaysConfirm is the policy used when confirmation is skipped.
func AlwaysConfirm(string) bool { return true }

// Submitter turns an ImageList into an OrderList, reusing active orders.
type Submitter struct {
	Service  Service
	Confirm  ConfirmFunc
	Priority string
	// MaxItems caps the items per submitted order; zero means one batch.
	MaxItems int
}

// Result reports what one submission run did.
type Result struct {
	Orders         *catalog.OrderList
	ExistingItems  int
	SubmittedItems int
	FailedBatches  int
}

// Submit orders every image in the list that has no active order. The
// returned OrderList is the union of reused in-flight items and freshly
// submitted ones.
func (s *Submitter) Submit(ctx context.Context, images *catalog.ImageList) (*Result, error) {
	confirm := s.Confirm
	if confirm == nil {
		confirm = AlwaysConfirm
	}

	toSubmit := images.IDs()

	// Find in-flight orders covering any of the requested records. Fetching
	// a margin beyond the image count reduces pagination misses.
	existing := catalog.NewOrderList(images)
	rawOrders, err := s.Service.GetOrders(ctx, images.Count()+dedupFetchMargin)
	if err != nil {
		log.WithError(err).Warn("Could not list existing orders, submitting all records")
	} else {
		wanted := make(map[string]bool, len(toSubmit))
		for _, id := range toSubmit {
			wanted[id] = true
		}

		var activeRaw []models.RawRecord
		for _, raw := range rawOrders {
			recID := catalog.MetadataString(raw["recordId"])
			status := catalog.MetadataString(raw["status"])
			if !wanted[recID] || !models.StatusIn(status, models.ActiveStatuses) {
				continue
			}
			activeRaw = append(activeRaw, raw)
		}

		// Collapse redundant orders covering an identical record set before
		// picking the item to reuse per record, so a surviving duplicate does
		// not shadow the order that is kept.
		backlog := catalog.NewOrderList(nil)
		backlog.Ingest(activeRaw)
		backlog.CollapseDuplicates()
		kept := make(map[string]bool, backlog.Count())
		for _, id := range backlog.OrderIDs() {
			kept[id] = true
		}

		var active []models.RawRecord
		for _, raw := range activeRaw {
			recID := catalog.MetadataString(raw["recordId"])
			if !kept[catalog.MetadataString(raw["orderId"])] || !wanted[recID] {
				continue
			}
			active = append(active, raw)
			wanted[recID] = false
		}
		existing.Ingest(active)

		var remaining []string
		seen := make(map[string]bool)
		for _, id := range toSubmit {
			if wanted[id] && !seen[id] {
				remaining = append(remaining, id)
			}
			seen[id] = true
		}
		toSubmit = remaining
	}

	result := &Result{Orders: existing, ExistingItems: existing.CountItems()}
	if result.ExistingItems > 0 {
		log.Infof("%d record(s) already have an active order and will not be resubmitted", result.ExistingItems)
	}

	if len(toSubmit) == 0 {
		log.Info("All records already have active orders, nothing to submit")
		return result, nil
	}

	if !confirm(fmt.Sprintf("Submit orders for %d record(s)?", len(toSubmit))) {
		return nil, ErrDeclined
	}

	requests := make([]models.OrderRequest, 0, len(toSubmit))
	for _, id := range toSubmit {
		img := images.Get(id)
		if img == nil {
			continue
		}
		requests = append(requests, models.OrderRequest{
			CollectionID: img.CollectionID(),
			RecordID:     img.RecordID(),
		})
	}

	submitted := catalog.NewOrderList(images)
	for batchNum, batch := range batches(requests, s.MaxItems) {
		rawItems, err := s.Service.Order(ctx, batch, s.Priority)
		if err != nil {
			// A failed batch is skipped, not fatal for the remaining batches
			result.FailedBatches++
			log.WithError(err).Warnf("Order submission batch %d (%d item(s)) failed, skipping",
				batchNum+1, len(batch))
			continue
		}
		submitted.Ingest(rawItems)
	}

	result.SubmittedItems = submitted.CountItems()
	if result.SubmittedItems == 0 {
		return result, fmt.Errorf("%w (%d record(s) needed ordering)", ErrNoItemsSubmitted, len(toSubmit))
	}

	log.Infof("Submitted %d order item(s) across %d order(s)", result.SubmittedItems, submitted.Count())
	result.Orders.Merge(submitted)
	return result, nil
}

// batches splits the requests into groups of at most maxItems; a zero or
// negative maxItems yields a single batch.
func batches(requests []models.OrderRequest, maxItems int) [][]models.OrderRequest {
	if len(requests) == 0 {
		return nil
	}
	if maxItems <= 0 || maxItems >= len(requests) {
		return [][]models.OrderRequest{requests}
	}
	var out [][]models.OrderRequest
	for start := 0; start < len(requests); start += maxItems {
		end := start + maxItems
		if end > len(requests) {
			end = len(requests)
		}
		out = append(out, requests[start:end])
	}
	return out
}

// ParseMax parses the "N[:K]" limit syntax: N caps the total records to
// order, K caps the items per order. Either part may be omitted.
func ParseMax(value string) (maxRecords, maxItems int, err error) {
	if value == "" {
		return 0, 0, nil
	}
	parts := strings.SplitN(value, ":", 2)
	if parts[0] != "" {
		maxRecords, err = strconv.Atoi(parts[0])
		if err != nil || maxRecords < 0 {
			return 0, 0, fmt.Errorf("invalid maximum %q: expected N or N:K", value)
		}
	}
	if len(parts) == 2 && parts[1] != "" {
		maxItems, err = strconv.Atoi(parts[1])
		if err != nil || maxItems < 0 {
			return 0, 0, fmt.Errorf("invalid per-order maximum %q: expected N or N:K", value)
		}
	}
	return maxRecords, maxItems, nil
}
