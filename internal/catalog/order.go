package catalog

import (
	"strings"

	"go-eodms-download/internal/models"
)

// OrderItem tracks one record within one order. Its metadata is the raw
// order-item record flattened (the remote "parameters" map is merged in),
// optionally enriched from the originating Image.
type OrderItem struct {
	image    *Image
	metadata map[string]interface{}
	keys     []string
}

// NewOrderItem returns an OrderItem, optionally linked to its Image.
func NewOrderItem(image *Image) *OrderItem {
	return &OrderItem{image: image, metadata: make(map[string]interface{})}
}

// Set stores a metadata entry, appending the key on first sight.
func (oi *OrderItem) Set(key string, val interface{}) {
	if _, ok := oi.metadata[key]; !ok {
		oi.keys = append(oi.keys, key)
	}
	oi.metadata[key] = val
}

// Get returns a metadata entry, or nil if absent.
func (oi *OrderItem) Get(key string) interface{} {
	return oi.metadata[key]
}

// GetString returns a metadata entry rendered as a string.
func (oi *OrderItem) GetString(key string) string {
	return MetadataString(oi.metadata[key])
}

// Fields returns the metadata keys in first-seen order.
func (oi *OrderItem) Fields() []string {
	out := make([]string, len(oi.keys))
	copy(out, oi.keys)
	return out
}

// Image returns the originating Image, or nil.
func (oi *OrderItem) Image() *Image {
	return oi.image
}

// SetImage links the originating Image.
func (oi *OrderItem) SetImage(image *Image) {
	oi.image = image
}

// RecordID returns the catalog record id of the ordered image.
func (oi *OrderItem) RecordID() string {
	return oi.GetString("recordId")
}

// ItemID returns the fulfillment-unit id assigned by the ordering service.
func (oi *OrderItem) ItemID() string {
	return oi.GetString("itemId")
}

// OrderID returns the id of the order this item belongs to.
func (oi *OrderItem) OrderID() string {
	return oi.GetString("orderId")
}

// Status returns the item's current remote status.
func (oi *OrderItem) Status() string {
	return oi.GetString("status")
}

// StatusMessage returns the status detail text, if any.
func (oi *OrderItem) StatusMessage() string {
	return oi.GetString("statusMessage")
}

// Downloaded reports whether the item's files have been fetched.
func (oi *OrderItem) Downloaded() bool {
	return strings.EqualFold(oi.GetString("downloaded"), "true")
}

// SetDownloaded marks the item downloaded and records the fetched paths.
func (oi *OrderItem) SetDownloaded(paths []models.DownloadPath) {
	oi.Set("downloaded", true)
	oi.Set("downloadPaths", paths)
}

// DownloadPaths returns the recorded {url, local destination} pairs.
func (oi *OrderItem) DownloadPaths() []models.DownloadPath {
	if paths, ok := oi.metadata["downloadPaths"].([]models.DownloadPath); ok {
		return paths
	}
	return nil
}

// ParseRecord fills the item from a raw order-item record, flattening the
// "parameters" map into top-level keys. When an Image is linked, a few of
// its fields are copied so exported rows carry the record context.
func (oi *OrderItem) ParseRecord(rec models.RawRecord) {
	oi.metadata = make(map[string]interface{})
	oi.keys = nil

	for k, v := range rec {
		if k == "parameters" {
			if params, ok := v.(map[string]interface{}); ok {
				for pk, pv := range params {
					oi.Set(pk, pv)
				}
			}
			continue
		}
		oi.Set(k, v)
	}

	if oi.image != nil {
		oi.Set("imageUrl", oi.image.Get("thisRecordUrl"))
		oi.Set("imageMetadata", oi.image.Get("metadataUrl"))
		oi.Set("imageStartDate", oi.image.Date())
		if _, ok := oi.metadata["dateRapiOrdered"]; !ok {
			oi.Set("dateRapiOrdered", oi.image.Get("dateRapiOrdered"))
		}
		oi.Set("orderSubmitted", oi.image.Get("orderSubmitted"))
	}
}

// Order owns the items sharing one order id. At most one item exists per
// record id; ReplaceItem enforces this when the poller refreshes status.
type Order struct {
	OrderID string
	Items   []*OrderItem
}

// NewOrder returns an empty Order.
func NewOrder(orderID string) *Order {
	return &Order{OrderID: orderID}
}

// Count returns the number of items in the order.
func (o *Order) Count() int {
	return len(o.Items)
}

// AddItem appends an item to the order.
func (o *Order) AddItem(item *OrderItem) {
	o.Items = append(o.Items, item)
}

// Item returns the item with the given item id, or nil.
func (o *Order) Item(itemID string) *OrderItem {
	for _, item := range o.Items {
		if item.ItemID() == itemID {
			return item
		}
	}
	return nil
}

// ItemByRecordID returns the item for the given record id, or nil.
func (o *Order) ItemByRecordID(recordID string) *OrderItem {
	for _, item := range o.Items {
		if item.RecordID() == recordID {
			return item
		}
	}
	return nil
}

// ReplaceItem overwrites the existing item carrying the same record id. The
// match is by record id rather than item id: a record re-ordered under a new
// item id must still collapse onto one entry. Items with no existing match
// are left alone.
func (o *Order) ReplaceItem(in *OrderItem) {
	for idx, item := range o.Items {
		if item.RecordID() == in.RecordID() {
			o.Items[idx] = in
			return
		}
	}
}

// RecordIDs returns the record ids of every item, in order.
func (o *Order) RecordIDs() []string {
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		ids = append(ids, item.RecordID())
	}
	return ids
}

// Fields returns the union of item metadata keys with the identifying
// columns first.
func (o *Order) Fields() []string {
	out := []string{"recordId", "orderId", "itemId", "collectionId"}
	seen := map[string]bool{
		"recordId": true, "orderId": true, "itemId": true, "collectionId": true,
	}
	for _, item := range o.Items {
		for _, f := range item.Fields() {
			if !seen[f] {
				out = append(out, f)
				seen[f] = true
			}
		}
	}
	return out
}

// OrderList owns orders keyed by unique order id. When built from an
// ImageList it links each ingested item back to its originating Image and
// marks that image as submitted.
type OrderList struct {
	Orders []*Order
	images *ImageList
}

// NewOrderList returns an empty OrderList. The image list may be nil when no
// originating records are available (e.g. when resuming from an order
// checkpoint alone).
func NewOrderList(images *ImageList) *OrderList {
	return &OrderList{images: images}
}

// Ingest parses raw order items, routing each into the order matching its
// order id and creating orders on first sight.
func (ol *OrderList) Ingest(results []models.RawRecord) {
	for _, r := range results {
		ol.ingestItem(r)
	}
}

func (ol *OrderList) ingestItem(rec models.RawRecord) {
	recordID := MetadataString(rec["recordId"])

	var image *Image
	if ol.images != nil {
		image = ol.images.Get(recordID)
		if image != nil {
			image.Set("orderSubmitted", "Yes")
		}
	}

	item := NewOrderItem(image)
	item.ParseRecord(rec)

	orderID := item.OrderID()
	order := ol.Get(orderID)
	if order == nil {
		order = NewOrder(orderID)
		ol.Orders = append(ol.Orders, order)
	}
	order.AddItem(item)

	if image != nil {
		image.Set("orderId", orderID)
		image.Set("orderStatus", rec["status"])
		image.Set("statusMessage", rec["statusMessage"])
		image.Set("dateRapiOrdered", rec["dateRapiOrdered"])
	}
}

// Merge appends all orders of another list by reference, so updates through
// either list are visible in both.
func (ol *OrderList) Merge(other *OrderList) {
	ol.Orders = append(ol.Orders, other.Orders...)
}

// Get returns the order with the given order id, or nil.
func (ol *OrderList) Get(orderID string) *Order {
	for _, o := range ol.Orders {
		if o.OrderID == orderID {
			return o
		}
	}
	return nil
}

// Count returns the number of orders.
func (ol *OrderList) Count() int {
	return len(ol.Orders)
}

// CountItems returns the total number of items across all orders.
func (ol *OrderList) CountItems() int {
	count := 0
	for _, o := range ol.Orders {
		count += o.Count()
	}
	return count
}

// OrderItems returns every item across all orders, in order.
func (ol *OrderList) OrderItems() []*OrderItem {
	var out []*OrderItem
	for _, o := range ol.Orders {
		out = append(out, o.Items...)
	}
	return out
}

// OrderIDs returns the order ids in list order.
func (ol *OrderList) OrderIDs() []string {
	ids := make([]string, 0, len(ol.Orders))
	for _, o := range ol.Orders {
		ids = append(ids, o.OrderID)
	}
	return ids
}

// Remove deletes the order with the given order id, if present.
func (ol *OrderList) Remove(orderID string) {
	for idx, o := range ol.Orders {
		if o.OrderID == orderID {
			ol.Orders = append(ol.Orders[:idx], ol.Orders[idx+1:]...)
			return
		}
	}
}

// CollapseDuplicates removes redundant orders covering the same record set,
// keeping the lowest order id of each duplicate group.
func (ol *OrderList) CollapseDuplicates() {
	groups := make(map[string][]string)
	for _, o := range ol.Orders {
		key := strings.Join(o.RecordIDs(), "-")
		groups[key] = append(groups[key], o.OrderID)
	}

	for _, orderIDs := range groups {
		if len(orderIDs) < 2 {
			continue
		}
		keep := orderIDs[0]
		for _, id := range orderIDs[1:] {
			if id < keep {
				keep = id
			}
		}
		for _, id := range orderIDs {
			if id != keep {
				ol.Remove(id)
			}
		}
	}
}

// Fields returns the union of all order fields with the identifying columns
// first.
func (ol *OrderList) Fields() []string {
	var fields []string
	seen := make(map[string]bool)
	for _, o := range ol.Orders {
		for _, f := range o.Fields() {
			if !seen[f] {
				fields = append(fields, f)
				seen[f] = true
			}
		}
	}
	return fields
}

// Raw returns the metadata of every order item rendered as strings.
func (ol *OrderList) Raw() []map[string]string {
	var out []map[string]string
	for _, item := range ol.OrderItems() {
		row := make(map[string]string, len(item.keys))
		for _, k := range item.keys {
			row[k] = item.GetString(k)
		}
		out = append(out, row)
	}
	return out
}
