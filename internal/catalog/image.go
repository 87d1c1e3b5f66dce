// Package catalog holds the in-memory model of catalog records and the
// orders placed against them. Record and item metadata stays loosely typed
// (the API returns different fields per collection) but key insertion order
// is preserved so exported snapshots get deterministic columns.
package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go-eodms-download/internal/models"
)

// ToCamelCase converts a spaced or underscored field name to camelCase.
// Single-word names are simply lower-cased.
func ToCamelCase(in string) string {
	var words []string
	switch {
	case strings.Contains(in, " "):
		words = strings.Split(in, " ")
	case strings.Contains(in, "_"):
		words = strings.Split(in, "_")
	default:
		return strings.ToLower(in)
	}

	var sb strings.Builder
	sb.WriteString(strings.ToLower(words[0]))
	for _, w := range words[1:] {
		if w == "" {
			continue
		}
		sb.WriteString(strings.ToUpper(w[:1]))
		sb.WriteString(strings.ToLower(w[1:]))
	}
	return sb.String()
}

// MetadataString renders a metadata value for display or CSV export. JSON
// numbers that are whole render without a decimal point so record ids keep
// their catalog form.
func MetadataString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case []models.DownloadPath:
		// Path lists round-trip through exported rows as JSON.
		out, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(out)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Image is one catalog record plus whatever order and download metadata has
// been learned about it. Metadata keys keep first-seen order.
type Image struct {
	metadata map[string]interface{}
	keys     []string
	wkt      string
}

// NewImage returns an empty Image.
func NewImage() *Image {
	return &Image{metadata: make(map[string]interface{})}
}

// Set stores a metadata entry, appending the key on first sight.
func (img *Image) Set(key string, val interface{}) {
	if _, ok := img.metadata[key]; !ok {
		img.keys = append(img.keys, key)
	}
	img.metadata[key] = val
}

// Get returns a metadata entry, or nil if absent.
func (img *Image) Get(key string) interface{} {
	return img.metadata[key]
}

// GetString returns a metadata entry rendered as a string.
func (img *Image) GetString(key string) string {
	return MetadataString(img.metadata[key])
}

// Fields returns the metadata keys in first-seen order.
func (img *Image) Fields() []string {
	out := make([]string, len(img.keys))
	copy(out, img.keys)
	return out
}

// RecordID returns the record id used as the image's stable catalog key.
func (img *Image) RecordID() string {
	return img.GetString("recordId")
}

// CollectionID returns the collection the record belongs to.
func (img *Image) CollectionID() string {
	return img.GetString("collectionId")
}

// Title returns the record title.
func (img *Image) Title() string {
	return img.GetString("title")
}

// Date returns the acquisition date, trying the header variants seen across
// collections and checkpoint generations.
func (img *Image) Date() string {
	dateFields := []string{
		"Acquisition Start Date", "acquisition_start_date",
		"acquisitionStartDate", "Date", "date",
	}
	for _, f := range dateFields {
		if v, ok := img.metadata[f]; ok && v != nil {
			return MetadataString(v)
		}
	}
	return ""
}

// ParseRecord fills the image from a raw catalog record. Flattened "metadata"
// pairs get camelCased keys; the internal metadata2 block is dropped.
func (img *Image) ParseRecord(rec models.RawRecord) {
	img.metadata = make(map[string]interface{})
	img.keys = nil
	img.wkt = ""

	for k, v := range rec {
		switch k {
		case "metadata2":
			continue
		case "metadata":
			if pairs, ok := v.([]interface{}); ok {
				for _, p := range pairs {
					pair, ok := p.([]interface{})
					if !ok || len(pair) < 2 {
						continue
					}
					img.Set(ToCamelCase(MetadataString(pair[0])), pair[1])
				}
			}
		default:
			img.Set(k, v)
		}
	}
}

// ParseRow fills the image from one checkpoint row keyed by header name.
func (img *Image) ParseRow(row map[string]string, header []string) {
	img.metadata = make(map[string]interface{})
	img.keys = nil
	img.wkt = ""
	for _, k := range header {
		img.Set(k, row[k])
	}
}

// WKT returns the record footprint as well-known text, computed lazily from
// the raw geometry and cached.
func (img *Image) WKT() string {
	if img.wkt != "" {
		return img.wkt
	}
	geom, ok := img.metadata["geometry"]
	if !ok {
		return ""
	}
	img.wkt = geometryToWKT(geom)
	return img.wkt
}

// geometryToWKT converts a GeoJSON-style polygon geometry into WKT. Records
// ingested from checkpoints may carry the geometry as a JSON string.
func geometryToWKT(geom interface{}) string {
	if s, ok := geom.(string); ok {
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(strings.ReplaceAll(s, "'", `"`)), &parsed); err != nil {
			return ""
		}
		geom = parsed
	}
	gm, ok := geom.(map[string]interface{})
	if !ok {
		return ""
	}
	rings, ok := gm["coordinates"].([]interface{})
	if !ok || len(rings) == 0 {
		return ""
	}

	var ringStrs []string
	for _, r := range rings {
		points, ok := r.([]interface{})
		if !ok {
			continue
		}
		var ptStrs []string
		for _, p := range points {
			coords, ok := p.([]interface{})
			if !ok || len(coords) < 2 {
				continue
			}
			ptStrs = append(ptStrs, fmt.Sprintf("%s %s",
				MetadataString(coords[0]), MetadataString(coords[1])))
		}
		ringStrs = append(ringStrs, "("+strings.Join(ptStrs, ", ")+")")
	}
	if len(ringStrs) == 0 {
		return ""
	}
	return "POLYGON (" + strings.Join(ringStrs, ", ") + ")"
}

// ImageList owns a set of Images with unique record ids.
type ImageList struct {
	Images []*Image
}

// NewImageList returns an empty ImageList.
func NewImageList() *ImageList {
	return &ImageList{}
}

// Ingest parses raw catalog records into the list, skipping records flagged
// with remote errors and duplicate record ids. Rows from a checkpoint file
// arrive as already-flattened string maps via IngestRows instead.
func (il *ImageList) Ingest(results []models.RawRecord) {
	seen := make(map[string]bool, len(il.Images))
	for _, img := range il.Images {
		seen[img.RecordID()] = true
	}

	for _, r := range results {
		if _, hasErr := r["errors"]; hasErr {
			continue
		}
		recID := MetadataString(r["recordId"])
		if recID == "" || seen[recID] {
			continue
		}
		img := NewImage()
		img.ParseRecord(r)
		il.Images = append(il.Images, img)
		seen[recID] = true
	}
}

// IngestRows adds checkpoint rows to the list, skipping duplicate record ids.
func (il *ImageList) IngestRows(rows []map[string]string, header []string) {
	seen := make(map[string]bool, len(il.Images))
	for _, img := range il.Images {
		seen[img.RecordID()] = true
	}

	for _, row := range rows {
		recID := row["recordId"]
		if recID == "" || seen[recID] {
			continue
		}
		img := NewImage()
		img.ParseRow(row, header)
		il.Images = append(il.Images, img)
		seen[recID] = true
	}
}

// Count returns the number of images in the list.
func (il *ImageList) Count() int {
	return len(il.Images)
}

// IDs returns the record ids of every image, in list order.
func (il *ImageList) IDs() []string {
	ids := make([]string, 0, len(il.Images))
	for _, img := range il.Images {
		ids = append(ids, img.RecordID())
	}
	return ids
}

// Get returns the image with the given record id, or nil.
func (il *ImageList) Get(recordID string) *Image {
	for _, img := range il.Images {
		if img.RecordID() == recordID {
			return img
		}
	}
	return nil
}

// Remove deletes the image with the given record id, if present.
func (il *ImageList) Remove(recordID string) {
	for idx, img := range il.Images {
		if img.RecordID() == recordID {
			il.Images = append(il.Images[:idx], il.Images[idx+1:]...)
			return
		}
	}
}

// Combine appends all images of another list.
func (il *ImageList) Combine(other *ImageList) {
	il.Images = append(il.Images, other.Images...)
}

// Trim keeps the first limit images overall, or the first limit per listed
// collection when collections are given.
func (il *ImageList) Trim(limit int, collections []string) {
	if limit < 0 {
		return
	}
	if len(collections) == 0 {
		if len(il.Images) > limit {
			il.Images = il.Images[:limit]
		}
		return
	}

	var kept []*Image
	for _, c := range collections {
		count := 0
		for _, img := range il.Images {
			if img.CollectionID() != c {
				continue
			}
			if count >= limit {
				break
			}
			kept = append(kept, img)
			count++
		}
	}
	il.Images = kept
}

// OverlapFunc reports the fraction of the area of interest covered by the
// image footprint and the fraction of the footprint inside the area of
// interest, both in [0,1].
type OverlapFunc func(img *Image) (aoiFrac float64, imgFrac float64, err error)

// FilterOverlap keeps only images where either overlap fraction meets the
// minimum. The geometry math is supplied by the caller.
func (il *ImageList) FilterOverlap(minOverlap float64, overlap OverlapFunc) error {
	var kept []*Image
	for _, img := range il.Images {
		aoiFrac, imgFrac, err := overlap(img)
		if err != nil {
			return fmt.Errorf("overlap check for record %s: %w", img.RecordID(), err)
		}
		if aoiFrac >= minOverlap || imgFrac >= minOverlap {
			kept = append(kept, img)
		}
	}
	il.Images = kept
	return nil
}

// Fields returns the union of all image metadata keys in first-seen order.
func (il *ImageList) Fields() []string {
	var fields []string
	seen := make(map[string]bool)
	for _, img := range il.Images {
		for _, f := range img.Fields() {
			if !seen[f] {
				fields = append(fields, f)
				seen[f] = true
			}
		}
	}
	return fields
}

// Raw returns every image's metadata rendered as strings, in list order.
func (il *ImageList) Raw() []map[string]string {
	out := make([]map[string]string, 0, len(il.Images))
	for _, img := range il.Images {
		row := make(map[string]string, len(img.keys))
		for _, k := range img.keys {
			row[k] = img.GetString(k)
		}
		out = append(out, row)
	}
	return out
}

// ApplyDownloadResults copies order/download state from completion records
// onto the matching images. A completion record with no matching image gets
// a bare image appended so it still reaches the checkpoint.
func (il *ImageList) ApplyDownloadResults(items []models.RawRecord) {
	for _, item := range items {
		recID := MetadataString(item["recordId"])
		img := il.Get(recID)
		if img == nil {
			img = NewImage()
			img.Set("recordId", recID)
			if coll, ok := item["collectionId"]; ok {
				img.Set("collectionId", coll)
			}
			il.Images = append(il.Images, img)
		}

		itemID := item["itemId"]
		if itemID == nil {
			itemID = item["ParentItemId"]
		}
		img.Set("itemId", itemID)
		img.Set("orderId", item["orderId"])
		img.Set("dateSubmitted", item["dateSubmitted"])
		img.Set("userDisplayName", item["userDisplayName"])
		img.Set("status", item["status"])
		img.Set("orderStatus", item["orderStatus"])
		img.Set("orderMessage", item["orderMessage"])
		img.Set("downloaded", item["downloaded"])
		img.Set("downloadPaths", item["downloadPaths"])
		img.Set("priority", item["priority"])

		if params, ok := item["parameters"].(map[string]interface{}); ok {
			for k, v := range params {
				img.Set(k, v)
			}
		}
	}
}
