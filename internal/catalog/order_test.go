package catalog

import (
	"testing"

	"go-eodms-download/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderListIngest(t *testing.T) {
	images := NewImageList()
	images.Ingest([]models.RawRecord{
		{"recordId": "1", "collectionId": "RCMImageProducts"},
		{"recordId": "2", "collectionId": "RCMImageProducts"},
	})

	ol := NewOrderList(images)
	ol.Ingest([]models.RawRecord{
		{
			"recordId": "1", "orderId": "55001", "itemId": "90001",
			"status": "SUBMITTED", "statusMessage": "queued",
			"parameters": map[string]interface{}{"packagingFormat": "ZIP"},
		},
		{
			"recordId": "2", "orderId": "55001", "itemId": "90002",
			"status": "SUBMITTED",
		},
	})

	// Both items landed in the same order
	assert.Equal(t, 1, ol.Count())
	assert.Equal(t, 2, ol.CountItems())

	order := ol.Get("55001")
	require.NotNil(t, order)
	assert.Equal(t, []string{"1", "2"}, order.RecordIDs())

	// Parameters are flattened onto the item
	item := order.ItemByRecordID("1")
	require.NotNil(t, item)
	assert.Equal(t, "ZIP", item.GetString("packagingFormat"))
	assert.Equal(t, "90001", item.ItemID())

	// Originating images got marked as submitted with order state copied back
	img := images.Get("1")
	assert.Equal(t, "Yes", img.GetString("orderSubmitted"))
	assert.Equal(t, "55001", img.GetString("orderId"))
	assert.Equal(t, "SUBMITTED", img.GetString("orderStatus"))
	assert.Equal(t, "queued", img.GetString("statusMessage"))
}

func TestOrderListIngestSeparateOrders(t *testing.T) {
	ol := NewOrderList(nil)
	ol.Ingest([]models.RawRecord{
		{"recordId": "1", "orderId": "55001", "itemId": "90001", "status": "SUBMITTED"},
		{"recordId": "2", "orderId": "55002", "itemId": "90002", "status": "PROCESSING"},
		{"recordId": "3", "orderId": "55001", "itemId": "90003", "status": "SUBMITTED"},
	})

	// Never two Orders for the same order id
	assert.Equal(t, 2, ol.Count())
	assert.Equal(t, 3, ol.CountItems())
	assert.Equal(t, []string{"55001", "55002"}, ol.OrderIDs())
	assert.Equal(t, 2, ol.Get("55001").Count())
}

func TestOrderReplaceItem(t *testing.T) {
	order := NewOrder("55001")

	first := NewOrderItem(nil)
	first.ParseRecord(models.RawRecord{
		"recordId": "1", "orderId": "55001", "itemId": "90001", "status": "SUBMITTED",
	})
	order.AddItem(first)

	// Same record re-ordered under a new item id replaces in place
	refreshed := NewOrderItem(nil)
	refreshed.ParseRecord(models.RawRecord{
		"recordId": "1", "orderId": "55001", "itemId": "90055",
		"status": "AVAILABLE_FOR_DOWNLOAD",
	})
	order.ReplaceItem(refreshed)

	assert.Equal(t, 1, order.Count())
	item := order.ItemByRecordID("1")
	require.NotNil(t, item)
	assert.Equal(t, "90055", item.ItemID())
	assert.Equal(t, "AVAILABLE_FOR_DOWNLOAD", item.Status())

	// Unknown record id leaves the order untouched
	other := NewOrderItem(nil)
	other.ParseRecord(models.RawRecord{"recordId": "7", "orderId": "55001", "itemId": "90077"})
	order.ReplaceItem(other)
	assert.Equal(t, 1, order.Count())
	assert.Nil(t, order.ItemByRecordID("7"))
}

func TestOrderListMerge(t *testing.T) {
	existing := NewOrderList(nil)
	existing.Ingest([]models.RawRecord{
		{"recordId": "1", "orderId": "55001", "itemId": "90001", "status": "PROCESSING"},
	})

	submitted := NewOrderList(nil)
	submitted.Ingest([]models.RawRecord{
		{"recordId": "2", "orderId": "55002", "itemId": "90002", "status": "SUBMITTED"},
		{"recordId": "3", "orderId": "55002", "itemId": "90003", "status": "SUBMITTED"},
	})

	existing.Merge(submitted)
	assert.Equal(t, 2, existing.Count())
	assert.Equal(t, 3, existing.CountItems())

	// Merge is by reference: mutations through one list show in the other
	item := NewOrderItem(nil)
	item.ParseRecord(models.RawRecord{
		"recordId": "2", "orderId": "55002", "itemId": "90002",
		"status": "AVAILABLE_FOR_DOWNLOAD",
	})
	submitted.Get("55002").ReplaceItem(item)
	assert.Equal(t, "AVAILABLE_FOR_DOWNLOAD",
		existing.Get("55002").ItemByRecordID("2").Status())
}

func TestOrderFields(t *testing.T) {
	order := NewOrder("55001")
	item := NewOrderItem(nil)
	item.ParseRecord(models.RawRecord{
		"recordId": "1", "orderId": "55001", "itemId": "90001",
		"collectionId": "RCMImageProducts", "status": "SUBMITTED",
		"dateRapiOrdered": "2022-08-15",
	})
	order.AddItem(item)

	fields := order.Fields()
	// Identifying columns lead, remaining fields follow
	assert.Equal(t, []string{"recordId", "orderId", "itemId", "collectionId"}, fields[:4])
	assert.Contains(t, fields, "status")
	assert.Contains(t, fields, "dateRapiOrdered")
}

func TestOrderListCollapseDuplicates(t *testing.T) {
	ol := NewOrderList(nil)
	ol.Ingest([]models.RawRecord{
		{"recordId": "1", "orderId": "55003", "itemId": "90001"},
		{"recordId": "1", "orderId": "55001", "itemId": "90011"},
		{"recordId": "2", "orderId": "55002", "itemId": "90002"},
	})

	ol.CollapseDuplicates()

	// Orders 55001 and 55003 cover the same record set; the lowest id wins
	assert.Equal(t, 2, ol.Count())
	assert.Nil(t, ol.Get("55003"))
	assert.NotNil(t, ol.Get("55001"))
	assert.NotNil(t, ol.Get("55002"))
}

func TestOrderItemDownloadState(t *testing.T) {
	item := NewOrderItem(nil)
	item.ParseRecord(models.RawRecord{
		"recordId": "1", "orderId": "55001", "itemId": "90001",
		"status": "AVAILABLE_FOR_DOWNLOAD",
	})

	assert.False(t, item.Downloaded())
	assert.Nil(t, item.DownloadPaths())

	paths := []models.DownloadPath{
		{URL: "https://example.com/p.zip", LocalDestination: "/data/p.zip"},
	}
	item.SetDownloaded(paths)
	assert.True(t, item.Downloaded())
	assert.Equal(t, paths, item.DownloadPaths())
}
