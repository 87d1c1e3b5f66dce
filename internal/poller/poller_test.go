package poller

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go-eodms-download/internal/catalog"
	"go-eodms-download/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStatus replays one canned listing per refresh, repeating the last one
// once the script runs out.
type fakeStatus struct {
	listings  [][]models.RawRecord
	calls     int
	maxOrders []int
	err       error
}

func (f *fakeStatus) GetOrders(ctx context.Context, maxOrders int) ([]models.RawRecord, error) {
	f.maxOrders = append(f.maxOrders, maxOrders)
	if f.err != nil {
		err := f.err
		f.err = nil
		return nil, err
	}
	i := f.calls
	if i >= len(f.listings) {
		i = len(f.listings) - 1
	}
	f.calls++
	return f.listings[i], nil
}

type fakeFetcher struct {
	fetched  []string
	destDirs []string
	skip     bool
	err      error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, destDir string) (models.DownloadPath, bool, error) {
	if f.err != nil {
		return models.DownloadPath{}, false, f.err
	}
	f.fetched = append(f.fetched, url)
	f.destDirs = append(f.destDirs, destDir)
	return models.DownloadPath{URL: url, LocalDestination: destDir + "/file.zip"}, f.skip, nil
}

type fakeRecorder struct {
	entries []models.DownloadEntry
}

func (f *fakeRecorder) StoreEntry(entry models.DownloadEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func itemRecord(orderID, recordID, itemID, status string, dests ...string) models.RawRecord {
	rec := models.RawRecord{
		"orderId":      orderID,
		"recordId":     recordID,
		"itemId":       itemID,
		"collectionId": "RCMImageProducts",
		"status":       status,
	}
	if len(dests) > 0 {
		var ds []interface{}
		for _, d := range dests {
			ds = append(ds, map[string]interface{}{"url": d})
		}
		rec["destinations"] = ds
	}
	return rec
}

func testImages(recordIDs ...string) *catalog.ImageList {
	var recs []models.RawRecord
	for _, id := range recordIDs {
		recs = append(recs, models.RawRecord{
			"recordId":     id,
			"collectionId": "RCMImageProducts",
			"title":        "scene " + id,
		})
	}
	il := catalog.NewImageList()
	il.Ingest(recs)
	return il
}

func testOrders(images *catalog.ImageList, recs ...models.RawRecord) *catalog.OrderList {
	ol := catalog.NewOrderList(images)
	ol.Ingest(recs)
	return ol
}

func TestPollerDownloadsWhenAvailable(t *testing.T) {
	images := testImages("101", "102")
	orders := testOrders(images,
		itemRecord("661", "101", "911", models.StatusSubmitted),
		itemRecord("661", "102", "912", models.StatusSubmitted),
	)

	status := &fakeStatus{listings: [][]models.RawRecord{
		{
			itemRecord("661", "101", "911", models.StatusAvailable, "https://dl.example.org/101.zip"),
			itemRecord("661", "102", "912", models.StatusProcessing),
		},
		{
			itemRecord("661", "101", "911", models.StatusAvailable, "https://dl.example.org/101.zip"),
			itemRecord("661", "102", "912", models.StatusAvailable, "https://dl.example.org/102.zip"),
		},
	}}
	fetcher := &fakeFetcher{}
	recorder := &fakeRecorder{}
	checkpoints := 0

	p := &Poller{
		Service:         status,
		Fetcher:         fetcher,
		Recorder:        recorder,
		Checkpoint:      func() error { checkpoints++; return nil },
		DownloadDir:     t.TempDir(),
		MaxOrdersFetch:  100,
		RefreshInterval: time.Millisecond,
	}

	report, err := p.Run(context.Background(), orders, images)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Completed)
	assert.Equal(t, 2, report.Downloaded)
	assert.Empty(t, report.Failures)
	assert.Equal(t, []string{"https://dl.example.org/101.zip", "https://dl.example.org/102.zip"}, fetcher.fetched)
	assert.Equal(t, []int{100, 100}, status.maxOrders)

	// Files land in a per-collection subdirectory
	require.NotEmpty(t, fetcher.destDirs)
	assert.Equal(t, filepath.Join(p.DownloadDir, "rcmimageproducts"), fetcher.destDirs[0])

	// Each iteration flushes, plus the final deferred flush
	assert.GreaterOrEqual(t, checkpoints, 3)

	item := orders.Get("661").ItemByRecordID("101")
	require.NotNil(t, item)
	assert.True(t, item.Downloaded())
	require.Len(t, item.DownloadPaths(), 1)
	assert.Equal(t, "https://dl.example.org/101.zip", item.DownloadPaths()[0].URL)

	require.Len(t, recorder.entries, 2)
	assert.Equal(t, models.StatusDbDownloaded, recorder.entries[0].Status)
	assert.Equal(t, "101", recorder.entries[0].RecordID)

	img := images.Get("101")
	require.NotNil(t, img)
	assert.Equal(t, "true", img.GetString("downloaded"))
}

func TestPollerCollectsFailuresWithoutAborting(t *testing.T) {
	images := testImages("101", "102")
	orders := testOrders(images,
		itemRecord("661", "101", "911", models.StatusSubmitted),
		itemRecord("661", "102", "912", models.StatusSubmitted),
	)

	failed := itemRecord("661", "101", "911", models.StatusCancelled)
	failed["statusMessage"] = "cancelled by operator"
	status := &fakeStatus{listings: [][]models.RawRecord{
		{
			failed,
			itemRecord("661", "102", "912", models.StatusAvailable, "https://dl.example.org/102.zip"),
		},
	}}
	fetcher := &fakeFetcher{}
	recorder := &fakeRecorder{}

	p := &Poller{
		Service:         status,
		Fetcher:         fetcher,
		Recorder:        recorder,
		Checkpoint:      func() error { return nil },
		DownloadDir:     t.TempDir(),
		MaxOrdersFetch:  100,
		RefreshInterval: time.Millisecond,
	}

	report, err := p.Run(context.Background(), orders, images)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Completed)
	assert.Equal(t, 1, report.Downloaded)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "101", report.Failures[0].RecordID)
	assert.Equal(t, models.StatusCancelled, report.Failures[0].Status)
	assert.Equal(t, "cancelled by operator", report.Failures[0].Message)

	var errEntries []models.DownloadEntry
	for _, e := range recorder.entries {
		if e.Status == models.StatusDbError {
			errEntries = append(errEntries, e)
		}
	}
	require.Len(t, errEntries, 1)
	assert.Equal(t, "cancelled by operator", errEntries[0].ErrorDetails)
}

func TestPollerMaxDownloadsStopsEarly(t *testing.T) {
	images := testImages("101", "102", "103")
	orders := testOrders(images,
		itemRecord("661", "101", "911", models.StatusSubmitted),
		itemRecord("661", "102", "912", models.StatusSubmitted),
		itemRecord("661", "103", "913", models.StatusSubmitted),
	)

	status := &fakeStatus{listings: [][]models.RawRecord{
		{
			itemRecord("661", "101", "911", models.StatusAvailable, "https://dl.example.org/101.zip"),
			itemRecord("661", "102", "912", models.StatusAvailable, "https://dl.example.org/102.zip"),
			itemRecord("661", "103", "913", models.StatusAvailable, "https://dl.example.org/103.zip"),
		},
	}}
	fetcher := &fakeFetcher{}

	p := &Poller{
		Service:         status,
		Fetcher:         fetcher,
		MaxDownloads:    2,
		DownloadDir:     t.TempDir(),
		MaxOrdersFetch:  100,
		RefreshInterval: time.Millisecond,
	}

	report, err := p.Run(context.Background(), orders, images)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Completed)
	assert.Len(t, fetcher.fetched, 2)
	assert.Equal(t, 1, status.calls)
}

func TestPollerSkipGuardCountsSkips(t *testing.T) {
	images := testImages("101")
	orders := testOrders(images, itemRecord("661", "101", "911", models.StatusSubmitted))

	status := &fakeStatus{listings: [][]models.RawRecord{
		{itemRecord("661", "101", "911", models.StatusAvailable, "https://dl.example.org/101.zip")},
	}}
	fetcher := &fakeFetcher{skip: true}

	p := &Poller{
		Service:         status,
		Fetcher:         fetcher,
		DownloadDir:     t.TempDir(),
		MaxOrdersFetch:  100,
		RefreshInterval: time.Millisecond,
	}

	report, err := p.Run(context.Background(), orders, images)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, 1, report.SkippedFiles)
}

func TestPollerFetchErrorIsRecordedAsFailure(t *testing.T) {
	images := testImages("101")
	orders := testOrders(images, itemRecord("661", "101", "911", models.StatusSubmitted))

	status := &fakeStatus{listings: [][]models.RawRecord{
		{itemRecord("661", "101", "911", models.StatusAvailable, "https://dl.example.org/101.zip")},
	}}
	fetcher := &fakeFetcher{err: errors.New("connection reset")}

	p := &Poller{
		Service:         status,
		Fetcher:         fetcher,
		DownloadDir:     t.TempDir(),
		MaxOrdersFetch:  100,
		RefreshInterval: time.Millisecond,
	}

	report, err := p.Run(context.Background(), orders, images)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)
	assert.Zero(t, report.Downloaded)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Message, "connection reset")
}

func TestPollerFlushesCheckpointOnCancellation(t *testing.T) {
	images := testImages("101")
	orders := testOrders(images, itemRecord("661", "101", "911", models.StatusSubmitted))

	// Item never leaves PROCESSING, so only cancellation ends the run
	status := &fakeStatus{listings: [][]models.RawRecord{
		{itemRecord("661", "101", "911", models.StatusProcessing)},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	checkpoints := 0
	p := &Poller{
		Service: status,
		Fetcher: &fakeFetcher{},
		Checkpoint: func() error {
			checkpoints++
			if checkpoints == 2 {
				cancel()
			}
			return nil
		},
		DownloadDir:     t.TempDir(),
		MaxOrdersFetch:  100,
		RefreshInterval: time.Millisecond,
	}

	report, err := p.Run(ctx, orders, images)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, report.Completed)

	// The deferred flush must run after cancellation too
	assert.GreaterOrEqual(t, checkpoints, 3)
}

func TestPollerMaxAttemptsGivesUp(t *testing.T) {
	images := testImages("101")
	orders := testOrders(images, itemRecord("661", "101", "911", models.StatusSubmitted))

	// Item never leaves PROCESSING; an uncapped poller would loop forever
	status := &fakeStatus{listings: [][]models.RawRecord{
		{itemRecord("661", "101", "911", models.StatusProcessing)},
	}}
	checkpoints := 0

	p := &Poller{
		Service:         status,
		Fetcher:         &fakeFetcher{},
		Checkpoint:      func() error { checkpoints++; return nil },
		MaxAttempts:     3,
		DownloadDir:     t.TempDir(),
		MaxOrdersFetch:  100,
		RefreshInterval: time.Millisecond,
	}

	report, err := p.Run(context.Background(), orders, images)
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Equal(t, 3, status.calls)
	assert.Zero(t, report.Completed)

	// Giving up still leaves a resumable checkpoint behind
	assert.GreaterOrEqual(t, checkpoints, 4)
}

func TestPollerDownloadsSuccessStatus(t *testing.T) {
	images := testImages("101")
	orders := testOrders(images, itemRecord("661", "101", "911", models.StatusSubmitted))

	// Some deployments report SUCCESS once the product is staged
	status := &fakeStatus{listings: [][]models.RawRecord{
		{itemRecord("661", "101", "911", models.StatusSuccess, "https://dl.example.org/101.zip")},
	}}
	fetcher := &fakeFetcher{}

	p := &Poller{
		Service:         status,
		Fetcher:         fetcher,
		DownloadDir:     t.TempDir(),
		MaxOrdersFetch:  100,
		RefreshInterval: time.Millisecond,
	}

	report, err := p.Run(context.Background(), orders, images)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, []string{"https://dl.example.org/101.zip"}, fetcher.fetched)
}

func TestPollerRetriesAfterStatusError(t *testing.T) {
	images := testImages("101")
	orders := testOrders(images, itemRecord("661", "101", "911", models.StatusSubmitted))

	status := &fakeStatus{
		err: errors.New("gateway timeout"),
		listings: [][]models.RawRecord{
			{itemRecord("661", "101", "911", models.StatusAvailable, "https://dl.example.org/101.zip")},
		},
	}

	p := &Poller{
		Service:         status,
		Fetcher:         &fakeFetcher{},
		DownloadDir:     t.TempDir(),
		MaxOrdersFetch:  100,
		RefreshInterval: time.Millisecond,
	}

	report, err := p.Run(context.Background(), orders, images)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, 2, len(status.maxOrders))
}

func TestPollerIgnoresUnrelatedOrders(t *testing.T) {
	images := testImages("101")
	orders := testOrders(images, itemRecord("661", "101", "911", models.StatusSubmitted))

	status := &fakeStatus{listings: [][]models.RawRecord{
		{
			// Someone else's order in the same account listing
			itemRecord("999", "555", "888", models.StatusAvailable, "https://dl.example.org/other.zip"),
			itemRecord("661", "101", "911", models.StatusAvailable, "https://dl.example.org/101.zip"),
		},
	}}
	fetcher := &fakeFetcher{}

	p := &Poller{
		Service:         status,
		Fetcher:         fetcher,
		DownloadDir:     t.TempDir(),
		MaxOrdersFetch:  100,
		RefreshInterval: time.Millisecond,
	}

	report, err := p.Run(context.Background(), orders, images)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, []string{"https://dl.example.org/101.zip"}, fetcher.fetched)
}

func TestDestinationURLs(t *testing.T) {
	rec := models.RawRecord{
		"destinations": []interface{}{
			map[string]interface{}{"url": "https://dl.example.org/a.zip"},
			"https://dl.example.org/b.zip",
		},
	}
	assert.Equal(t,
		[]string{"https://dl.example.org/a.zip", "https://dl.example.org/b.zip"},
		destinationURLs(rec))

	fromCheckpoint := models.RawRecord{
		"downloadPaths": []models.DownloadPath{{URL: "https://dl.example.org/c.zip"}},
	}
	assert.Equal(t, []string{"https://dl.example.org/c.zip"}, destinationURLs(fromCheckpoint))

	assert.Empty(t, destinationURLs(models.RawRecord{"status": "SUBMITTED"}))
}
