package eodms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go-eodms-download/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := models.Config{
		BaseUrl:      server.URL,
		Username:     "testuser",
		Password:     "testpass",
		AttemptLimit: 1, // no retries, keeps failure tests fast
	}
	client, err := NewClient(cfg, server.Client())
	require.NoError(t, err)
	return client, server
}

func TestClientSearch(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "RCMImageProducts", r.URL.Query().Get("collection"))
		assert.Equal(t, "25", r.URL.Query().Get("maxResults"))
		assert.Equal(t, "VV", r.URL.Query().Get("polarization"))

		username, password, ok := r.BasicAuth()
		require.True(t, ok, "expected basic auth on search request")
		assert.Equal(t, "testuser", username)
		assert.Equal(t, "testpass", password)

		w.Header().Set("Content-Type", "application/json")
		resp := searchResponse{
			Results: []models.RawRecord{
				{"recordId": "123", "collectionId": "RCMImageProducts", "title": "rcm_raw_20220815"},
				{"recordId": "456", "collectionId": "RCMImageProducts", "title": "rcm_raw_20220816"},
			},
			TotalResults: 2,
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))

	results, err := client.Search(context.Background(), "RCMImageProducts", map[string]string{"polarization": "VV"}, 25)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "123", results[0]["recordId"])
	assert.Equal(t, "rcm_raw_20220816", results[1]["title"])
}

func TestClientOrder(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/order", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var submission orderSubmission
		require.NoError(t, json.NewDecoder(r.Body).Decode(&submission))
		require.Len(t, submission.Items, 2)
		assert.Equal(t, "123", submission.Items[0].RecordID)
		assert.Equal(t, "RCMImageProducts", submission.Items[0].CollectionID)
		assert.Equal(t, "Low", submission.Items[0].Parameters["priority"])

		w.Header().Set("Content-Type", "application/json")
		resp := orderResponse{
			Items: []models.RawRecord{
				{"orderId": "55001", "itemId": "90001", "recordId": "123", "status": "SUBMITTED"},
				{"orderId": "55001", "itemId": "90002", "recordId": "456", "status": "SUBMITTED"},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))

	items := []models.OrderRequest{
		{CollectionID: "RCMImageProducts", RecordID: "123"},
		{CollectionID: "RCMImageProducts", RecordID: "456"},
	}
	created, err := client.Order(context.Background(), items, "Low")
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, "55001", created[0]["orderId"])
	assert.Equal(t, "SUBMITTED", created[1]["status"])
}

func TestClientGetOrders(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/order", r.URL.Path)
		assert.Equal(t, "150", r.URL.Query().Get("maxOrders"))

		w.Header().Set("Content-Type", "application/json")
		resp := orderResponse{
			Items: []models.RawRecord{
				{"orderId": "55001", "itemId": "90001", "recordId": "123", "status": "AVAILABLE_FOR_DOWNLOAD"},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))

	orders, err := client.GetOrders(context.Background(), 150)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "AVAILABLE_FOR_DOWNLOAD", orders[0]["status"])
}

func TestClientSentinelErrors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    error
	}{
		{"Unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"Forbidden", http.StatusForbidden, ErrUnauthorized},
		{"Not found", http.StatusNotFound, ErrNotFound},
		{"Rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"Server error", http.StatusInternalServerError, ErrServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))

			_, err := client.GetOrders(context.Background(), 10)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "expected %v, got %v", tt.wantErr, err)
		})
	}
}

func TestClientHeadFile(t *testing.T) {
	client, server := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Length", "2048")
		w.WriteHeader(http.StatusOK)
	}))

	size, err := client.HeadFile(context.Background(), server.URL+"/data/product.zip")
	require.NoError(t, err)
	assert.Equal(t, int64(2048), size)
}

func TestClientOpenFileOutlivesApiTimeout(t *testing.T) {
	// The body is delivered slower than the API timeout allows. File
	// transfers run on their own client, so the stream must survive.
	chunk := []byte("chunk of product bytes\n")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		for i := 0; i < 5; i++ {
			_, err := w.Write(chunk)
			assert.NoError(t, err)
			flusher.Flush()
			time.Sleep(300 * time.Millisecond)
		}
	}))
	t.Cleanup(server.Close)

	cfg := models.Config{
		BaseUrl:             server.URL,
		AttemptLimit:        1,
		ApiClientTimeoutSec: 1,
	}
	client, err := NewClient(cfg, nil)
	require.NoError(t, err)

	body, _, err := client.OpenFile(context.Background(), server.URL+"/data/product.zip")
	require.NoError(t, err)
	defer body.Close()

	got, err := io.ReadAll(body)
	require.NoError(t, err, "download must not be cut off by the API client timeout")
	assert.Equal(t, bytes.Repeat(chunk, 5), got)
}

func TestClientOpenFile(t *testing.T) {
	payload := []byte("imagery product bytes")
	client, server := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, err := w.Write(payload)
		assert.NoError(t, err)
	}))

	body, size, err := client.OpenFile(context.Background(), server.URL+"/data/product.zip")
	require.NoError(t, err)
	defer body.Close()

	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, int64(len(payload)), size)
}
