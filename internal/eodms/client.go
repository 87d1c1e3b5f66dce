package eodms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go-eodms-download/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Error Types
var (
	ErrRateLimited  = errors.New("API rate limit exceeded")
	ErrUnauthorized = errors.New("API request unauthorized (check credentials)")
	ErrNotFound     = errors.New("API resource not found")
	ErrServerError  = errors.New("API server error")
)

const DefaultBaseUrl = "https://www.eodms-sgdot.nrcan-rncan.gc.ca/wes/rapi"

// fileTransferTimeout bounds a whole product download. http.Client.Timeout
// covers reading the body too, so file transfers cannot share the short API
// timeout without dying mid-stream on large products.
const fileTransferTimeout = 15 * time.Minute

// searchResponse is the envelope returned by the search endpoint.
type searchResponse struct {
	Results      []models.RawRecord `json:"results"`
	TotalResults int                `json:"totalResults"`
}

// orderResponse is the envelope returned by the order endpoints. Both the
// submission POST and the order listing GET wrap their items the same way.
type orderResponse struct {
	Items []models.RawRecord `json:"items"`
}

// orderSubmission is the body POSTed to submit an order.
type orderSubmission struct {
	Destinations []string           `json:"destinations"`
	Items        []orderItemRequest `json:"items"`
}

type orderItemRequest struct {
	CollectionID string                 `json:"collectionId"`
	RecordID     string                 `json:"recordId"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
}

// Client talks to the EODMS REST API (RAPI). All calls authenticate with
// HTTP basic auth; anonymous calls are permitted but only see public
// collections.
type Client struct {
	BaseUrl    string
	Username   string
	Password   string
	HttpClient *http.Client

	// FileClient carries product downloads. It shares HttpClient's transport
	// but runs on fileTransferTimeout instead of the API timeout.
	FileClient *http.Client

	maxRetries int
}

// NewClient creates an API client from the loaded configuration. When
// cfg.LogApiRequests is set the transport is wrapped so every request and
// response is appended to api.log.
func NewClient(cfg models.Config, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		timeout := time.Duration(cfg.ApiClientTimeoutSec) * time.Second
		httpClient = &http.Client{Timeout: timeout}
	}

	if cfg.LogApiRequests {
		transport, err := NewLoggingTransport(httpClient.Transport, "api.log")
		if err != nil {
			return nil, err
		}
		httpClient.Transport = transport
	}

	baseUrl := cfg.BaseUrl
	if baseUrl == "" {
		baseUrl = DefaultBaseUrl
	}

	retries := cfg.AttemptLimit
	if retries <= 0 {
		retries = 4
	}

	fileClient := &http.Client{
		Transport: httpClient.Transport,
		Timeout:   fileTransferTimeout,
	}

	return &Client{
		BaseUrl:    baseUrl,
		Username:   cfg.Username,
		Password:   cfg.Password,
		HttpClient: httpClient,
		FileClient: fileClient,
		maxRetries: retries,
	}, nil
}

// Close releases the logging transport, if one was installed.
func (c *Client) Close() error {
	if lt, ok := c.HttpClient.Transport.(*LoggingTransport); ok {
		return lt.Close()
	}
	return nil
}

// do performs a request with retries, mapping HTTP statuses onto the
// package's sentinel errors. Rate limits and server errors are retried with
// a growing backoff; auth and not-found failures are returned immediately.
// On success the caller owns the response body.
func (c *Client) do(ctx context.Context, method, reqURL string, body []byte) (*http.Response, error) {
	return c.doWith(ctx, c.HttpClient, method, reqURL, body)
}

func (c *Client) doWith(ctx context.Context, httpClient *http.Client, method, reqURL string, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, fmt.Errorf("error creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.Username != "" {
			req.SetBasicAuth(c.Username, c.Password)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("http request failed (attempt %d/%d): %w", attempt+1, c.maxRetries, err)
			if attempt < c.maxRetries-1 {
				log.WithError(err).Warnf("Retrying (%d/%d)...", attempt+1, c.maxRetries)
				sleepCtx(ctx, time.Duration(attempt+1)*2*time.Second)
				continue
			}
			break
		}

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusAccepted:
			return resp, nil
		case http.StatusTooManyRequests:
			lastErr = ErrRateLimited
		case http.StatusUnauthorized, http.StatusForbidden:
			resp.Body.Close()
			return nil, ErrUnauthorized
		case http.StatusNotFound:
			resp.Body.Close()
			return nil, ErrNotFound
		default:
			if resp.StatusCode >= 500 {
				lastErr = fmt.Errorf("%w (status code %d)", ErrServerError, resp.StatusCode)
			} else {
				resp.Body.Close()
				return nil, fmt.Errorf("API request failed with status %d", resp.StatusCode)
			}
		}
		resp.Body.Close()

		// Retryable error (rate limit or 5xx)
		if attempt < c.maxRetries-1 {
			var sleepDuration time.Duration
			if resp.StatusCode == http.StatusTooManyRequests {
				sleepDuration = time.Duration(attempt+1) * 5 * time.Second
				log.WithError(lastErr).Warnf("Rate limited. Retrying (%d/%d) after %s...", attempt+1, c.maxRetries, sleepDuration)
			} else {
				sleepDuration = time.Duration(attempt+1) * 3 * time.Second
				log.WithError(lastErr).Warnf("Server error. Retrying (%d/%d) after %s...", attempt+1, c.maxRetries, sleepDuration)
			}
			sleepCtx(ctx, sleepDuration)
		} else {
			log.WithError(lastErr).Errorf("Request failed after %d attempts", c.maxRetries)
		}
	}

	return nil, lastErr
}

// doJSON performs a request and unmarshals the JSON body into out.
func (c *Client) doJSON(ctx context.Context, method, reqURL string, body []byte, out interface{}) error {
	resp, err := c.do(ctx, method, reqURL, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		log.Debugf("Response body causing unmarshal error: %s", string(respBody))
		return fmt.Errorf("error unmarshalling response JSON: %w", err)
	}
	return nil
}

// Search queries a collection. The filters map is passed through as query
// parameters alongside the collection and result cap; raw result records are
// returned untyped so callers keep every metadata field the API sends.
func (c *Client) Search(ctx context.Context, collection string, filters map[string]string, maxResults int) ([]models.RawRecord, error) {
	values := url.Values{}
	values.Add("collection", collection)
	values.Add("format", "json")
	if maxResults > 0 {
		values.Add("maxResults", strconv.Itoa(maxResults))
	}
	for k, v := range filters {
		values.Add(k, v)
	}

	reqURL := fmt.Sprintf("%s/search?%s", c.BaseUrl, values.Encode())

	var response searchResponse
	if err := c.doJSON(ctx, http.MethodGet, reqURL, nil, &response); err != nil {
		return nil, err
	}
	log.Debugf("Search of %s returned %d of %d records", collection, len(response.Results), response.TotalResults)
	return response.Results, nil
}

// Order submits one batch of items for ordering and returns the order items
// the API created. A non-empty priority is attached to every item.
func (c *Client) Order(ctx context.Context, items []models.OrderRequest, priority string) ([]models.RawRecord, error) {
	submission := orderSubmission{
		Destinations: []string{},
		Items:        make([]orderItemRequest, 0, len(items)),
	}
	for _, item := range items {
		req := orderItemRequest{
			CollectionID: item.CollectionID,
			RecordID:     item.RecordID,
		}
		if priority != "" {
			req.Parameters = map[string]interface{}{"priority": priority}
		}
		submission.Items = append(submission.Items, req)
	}

	body, err := json.Marshal(submission)
	if err != nil {
		return nil, fmt.Errorf("error marshalling order submission: %w", err)
	}

	reqURL := fmt.Sprintf("%s/order", c.BaseUrl)

	var response orderResponse
	if err := c.doJSON(ctx, http.MethodPost, reqURL, body, &response); err != nil {
		return nil, err
	}
	return response.Items, nil
}

// GetOrders fetches up to maxOrders of the account's most recent order items.
func (c *Client) GetOrders(ctx context.Context, maxOrders int) ([]models.RawRecord, error) {
	values := url.Values{}
	values.Add("format", "json")
	if maxOrders > 0 {
		values.Add("maxOrders", strconv.Itoa(maxOrders))
	}

	reqURL := fmt.Sprintf("%s/order?%s", c.BaseUrl, values.Encode())

	var response orderResponse
	if err := c.doJSON(ctx, http.MethodGet, reqURL, nil, &response); err != nil {
		return nil, err
	}
	return response.Items, nil
}

// GetOrderItem fetches the live state of one order item by its item id.
// Returns ErrNotFound when the service no longer knows the item.
func (c *Client) GetOrderItem(ctx context.Context, itemID string) (models.RawRecord, error) {
	values := url.Values{}
	values.Add("format", "json")
	values.Add("itemId", itemID)

	reqURL := fmt.Sprintf("%s/order?%s", c.BaseUrl, values.Encode())

	var response orderResponse
	if err := c.doJSON(ctx, http.MethodGet, reqURL, nil, &response); err != nil {
		return nil, err
	}
	if len(response.Items) == 0 {
		return nil, fmt.Errorf("%w: no order exists with item id %s", ErrNotFound, itemID)
	}
	return response.Items[0], nil
}

// HeadFile returns the Content-Length of a delivered product without
// transferring it. Servers that omit the header yield -1.
func (c *Client) HeadFile(ctx context.Context, fileURL string) (int64, error) {
	resp, err := c.doWith(ctx, c.FileClient, http.MethodHead, fileURL, nil)
	if err != nil {
		return -1, err
	}
	defer resp.Body.Close()
	return resp.ContentLength, nil
}

// OpenFile opens a delivered product for streaming. The caller must close
// the returned reader.
func (c *Client) OpenFile(ctx context.Context, fileURL string) (io.ReadCloser, int64, error) {
	resp, err := c.doWith(ctx, c.FileClient, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, -1, err
	}
	return resp.Body, resp.ContentLength, nil
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
