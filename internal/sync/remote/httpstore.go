// Package remote provides the HTTP adapter for the shared record store.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/converso-app/backend/internal/models"
)

// HTTPConfig holds HTTP record store connection configuration.
type HTTPConfig struct {
	// BaseURL is the record store root, e.g. https://sync.converso.app
	BaseURL string
	// Token is the bearer token; empty disables the Authorization header.
	Token string
}

// HTTPStore implements RecordStore over a JSON HTTP API.
type HTTPStore struct {
	config     HTTPConfig
	httpClient *http.Client
}

// NewHTTPStore creates an HTTPStore. The transport carries its own timeout;
// a hung request is bounded here, not by the sync loop.
func NewHTTPStore(config HTTPConfig) *HTTPStore {
	return &HTTPStore{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// Upsert implements RecordStore.Upsert as an idempotent PUT.
func (s *HTTPStore) Upsert(ctx context.Context, record *Record) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", record.ID, err)
	}

	path := fmt.Sprintf("/v1/%ss/%s", record.EntityType, record.ID)
	req, err := s.newRequest(ctx, http.MethodPut, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-ID", record.DeviceID)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upsert request failed: %w", err)
	}
	defer resp.Body.Close()

	return checkStatus(resp)
}

// Delete implements RecordStore.Delete.
func (s *HTTPStore) Delete(ctx context.Context, entityType models.EntityType, id models.UUID, deviceID string) error {
	path := fmt.Sprintf("/v1/%ss/%s", entityType, id)
	req, err := s.newRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Device-ID", deviceID)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete request failed: %w", err)
	}
	defer resp.Body.Close()

	// Deleting an already-deleted record is a no-op, not a failure
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return checkStatus(resp)
}

// QueryChangedSince implements RecordStore.QueryChangedSince.
func (s *HTTPStore) QueryChangedSince(ctx context.Context, entityType models.EntityType, since int64, excludeDeviceID string) ([]*Record, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	q.Set("exclude_device", excludeDeviceID)
	path := fmt.Sprintf("/v1/%ss?%s", entityType, q.Encode())

	req, err := s.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var records []*Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode change feed: %w", err)
	}
	return records, nil
}

// newRequest builds a request against the configured base URL.
func (s *HTTPStore) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.config.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if s.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.Token)
	}
	return req, nil
}

// checkStatus maps non-2xx responses to classified errors.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, body)}
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}
