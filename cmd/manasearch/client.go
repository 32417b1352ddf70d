package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/manasearch/internal/models"
	"github.com/hyperjump/manasearch/internal/server"
)

// apiClient talks to a running manasearch server, which avoids opening the SQLite and
// Bleve files the server holds.
type apiClient struct {
	baseURL string
	token   string
	userID  int64
	http    *http.Client
}

func newAPIClient(baseURL, token string, userID int64) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		userID:  userID,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Search posts the query to /api/v1/search. Unset k and metric are filled in by the server.
func (c *apiClient) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	var resp models.SearchResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/search", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status fetches /api/v1/status.
func (c *apiClient) Status(ctx context.Context) (map[string]interface{}, error) {
	var status map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &status); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.userID != 0 {
		req.Header.Set(server.UserIDHeader, strconv.FormatInt(c.userID, 10))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
