// Package api is the client side of the ingest server's HTTP API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DatasetsPath is the bulk upload endpoint of the ingest server.
const DatasetsPath = "/api/v1/datasets"

// UploadMetadata describes the run that produced an uploaded dataset.
type UploadMetadata struct {
	RunID   string
	Mode    string
	Seed    uint64
	Records int
}

// UploadResult is the server's answer to an upload.
type UploadResult struct {
	Stored     int   `json:"stored"`
	TotalCount int64 `json:"total_count"`
}

// Client talks to an ingest server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck checks if the ingest server is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// Upload streams a dataset file (plain or gzipped JSON) to the ingest server.
func (c *Client) Upload(ctx context.Context, filePath string, meta UploadMetadata) (UploadResult, error) {
	var result UploadResult

	file, err := os.Open(filePath)
	if err != nil {
		return result, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	errCh := make(chan error, 1)
	go func() {
		defer pw.Close()
		defer writer.Close()

		_ = writer.WriteField("secret", c.apiKey)
		_ = writer.WriteField("filename", filepath.Base(filePath))
		_ = writer.WriteField("runId", meta.RunID)
		_ = writer.WriteField("mode", meta.Mode)
		_ = writer.WriteField("seed", strconv.FormatUint(meta.Seed, 10))
		_ = writer.WriteField("records", strconv.Itoa(meta.Records))

		part, err := writer.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			pw.CloseWithError(err)
			errCh <- fmt.Errorf("failed to create form file: %w", err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			errCh <- fmt.Errorf("failed to copy file: %w", err)
			return
		}
		errCh <- nil
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+DatasetsPath, pr)
	if err != nil {
		pr.Close()
		return result, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		<-errCh
		return result, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	// unblock the writer if the server answered without reading the whole body
	pr.CloseWithError(io.ErrClosedPipe)
	if writeErr := <-errCh; writeErr != nil && resp.StatusCode == http.StatusOK {
		return result, writeErr
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return result, fmt.Errorf("upload returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("decode upload result: %w", err)
	}
	return result, nil
}
