package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/vincentbai/focustrace/internal/models"
)

// Client is what a platform adapter uses to feed a running ingest server.
// It speaks cleartext HTTP/2 so one connection carries every request.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the ingest server at address.
func NewClient(address string) *Client {
	transport := &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, address string, _ *tls.Config) (net.Conn, error) {
			var dialer net.Dialer
			return dialer.DialContext(ctx, network, address)
		},
	}
	return &Client{
		base: "http://" + address,
		http: &http.Client{Transport: transport, Timeout: 5 * time.Second},
	}
}

// Confirm posts hardware presses in one batch.
func (c *Client) Confirm(ctx context.Context, presses ...models.HardwarePress) error {
	return c.post(ctx, "/v1/hardware", models.Batch{Presses: presses})
}

// PushFocus reports the element that currently holds focus.
func (c *Client) PushFocus(ctx context.Context, id string) error {
	return c.post(ctx, "/v1/focus", models.FocusUpdate{ID: id})
}

// Report fetches the live report of the current run.
func (c *Client) Report(ctx context.Context) (models.Report, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/report", nil)
	if err != nil {
		return models.Report{}, err
	}
	response, err := c.http.Do(request)
	if err != nil {
		return models.Report{}, fmt.Errorf("failed to fetch report: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return models.Report{}, statusError(response)
	}
	var report models.Report
	if err := json.NewDecoder(response.Body).Decode(&report); err != nil {
		return models.Report{}, fmt.Errorf("failed to decode report: %w", err)
	}
	return report, nil
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	response, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("failed to post %s: %w", path, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusNoContent {
		return statusError(response)
	}
	return nil
}

func statusError(response *http.Response) error {
	message, _ := io.ReadAll(io.LimitReader(response.Body, 512))
	return fmt.Errorf("ingest server returned %s: %s", response.Status, bytes.TrimSpace(message))
}

// CloseIdleConnections releases the client's connection.
func (c *Client) CloseIdleConnections() { c.http.CloseIdleConnections() }
