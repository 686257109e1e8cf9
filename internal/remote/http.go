// Package remote holds the collaborators the sync coordinator moves snapshots through.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 15 * time.Second
	excerptLimit   = 4096
)

// StatusError is a non-2xx reply from a remote endpoint.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.URL, e.Status, e.Body)
}

func client(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: defaultTimeout}
}

func checkStatus(res *http.Response, url string) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, excerptLimit))
	return &StatusError{URL: url, Status: res.StatusCode, Body: strings.TrimSpace(string(body))}
}

// HTTPFetcher downloads a snapshot document.
type HTTPFetcher struct {
	URL    string
	Client *http.Client
}

func (f HTTPFetcher) Fetch(ctx context.Context) ([]byte, error) {
	if strings.TrimSpace(f.URL) == "" {
		return nil, fmt.Errorf("remote url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := client(f.Client).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", f.URL, err)
	}
	defer res.Body.Close()
	if err := checkStatus(res, f.URL); err != nil {
		return nil, err
	}
	return io.ReadAll(res.Body)
}

// HTTPWriter delivers a change script to an endpoint holding write credentials.
type HTTPWriter struct {
	URL    string
	Token  string
	Client *http.Client
}

func (w HTTPWriter) WriteScript(ctx context.Context, script string) error {
	if strings.TrimSpace(w.URL) == "" {
		return fmt.Errorf("writer url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, w.URL, bytes.NewBufferString(script))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/sql")
	if strings.TrimSpace(w.Token) != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}
	res, err := client(w.Client).Do(req)
	if err != nil {
		return fmt.Errorf("write script: %w", err)
	}
	defer res.Body.Close()
	return checkStatus(res, w.URL)
}
