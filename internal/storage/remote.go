package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"mandoob/backend/internal/domain"
)

var ErrEmptyRemote = errors.New("remote returned no document")

// Remote is the spreadsheet-backed document store: one endpoint, GET returns
// the full document, POST replaces it. The endpoint may be a non-responding
// proxy, so Push treats any 2xx-or-opaque response as success and never
// inspects the body.
type Remote struct {
	url    string
	client *http.Client
}

func NewRemote(url string) *Remote {
	// No client timeout: a hung sync leaves the loading indicator active,
	// which is an accepted degraded state. Callers cancel via ctx if needed.
	return &Remote{url: url, client: &http.Client{}}
}

func (r *Remote) Fetch(ctx context.Context) (*domain.SystemDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("remote fetch: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyRemote
	}

	var doc domain.SystemDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode remote document: %w", err)
	}
	doc.Normalize()
	return &doc, nil
}

func (r *Remote) Push(ctx context.Context, doc domain.SystemDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	// Success is assumed for any completed request; drain so the connection
	// can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}
