package antiphishing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

var ErrUnexpectedResponse = errors.New("phishing feed returned an unexpected payload")

const (
	UpdateAdd    = "add"
	UpdateDelete = "delete"
)

// Update is one entry of the recent-changes feed.
type Update struct {
	Type    string   `json:"type"`
	Domains []string `json:"domains"`
}

// Feed talks to the phishing domain service.
type Feed struct {
	baseURL  string
	identity string
	client   *http.Client
}

func NewFeed(baseURL, identity string, timeout time.Duration) *Feed {
	return &Feed{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		identity: identity,
		client:   &http.Client{Timeout: timeout},
	}
}

// All fetches the complete domain list.
func (f *Feed) All(ctx context.Context) ([]string, error) {
	var domains []string
	if err := f.get(ctx, "/all", &domains); err != nil {
		return nil, err
	}
	if domains == nil {
		return nil, ErrUnexpectedResponse
	}
	return domains, nil
}

// Recent fetches the changes of the last seconds.
func (f *Feed) Recent(ctx context.Context, seconds int) ([]Update, error) {
	var updates []Update
	if err := f.get(ctx, "/recent/"+strconv.Itoa(seconds), &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (f *Feed) Close() {
	f.client.CloseIdleConnections()
}

func (f *Feed) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if f.identity != "" {
		req.Header.Set("X-Identity", f.identity)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("phishing feed request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("phishing feed error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return nil
}
