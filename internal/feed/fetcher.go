package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a single feed retrieval.
const DefaultTimeout = 10 * time.Second

const iconProbeTimeout = 3 * time.Second

const userAgent = "quill/1.0"

// Fetcher retrieves feeds over HTTP and hands the payload to Normalize.
type Fetcher struct {
	client     *http.Client
	timeout    time.Duration
	probeIcons bool
}

// NewFetcher creates a fetcher with the given per-fetch timeout. A timeout
// of zero means DefaultTimeout. When probeIcons is set, synthesized favicon
// URLs are validated with one extra best-effort request.
func NewFetcher(timeout time.Duration, probeIcons bool) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{
		client:     &http.Client{},
		timeout:    timeout,
		probeIcons: probeIcons,
	}
}

// Fetch retrieves url, normalizes the payload, and best-effort validates a
// guessed favicon. Failures are typed: TimeoutError when the deadline
// elapsed, ParseError for unrecognized payloads, FetchError otherwise.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Feed, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(reqCtx, err) {
			return nil, &TimeoutError{URL: url, Timeout: f.timeout}
		}
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(reqCtx, err) {
			return nil, &TimeoutError{URL: url, Timeout: f.timeout}
		}
		return nil, &FetchError{URL: url, Err: err}
	}

	feed, err := Normalize(body, url)
	if err != nil {
		return nil, err
	}

	if feed.IconGuessed && f.probeIcons {
		f.validateIcon(ctx, feed)
	}
	return feed, nil
}

// validateIcon issues one request against a guessed favicon URL and clears
// the icon if the service reports it missing. Never affects fetch outcome.
func (f *Fetcher) validateIcon(ctx context.Context, feed *Feed) {
	probeCtx, cancel := context.WithTimeout(ctx, iconProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, feed.Icon, nil)
	if err != nil {
		return
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		log.WithField("icon", feed.Icon).Debug("favicon probe failed")
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		feed.Icon = ""
		feed.IconGuessed = false
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
