// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lists

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	netpolicy "github.com/ManuGH/stagecache/internal/platform/net"
)

const (
	feedTimeout    = 30 * time.Second
	feedRetryDelay = 2 * time.Second
	feedRetries    = 2
	maxFeedBytes   = 4 << 20
)

// customURLProvider fetches an operator-supplied feed URL. Every URL
// passes the outbound allowlist before a request leaves the process.
// Config: "url" required.
type customURLProvider struct {
	policy netpolicy.Policy
	client *http.Client
}

func (p *customURLProvider) Kind() string { return KindCustomURL }

func (p *customURLProvider) Refresh(ctx context.Context, cfg map[string]string) ([]Item, error) {
	raw := strings.TrimSpace(cfg["url"])
	if raw == "" {
		return nil, errors.New("custom_url list needs a url")
	}
	allowed, err := netpolicy.ValidateOutboundURL(ctx, raw, p.policy)
	if err != nil {
		return nil, fmt.Errorf("feed url rejected: %w", err)
	}
	body, err := p.fetch(ctx, allowed)
	if err != nil {
		return nil, err
	}
	return parseFeed(body)
}

func (p *customURLProvider) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= feedRetries+1; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(feedRetryDelay):
			}
		}
		body, retry, err := p.fetchOnce(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (p *customURLProvider) fetchOnce(ctx context.Context, rawURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json, text/plain")
	req.Header.Set("User-Agent", "stagecache")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, true, fmt.Errorf("feed returned status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
	if err != nil {
		return nil, true, err
	}
	if len(body) > maxFeedBytes {
		return nil, false, fmt.Errorf("feed exceeds %d bytes", maxFeedBytes)
	}
	return body, false, nil
}

// parseFeed decodes a feed body. A body opening with '[' is a JSON item
// array; anything else is read line by line, one title per line with an
// optional trailing "(1999)" year, '#' comments skipped.
func parseFeed(body []byte) ([]Item, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var wire []Item
		if err := json.Unmarshal(trimmed, &wire); err != nil {
			return nil, fmt.Errorf("decode json feed: %w", err)
		}
		items := make([]Item, 0, len(wire))
		for _, it := range wire {
			if strings.TrimSpace(it.Title) == "" && len(it.ExternalIDs) == 0 {
				continue
			}
			items = append(items, it)
		}
		return items, nil
	}

	var items []Item
	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		title, year := splitTitleYear(line)
		items = append(items, Item{Title: title, Year: year})
	}
	return items, sc.Err()
}

var lineYear = regexp.MustCompile(`^(.+?)\s*[(\[](\d{4})[)\]]\s*$`)

// splitTitleYear peels a trailing "(1999)" or "[1999]" off a feed line.
func splitTitleYear(line string) (string, int) {
	m := lineYear.FindStringSubmatch(line)
	if m == nil {
		return line, 0
	}
	year, err := strconv.Atoi(m[2])
	if err != nil {
		return line, 0
	}
	return strings.TrimSpace(m[1]), year
}
