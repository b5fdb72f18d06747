// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package plex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/stagecache/internal/cache"
	"github.com/ManuGH/stagecache/internal/log"
	"github.com/ManuGH/stagecache/internal/telemetry"
)

// Options configures the upstream client behavior.
type Options struct {
	Token        string
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	MinGap       time.Duration
	MaxPerMinute int
	TokenTTL     time.Duration
	MatchTTL     time.Duration
	UserAgent    string

	// TokenCache holds per-user access tokens; a persistent backend keeps
	// discovery quiet across restarts. MatchCache holds library match
	// results, hits and misses both.
	TokenCache cache.Cache
	MatchCache cache.Cache
}

const (
	defaultTimeout    = 30 * time.Second
	defaultRetries    = 3
	defaultRetryDelay = 2 * time.Second
	defaultMinGap     = time.Second
	defaultPerMinute  = 30
	defaultTokenTTL   = 12 * time.Hour
	defaultMatchTTL   = 6 * time.Hour
	defaultUserAgent  = "stagecache"

	maxRetryBackoff = 30 * time.Second

	tracerName = "stagecache.plex"
)

// HTTPClient talks to the media server. One value is shared process-wide;
// the mutex serializes all upstream traffic through a single queue so
// concurrent callers cannot burst past the gate.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	gate       *gate
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	tokenTTL   time.Duration
	matchTTL   time.Duration
	userAgent  string
	tokens     cache.Cache
	matches    cache.Cache
	logger     zerolog.Logger
	rnd        *rand.Rand // only touched while mu is held
	mu         sync.Mutex
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates the upstream client. Userinfo in the base URL is
// dropped; tokens travel in headers, never in the URL.
func NewHTTPClient(baseURL string, opts Options) (*HTTPClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL must be http or https, got %q", u.Scheme)
	}
	u.User = nil
	trimmed = strings.TrimRight(u.String(), "/")

	nopts := normalizeOptions(opts)
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: nopts.Timeout,
		TLSHandshakeTimeout:   5 * time.Second,
	}

	return &HTTPClient{
		baseURL:    trimmed,
		token:      nopts.Token,
		httpClient: &http.Client{Transport: transport},
		gate:       newGate(nopts.MinGap, nopts.MaxPerMinute),
		timeout:    nopts.Timeout,
		maxRetries: nopts.MaxRetries,
		retryDelay: nopts.RetryDelay,
		tokenTTL:   nopts.TokenTTL,
		matchTTL:   nopts.MatchTTL,
		userAgent:  nopts.UserAgent,
		tokens:     nopts.TokenCache,
		matches:    nopts.MatchCache,
		logger:     log.WithComponent("plex"),
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter only
	}, nil
}

func normalizeOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.MinGap <= 0 {
		opts.MinGap = defaultMinGap
	}
	if opts.MaxPerMinute <= 0 {
		opts.MaxPerMinute = defaultPerMinute
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	if opts.MatchTTL <= 0 {
		opts.MatchTTL = defaultMatchTTL
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.TokenCache == nil {
		opts.TokenCache = cache.NewMemoryCache(10 * time.Minute)
	}
	if opts.MatchCache == nil {
		opts.MatchCache = cache.NewMemoryCache(10 * time.Minute)
	}
	return opts
}

// ListUsers discovers upstream accounts. Tokens returned by discovery are
// primed into the token cache.
func (c *HTTPClient) ListUsers(ctx context.Context) ([]User, error) {
	var wire wireContainer
	if err := c.do(ctx, "accounts", "/accounts", nil, c.token, &wire); err != nil {
		return nil, err
	}
	accounts := wire.MediaContainer.Account
	users := make([]User, 0, len(accounts))
	for _, a := range accounts {
		if a.ID == "" {
			continue
		}
		u := User{ID: string(a.ID), Name: a.Name, Kind: a.kind()}
		if a.AccessToken != "" {
			u.Token = a.AccessToken
			c.tokens.Set(tokenKey(u.ID), a.AccessToken, c.tokenTTL)
		}
		users = append(users, u)
	}
	return users, nil
}

// OnDeck returns up to n continue-watching items for the user, skipping
// entries whose last view is older than maxStale. Zero disables either
// filter.
func (c *HTTPClient) OnDeck(ctx context.Context, user User, n int, maxStale time.Duration) ([]MediaRef, error) {
	token, err := c.userToken(ctx, user)
	if err != nil {
		return nil, err
	}
	var wire wireContainer
	if err := c.do(ctx, "ondeck", "/library/onDeck", nil, token, &wire); err != nil {
		return nil, c.invalidateOnAuth(err, user)
	}

	var cutoff time.Time
	if maxStale > 0 {
		cutoff = time.Now().Add(-maxStale)
	}
	refs := make([]MediaRef, 0, len(wire.MediaContainer.Metadata))
	for _, m := range wire.MediaContainer.Metadata {
		ref, ok := m.mediaRef()
		if !ok {
			continue
		}
		if !cutoff.IsZero() && !ref.LastWatchedAt.IsZero() && ref.LastWatchedAt.Before(cutoff) {
			continue
		}
		refs = append(refs, ref)
		if n > 0 && len(refs) >= n {
			break
		}
	}
	return refs, nil
}

// Watchlist returns the user's watchlist, capping episodes at perShow per
// show and skipping items available longer than maxAvail. Zero disables
// either filter.
func (c *HTTPClient) Watchlist(ctx context.Context, user User, perShow int, maxAvail time.Duration) ([]MediaRef, error) {
	token, err := c.userToken(ctx, user)
	if err != nil {
		return nil, err
	}
	var wire wireContainer
	if err := c.do(ctx, "watchlist", "/playlists/watchlist", nil, token, &wire); err != nil {
		return nil, c.invalidateOnAuth(err, user)
	}

	var cutoff time.Time
	if maxAvail > 0 {
		cutoff = time.Now().Add(-maxAvail)
	}
	perShowSeen := make(map[string]int)
	refs := make([]MediaRef, 0, len(wire.MediaContainer.Metadata))
	for _, m := range wire.MediaContainer.Metadata {
		ref, ok := m.mediaRef()
		if !ok {
			continue
		}
		if !cutoff.IsZero() && !ref.AvailableSince.IsZero() && ref.AvailableSince.Before(cutoff) {
			continue
		}
		if ref.Kind == KindEpisode && perShow > 0 {
			show := string(m.GrandparentRatingKey)
			if show == "" {
				show = ref.UpstreamID
			}
			if perShowSeen[show] >= perShow {
				continue
			}
			perShowSeen[show]++
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// ActiveSessions returns playback sessions that resolve to a file path.
func (c *HTTPClient) ActiveSessions(ctx context.Context) ([]Session, error) {
	var wire wireContainer
	if err := c.do(ctx, "sessions", "/status/sessions", nil, c.token, &wire); err != nil {
		return nil, err
	}
	sessions := make([]Session, 0, len(wire.MediaContainer.Metadata))
	for _, m := range wire.MediaContainer.Metadata {
		if s, ok := m.session(); ok {
			sessions = append(sessions, s)
		}
	}
	return sessions, nil
}

func tokenKey(userID string) string { return "token:" + userID }

// userToken resolves the per-user access token: explicit value, cached
// value, then account re-discovery. The owner rides the server token.
func (c *HTTPClient) userToken(ctx context.Context, user User) (string, error) {
	if user.Token != "" {
		return user.Token, nil
	}
	if user.Kind == KindOwner {
		return c.token, nil
	}
	if v, ok := c.tokens.Get(tokenKey(user.ID)); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, nil
		}
	}

	var wire wireContainer
	if err := c.do(ctx, "account", "/accounts/"+url.PathEscape(user.ID), nil, c.token, &wire); err != nil {
		return "", err
	}
	for _, a := range wire.MediaContainer.Account {
		if string(a.ID) == user.ID && a.AccessToken != "" {
			c.tokens.Set(tokenKey(user.ID), a.AccessToken, c.tokenTTL)
			return a.AccessToken, nil
		}
	}
	return "", upstreamErr(ErrUpstreamMalformed, "account", 0, fmt.Errorf("no access token for user %s", user.ID))
}

// invalidateOnAuth drops the cached token after an auth failure so the
// next call re-discovers credentials.
func (c *HTTPClient) invalidateOnAuth(err error, user User) error {
	if errors.Is(err, ErrUpstreamAuth) {
		c.tokens.Delete(tokenKey(user.ID))
		c.logger.Warn().
			Str("event", "plex.token.invalidated").
			Str("user_id", user.ID).
			Msg("cached token rejected, forcing re-discovery")
	}
	return err
}

// do performs one rate-gated GET with retries and decodes the JSON body
// into v. The client mutex is held for the whole call, including backoff
// sleeps: upstream traffic is a single queue.
func (c *HTTPClient) do(ctx context.Context, op, path string, params url.Values, token string, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return upstreamErr(ErrUpstreamUnavailable, op, 0, err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	rawURL := u.String()

	tracer := telemetry.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "plex.request", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	maxAttempts := c.maxRetries + 1
	var lastErr error
	var lastStatus int
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepWithContext(ctx, c.backoffFor(attempt-1)); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return upstreamErr(ErrUpstreamUnavailable, op, lastStatus, err)
			}
		}
		if err := c.gate.Wait(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return upstreamErr(ErrUpstreamUnavailable, op, lastStatus, err)
		}

		status, retry, attemptErr := c.oneAttempt(ctx, tracer, op, rawURL, path, token, attempt, v)
		if attemptErr == nil {
			span.SetAttributes(telemetry.UpstreamAttributes(op, attempt, status)...)
			span.SetStatus(codes.Ok, "")
			return nil
		}
		if !retry {
			span.SetAttributes(telemetry.UpstreamAttributes(op, attempt, status)...)
			span.RecordError(attemptErr)
			span.SetStatus(codes.Error, attemptErr.Error())
			return attemptErr
		}

		lastErr = attemptErr
		lastStatus = status
		c.logger.Warn().
			Str("event", "plex.request.retry").
			Str("op", op).
			Int("attempt", attempt).
			Int("status", status).
			Err(attemptErr).
			Msg("transient upstream failure")
	}

	wrapped := upstreamErr(ErrUpstreamUnavailable, op, lastStatus, lastErr)
	span.SetAttributes(telemetry.UpstreamAttributes(op, maxAttempts, lastStatus)...)
	span.RecordError(wrapped)
	span.SetStatus(codes.Error, wrapped.Error())
	return wrapped
}

// oneAttempt performs a single round trip and decodes into v. Terminal
// failures (auth, non-retryable 4xx, malformed body) come back already
// wrapped with retry=false; transient ones unwrapped with retry=true.
func (c *HTTPClient) oneAttempt(ctx context.Context, tracer trace.Tracer, op, rawURL, route, token string, attempt int, v any) (int, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	attemptCtx, span := tracer.Start(attemptCtx, "plex.request.attempt", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.Int("attempt", attempt),
		attribute.Bool("retry", attempt > 1),
	)

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, false, upstreamErr(ErrUpstreamUnavailable, op, 0, err)
	}
	c.applyHeaders(req, token)
	otel.GetTextMapPropagator().Inject(attemptCtx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	span.SetAttributes(telemetry.HTTPAttributes(http.MethodGet, route, route, status)...)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, true, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		span.SetStatus(codes.Error, http.StatusText(status))
		return status, false, upstreamErr(ErrUpstreamAuth, op, status, nil)
	case status >= http.StatusInternalServerError:
		span.SetStatus(codes.Error, http.StatusText(status))
		return status, true, fmt.Errorf("api returned status %d", status)
	case status >= http.StatusBadRequest:
		span.SetStatus(codes.Error, http.StatusText(status))
		return status, false, upstreamErr(ErrUpstreamUnavailable, op, status, nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return status, false, upstreamErr(ErrUpstreamMalformed, op, status, err)
	}
	span.SetStatus(codes.Ok, "")
	return status, false, nil
}

func (c *HTTPClient) applyHeaders(req *http.Request, token string) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("X-Plex-Token", token)
	}
}

// backoffFor computes the wait before retry n (1-based): the configured
// delay doubled per retry, jittered by up to a quarter either way. rnd is
// safe here because do() holds the mutex.
func (c *HTTPClient) backoffFor(retry int) time.Duration {
	wait := c.retryDelay * time.Duration(1<<(retry-1))
	if wait > maxRetryBackoff {
		wait = maxRetryBackoff
	}
	span := int64(wait / 2)
	if span <= 0 {
		return wait
	}
	jitter := time.Duration(c.rnd.Int63n(span+1)) - wait/4
	return wait + jitter
}
