// Package remote talks to the hosted backend: a PostgREST-style REST
// interface per collection plus a WebSocket change feed. The rest of the
// replica never builds requests itself; everything crosses this boundary
// as resolve.Documents in local field names.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/dukerupert/bywater/internal/resolve"
)

// ErrUnreachable marks network or service failures. Recoverable: the
// caller leaves its watermark alone and retries next cycle.
var ErrUnreachable = errors.New("remote unreachable")

// ErrSchemaNotProvisioned means the collection's table does not exist on
// the server yet, which is expected while a backend is partially deployed. Callers
// skip quietly without advancing watermarks.
var ErrSchemaNotProvisioned = errors.New("remote schema not provisioned")

// Config holds the connection settings for the hosted backend.
type Config struct {
	// BaseURL is the service root, e.g. https://hearth.example.com.
	// Empty means local-only mode; no Client should be constructed.
	BaseURL string
	// APIKey is the service JWT sent as apikey and bearer token.
	APIKey string
	// Timeout bounds each REST request. Zero means 15s.
	Timeout time.Duration
	// RequestsPerSecond throttles REST calls. Zero means 10/s.
	RequestsPerSecond float64
}

// Client is a REST client for one backend. Safe for concurrent use.
type Client struct {
	base    *url.URL
	key     string
	httpc   *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New builds a Client and logs what it can learn about the API key (role
// and expiry. Service keys are JWTs; the signature is the server's
// business, not ours).
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q missing scheme or host", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps == 0 {
		rps = 10
	}

	c := &Client{
		base:    base,
		key:     cfg.APIKey,
		httpc:   &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
		logger:  logger,
	}
	c.inspectKey()
	return c, nil
}

// inspectKey decodes the API key's claims without verifying the signature
// and logs the role and expiry, flagging keys that are already expired.
func (c *Client) inspectKey() {
	if c.key == "" {
		return
	}
	var claims jwt.MapClaims
	if _, _, err := jwt.NewParser().ParseUnverified(c.key, &claims); err != nil {
		c.logger.Debug("api key is not a JWT", "error", err)
		return
	}
	role, _ := claims["role"].(string)
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		c.logger.Info("api key", "role", role)
		return
	}
	if time.Now().After(exp.Time) {
		c.logger.Warn("api key is expired", "role", role, "expired_at", exp.Time)
		return
	}
	c.logger.Info("api key", "role", role, "expires", exp.Time)
}

func (c *Client) restURL(table string) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/rest/v1/" + table
	return u.String()
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, extra http.Header) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return resp, nil
}

// classify maps an error response body to the error taxonomy. PostgREST
// reports a missing table as 404 with code PGRST205 (or the Postgres
// undefined-table code 42P01 behind a proxy).
func classify(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	s := string(body)
	if resp.StatusCode == http.StatusNotFound ||
		strings.Contains(s, "PGRST205") || strings.Contains(s, "42P01") {
		return fmt.Errorf("%w: %s", ErrSchemaNotProvisioned, resp.Request.URL.Path)
	}
	return fmt.Errorf("%w: status %d: %s", ErrUnreachable, resp.StatusCode, strings.TrimSpace(s))
}

// PullSince returns every record in the collection whose change timestamp
// is strictly greater than since, ascending, translated to local fields.
func (c *Client) PullSince(ctx context.Context, table string, since int64) ([]resolve.Document, error) {
	u := fmt.Sprintf("%s?select=*&%s=gt.%d&order=%s.asc", c.restURL(table), wireModified, since, wireModified)
	resp, err := c.do(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp)
	}

	var wire []resolve.Document
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode pull response: %w", err)
	}
	docs := make([]resolve.Document, 0, len(wire))
	for _, w := range wire {
		docs = append(docs, FromWire(w))
	}
	return docs, nil
}

// UpsertBatch writes the documents to the collection, merging on id.
func (c *Client) UpsertBatch(ctx context.Context, table string, docs []resolve.Document) error {
	if len(docs) == 0 {
		return nil
	}
	wire := make([]resolve.Document, 0, len(docs))
	for _, d := range docs {
		wire = append(wire, ToWire(d))
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("marshal upsert batch: %w", err)
	}

	hdr := http.Header{"Prefer": []string{"resolution=merge-duplicates,return=minimal"}}
	resp, err := c.do(ctx, http.MethodPost, c.restURL(table), body, hdr)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK &&
		resp.StatusCode != http.StatusNoContent {
		return classify(resp)
	}
	return nil
}

// DeleteByIDs deletes the listed ids from the collection. Deletion is only
// ever requested through this endpoint; tombstones never overwrite remote
// rows via upsert.
func (c *Client) DeleteByIDs(ctx context.Context, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	// Ids are UUIDs in practice, but a client-assigned id with reserved
	// characters must not corrupt the filter list.
	escaped := make([]string, len(ids))
	for i, id := range ids {
		escaped[i] = url.QueryEscape(id)
	}
	u := fmt.Sprintf("%s?id=in.(%s)", c.restURL(table), strings.Join(escaped, ","))
	resp, err := c.do(ctx, http.MethodDelete, u, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return classify(resp)
	}
	return nil
}

// Health probes the service root. Any HTTP response at all counts as
// reachable; only transport failures mean offline.
func (c *Client) Health(ctx context.Context) error {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/rest/v1/"
	resp, err := c.do(ctx, http.MethodHead, u.String(), nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
