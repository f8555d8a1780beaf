// Package client talks to the exchange's matching service over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/uhyunpark/dexsync/pkg/market"
	"github.com/uhyunpark/dexsync/pkg/order"
	"github.com/uhyunpark/dexsync/pkg/util"
)

// PairsPath is the pairs resource. Pair owners prove themselves by signing {"path": PairsPath}.
const PairsPath = "/pairs"

// ErrTransport marks every failure to reach the service or a non-2xx answer.
var ErrTransport = errors.New("transport error")

// TransportError carries the HTTP status and body of a failed call. Status is
// zero when no response was received.
type TransportError struct {
	Method string
	URL    string
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

func (e *TransportError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrTransport, e.Err}
	}
	return []error{ErrTransport}
}

type Options struct {
	Timeout    time.Duration
	RatePerSec float64
	Logger     *zap.SugaredLogger
	HTTPClient *http.Client
}

// Client implements the exchange API. Calls are paced by a token bucket.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid api url %q: missing scheme or host", baseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		base:    u,
		http:    hc,
		limiter: rate.NewLimiter(limit, 1),
		logger:  util.OrNop(opts.Logger),
	}, nil
}

// EncodeOwner is the pairs credential of a plain wallet: its address, base64.
func EncodeOwner(address string) string {
	return base64.StdEncoding.EncodeToString([]byte(address))
}

// FetchPairs lists tradable pairs. auth is either EncodeOwner(address) or a
// base64 pair-owner signature.
func (c *Client) FetchPairs(ctx context.Context, auth string) ([]market.RawPair, error) {
	var resp struct {
		Data struct {
			Results []market.RawPair `json:"results"`
		} `json:"data"`
	}
	h := http.Header{}
	if auth != "" {
		h.Set("Authorization", auth)
	}
	if err := c.do(ctx, http.MethodGet, PairsPath, nil, h, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data.Results, nil
}

func (c *Client) FetchPrice(ctx context.Context, base, quote string) (market.RawPairPrice, error) {
	var resp struct {
		Data market.RawPairPrice `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, pairPath(base, quote, "price"), nil, nil, nil, &resp)
	return resp.Data, err
}

func (c *Client) FetchOrderbook(ctx context.Context, base, quote string) (market.Orderbook, error) {
	var resp struct {
		Data market.Orderbook `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, pairPath(base, quote, "orderbook"), nil, nil, nil, &resp)
	return resp.Data, err
}

func (c *Client) FetchTrades(ctx context.Context, q market.TradesQuery) (market.TradesResult, error) {
	v := url.Values{}
	if !q.From.IsZero() {
		v.Set("from", q.From.UTC().Format(time.RFC3339Nano))
	} else {
		v.Set("from", time.Unix(0, 0).UTC().Format(time.RFC3339Nano))
	}
	v.Set("to", q.To.UTC().Format(time.RFC3339Nano))
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Initial {
		v.Set("initial", "true")
	}
	var resp market.TradesResult
	err := c.do(ctx, http.MethodGet, pairPath(q.Base, q.Quote, "trades"), v, nil, nil, &resp)
	return resp, err
}

func (c *Client) FetchOrderList(ctx context.Context, tradingWallet string) ([]order.Record, error) {
	var rows []order.Record
	v := url.Values{"tradingWallet": {tradingWallet}}
	if err := c.do(ctx, http.MethodGet, "/orders", v, nil, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// CreateOrder submits a signed order and returns the id assigned by the service.
func (c *Client) CreateOrder(ctx context.Context, o *order.SignedOrder) (string, error) {
	var resp struct {
		Result struct {
			ID string `json:"id"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/orders", nil, nil, o, &resp); err != nil {
		return "", err
	}
	if resp.Result.ID == "" {
		return "", fmt.Errorf("create order: empty id in response")
	}
	return resp.Result.ID, nil
}

func (c *Client) CancelOrder(ctx context.Context, req *order.CancelRequest) error {
	return c.do(ctx, http.MethodPost, "/orders/cancel", nil, nil, req, nil)
}

func (c *Client) FetchBundles(ctx context.Context) ([]market.Bundle, error) {
	var resp struct {
		Data struct {
			Results []market.Bundle `json:"results"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/bundles", nil, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data.Results, nil
}

func (c *Client) FetchQuickPurchaseAddress(ctx context.Context) (string, error) {
	var resp struct {
		Data struct {
			Address string `json:"address"`
		} `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, "/bundles/address", nil, nil, nil, &resp)
	return resp.Data.Address, err
}

func pairPath(base, quote, resource string) string {
	return PairsPath + "/" + url.PathEscape(base) + "/" + url.PathEscape(quote) + "/" + resource
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, header http.Header, in, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	urlStr := u.String()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return &TransportError{Method: method, URL: urlStr, Err: err}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.logger.Warnw("api_request_failed", "method", method, "url", urlStr, "err", err)
		}
		return &TransportError{Method: method, URL: urlStr, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Method: method, URL: urlStr, Status: resp.StatusCode, Err: err}
	}
	c.logger.Debugw("api_request", "method", method, "url", urlStr,
		"status", resp.StatusCode, "latency", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{Method: method, URL: urlStr, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
