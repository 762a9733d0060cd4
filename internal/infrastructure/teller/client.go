// Package teller talks to the bank aggregation API. Client issues raw
// authenticated calls and classifies failures; Gateway layers the response
// cache, request deduplication and rate limiting on top.
package teller

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"bankfeed/internal/shared/apperr"
)

const (
	defaultBaseURL = "https://api.teller.io"
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 10 << 20
)

var (
	clientMeter         = otel.Meter("bankfeed/teller")
	upstreamDuration, _ = clientMeter.Float64Histogram("teller.request.duration",
		metric.WithDescription("Upstream call duration in seconds"),
		metric.WithUnit("s"),
	)
)

// ClientConfig configures the raw client. CertPath and KeyPath enable mTLS
// when both are set.
type ClientConfig struct {
	BaseURL  string
	CertPath string
	KeyPath  string
	Timeout  time.Duration
}

// Client handles communication with the aggregation API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a client from cfg.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.CertPath != "" && cfg.KeyPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		transport.TLSClientConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		baseURL: cfg.BaseURL,
	}, nil
}

// NewClientWithHTTP builds a client on an existing http.Client.
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	return &Client{httpClient: httpClient, baseURL: baseURL}
}

// errorResponse is the upstream error envelope.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GetAccounts fetches every account visible to token.
func (c *Client) GetAccounts(ctx context.Context, token string) ([]Account, error) {
	const op = "teller.GetAccounts"

	body, err := c.get(ctx, op, token, "/accounts", nil)
	if err != nil {
		return nil, err
	}

	var accounts []Account
	if err := decodeArray(body, &accounts); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedResponse, op, err)
	}
	return accounts, nil
}

// GetTransactions fetches transactions of one account within q.
func (c *Client) GetTransactions(ctx context.Context, token, accountID string, q TransactionQuery) ([]Transaction, error) {
	const op = "teller.GetTransactions"

	params := url.Values{}
	if !q.FromDate.IsZero() {
		params.Set("from_date", q.FromDate.Format(dateLayout))
	}
	if !q.ToDate.IsZero() {
		params.Set("to_date", q.ToDate.Format(dateLayout))
	}
	if q.Count > 0 {
		params.Set("count", strconv.Itoa(q.Count))
	}

	body, err := c.get(ctx, op, token, "/accounts/"+url.PathEscape(accountID)+"/transactions", params)
	if err != nil {
		return nil, err
	}

	var txs []Transaction
	if err := decodeArray(body, &txs); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedResponse, op, err)
	}
	return txs, nil
}

// GetBalance fetches the balances of one account.
func (c *Client) GetBalance(ctx context.Context, token, accountID string) (*Balance, error) {
	body, err := c.get(ctx, "teller.GetBalance", token, "/accounts/"+url.PathEscape(accountID)+"/balances", nil)
	if err != nil {
		return nil, err
	}

	balance, err := ParseBalance(body)
	if err != nil {
		return nil, err
	}
	if balance.AccountID == "" {
		balance.AccountID = accountID
	}
	return balance, nil
}

// GetAccountDetails fetches the account and routing numbers of one account.
func (c *Client) GetAccountDetails(ctx context.Context, token, accountID string) (*AccountDetails, error) {
	const op = "teller.GetAccountDetails"

	body, err := c.get(ctx, op, token, "/accounts/"+url.PathEscape(accountID)+"/details", nil)
	if err != nil {
		return nil, err
	}

	var details AccountDetails
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedResponse, op, err)
	}
	return &details, nil
}

// get issues an authenticated GET and returns the body of a 2xx response.
// Failures are classified into apperr kinds.
func (c *Client) get(ctx context.Context, op, token, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, fmt.Errorf("failed to create request: %w", err))
	}
	req.SetBasicAuth(token, "")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		recordDuration(ctx, op, 0, start)
		return nil, classifyTransportError(op, err)
	}
	defer resp.Body.Close()
	recordDuration(ctx, op, resp.StatusCode, start)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindServiceUnavailable, op, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, classifyStatus(op, resp.StatusCode, body)
}

func recordDuration(ctx context.Context, op string, status int, start time.Time) {
	upstreamDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("teller.op", op),
		attribute.Int("http.status_code", status),
	))
}

func classifyStatus(op string, status int, body []byte) error {
	msg := fmt.Sprintf("upstream returned status %d", status)
	var errResp errorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Code != "" {
		msg = fmt.Sprintf("%s: %s - %s", msg, errResp.Error.Code, errResp.Error.Message)
	}

	switch {
	case status == http.StatusUnauthorized:
		return apperr.New(apperr.KindUnauthorized, op, msg)
	case status == http.StatusForbidden:
		return apperr.New(apperr.KindForbidden, op, msg)
	case status == http.StatusNotFound || status == http.StatusGone:
		return apperr.New(apperr.KindNotFound, op, msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return apperr.New(apperr.KindServiceUnavailable, op, msg)
	default:
		return apperr.New(apperr.KindMalformedResponse, op, msg)
	}
}

func classifyTransportError(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperr.Wrap(apperr.KindServiceUnavailable, op, fmt.Errorf("request timed out: %w", err))
	}
	if errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.KindInternal, op, err)
	}
	return apperr.Wrap(apperr.KindServiceUnavailable, op, fmt.Errorf("failed to execute request: %w", err))
}

// decodeArray rejects anything but a JSON array before decoding into v.
func decodeArray(body []byte, v any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return fmt.Errorf("expected a JSON array, got %.40q", trimmed)
	}
	return json.Unmarshal(trimmed, v)
}
