package futures_usdt

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"leverage-core/pkg/errors"
	"leverage-core/pkg/exchanges/common"
)

const (
	mainnetURL = "https://fapi.binance.com"
	testnetURL = "https://testnet.binancefuture.com"
)

// Config holds Binance USDT-M futures credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	BaseURL    string // overrides the mainnet/testnet choice
	RecvWindow int64  // ms
	Timeout    time.Duration
	// RequestsPerSecond paces outgoing calls; defaults to 10.
	RequestsPerSecond float64
}

// Client talks to the Binance USDT-M futures REST API.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
	log         *zap.Logger
}

// NewClient creates a new USDT-M futures client.
func NewClient(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	base := mainnetURL
	if cfg.Testnet {
		base = testnetURL
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With(zap.String("venue", "binance_usdt_futures")),
	}
	c.timeSync = common.NewTimeSync(c.GetServerTime, c.log)
	c.rateLimiter = common.NewRateLimiter(2400, time.Minute, cfg.RequestsPerSecond, c.log)
	return c
}

// SyncTime aligns request timestamps with the server clock and keeps them aligned until ctx ends.
func (c *Client) SyncTime(ctx context.Context) {
	c.timeSync.Start(ctx)
}

// Usage returns the request weight reported by the exchange for the current minute.
func (c *Client) Usage() (used, limit int, pct float64) {
	return c.rateLimiter.Usage()
}

func (c *Client) now() int64 {
	if c.timeSync != nil && c.timeSync.Synced() {
		return c.timeSync.Now()
	}
	return time.Now().UnixMilli()
}

func (c *Client) requireKeys() error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return errors.New(errors.ErrCodeInvalidConfiguration, "binance usdt futures: API key/secret required")
	}
	return nil
}

// GetServerTime fetches futures server time in ms.
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	body, err := c.doPublic(ctx, "/fapi/v1/time", nil)
	if err != nil {
		return 0, err
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, errors.Wrap(errors.ErrCodeExchangeRequestFailed, "decode server time", err)
	}
	return res.ServerTime, nil
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doPublic(ctx, "/fapi/v1/ping", nil)
	return err
}

func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.send(req)
}

// doSigned signs params with HMAC-SHA256 and sends the request.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if err := c.requireKeys(); err != nil {
		return nil, err
	}
	params.Set("timestamp", strconv.FormatInt(c.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	params.Set("signature", sign(params.Encode(), c.cfg.APISecret))

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	var (
		req     *http.Request
		err     error
		encoded = params.Encode()
	)
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	return c.send(req)
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeExchangeUnavailable, err, "%s %s", req.Method, req.URL.Path)
	}
	defer res.Body.Close()

	c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeExchangeRequestFailed, "read body", err)
	}
	if res.StatusCode >= 300 {
		var apiErr APIError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != 0 {
			return nil, errors.Newf(errors.ErrCodeExchangeRequestFailed, "%s %s status %d: %d %s",
				req.Method, req.URL.Path, res.StatusCode, apiErr.Code, apiErr.Msg)
		}
		return nil, errors.Newf(errors.ErrCodeExchangeRequestFailed, "%s %s status %d: %s",
			req.Method, req.URL.Path, res.StatusCode, string(body))
	}
	return body, nil
}
