package aptos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	xerrors "aptos-agent/internal/errors"
	"aptos-agent/internal/observability/metrics"
	"aptos-agent/pkg/logger"
)

const (
	// DefaultTimeout bounds every request issued by the client.
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 4096
)

// Config describes how to construct a client for one network.
type Config struct {
	Network  string
	BaseURL  string
	CoinType string
	Timeout  time.Duration
}

// Client issues read-only lookups against an Aptos fullnode REST API.
type Client struct {
	network    string
	baseURL    string
	coinType   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient validates cfg and returns a ready-to-use client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "aptos base url is empty")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "aptos base url is invalid")
	}
	coinType := strings.TrimSpace(cfg.CoinType)
	if coinType == "" {
		coinType = DefaultCoinType
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		network:    cfg.Network,
		baseURL:    baseURL,
		coinType:   coinType,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("aptos"),
	}, nil
}

// Network returns the configured network name.
func (c *Client) Network() string { return c.network }

// BaseURL returns the REST root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// AccountBalance reads the configured coin balance of address in octas.
func (c *Client) AccountBalance(ctx context.Context, address string) (Balance, error) {
	addr, err := addressSegment(address)
	if err != nil {
		return Balance{}, err
	}

	var raw json.Number
	path := "/accounts/" + addr + "/balance/" + url.PathEscape(c.coinType)
	if err := c.get(ctx, "account_balance", path, nil, &raw); err != nil {
		return Balance{}, err
	}
	octas, err := decimal.NewFromString(raw.String())
	if err != nil || !octas.IsInteger() {
		return Balance{}, xerrors.New(xerrors.CodeDecodeFailure, fmt.Sprintf("balance %q is not an integer", raw.String()))
	}
	return Balance{Address: addr, CoinType: c.coinType, Octas: octas}, nil
}

// FetchBalance returns the balance of address in APT, or zero when the lookup
// fails for any reason. Failures are logged.
func (c *Client) FetchBalance(ctx context.Context, address string) decimal.Decimal {
	balance, err := c.AccountBalance(ctx, address)
	if err != nil {
		c.logger.Warn("balance lookup failed",
			slog.String("address", address),
			slog.String("network", c.network),
			slog.Any("error", err))
		return decimal.Zero
	}
	return balance.APT()
}

// TransactionByHash fetches a committed or pending transaction.
func (c *Client) TransactionByHash(ctx context.Context, hash string) (*Transaction, error) {
	segment, err := hashSegment(hash)
	if err != nil {
		return nil, err
	}
	var tx Transaction
	if err := c.get(ctx, "transaction_by_hash", "/transactions/by_hash/"+segment, nil, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// EstimateGasPrice returns the node's current gas unit price estimates.
func (c *Client) EstimateGasPrice(ctx context.Context) (*GasEstimate, error) {
	var estimate GasEstimate
	if err := c.get(ctx, "estimate_gas_price", "/estimate_gas_price", nil, &estimate); err != nil {
		return nil, err
	}
	return &estimate, nil
}

// AccountModules lists the modules published under address, optionally at a
// historical ledger version.
func (c *Client) AccountModules(ctx context.Context, address string, ledgerVersion *uint64) ([]Module, error) {
	addr, err := addressSegment(address)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	if ledgerVersion != nil {
		query.Set("ledger_version", strconv.FormatUint(*ledgerVersion, 10))
	}
	var modules []Module
	if err := c.get(ctx, "account_modules", "/accounts/"+addr+"/modules", query, &modules); err != nil {
		return nil, err
	}
	return modules, nil
}

// AccountTransactionSummaries lists committed transaction summaries sent by
// address, starting from startVersion when given.
func (c *Client) AccountTransactionSummaries(ctx context.Context, address string, startVersion *uint64) ([]TransactionSummary, error) {
	addr, err := addressSegment(address)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	if startVersion != nil {
		query.Set("start_version", strconv.FormatUint(*startVersion, 10))
	}
	var summaries []TransactionSummary
	if err := c.get(ctx, "account_transaction_summaries", "/accounts/"+addr+"/transaction_summaries", query, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "build aptos request")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveUpstream("aptos", endpoint, "error", time.Since(start))
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return xerrors.Wrap(xerrors.CodeTimeout, err, "aptos request timed out")
		}
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "aptos request failed")
	}
	defer resp.Body.Close()
	metrics.ObserveUpstream("aptos", endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))

	c.logger.Debug("aptos lookup",
		slog.String("endpoint", endpoint),
		slog.String("network", c.network),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeDecodeFailure, err, "decode aptos response")
	}
	return nil
}

func statusError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if len(body) > 0 {
		if err := json.Unmarshal(body, apiErr); err != nil {
			apiErr.Message = strings.TrimSpace(string(body))
		}
	}

	code := xerrors.CodeUpstreamStatus
	switch resp.StatusCode {
	case http.StatusNotFound:
		code = xerrors.CodeNotFound
	case http.StatusGone:
		code = xerrors.CodeGone
	case http.StatusBadRequest:
		code = xerrors.CodeInvalidArgument
	}
	return xerrors.Wrap(code, apiErr, "aptos lookup rejected",
		xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode)))
}

func isTimeout(err error) bool {
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}
