// Package serpapi queries the SerpAPI Google engine and reduces the answer to
// a single line of text.
package serpapi

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

	xerrors "aptos-agent/internal/errors"
	"aptos-agent/internal/observability/metrics"
	"aptos-agent/pkg/logger"
)

const (
	// DefaultBaseURL is the public SerpAPI endpoint.
	DefaultBaseURL = "https://serpapi.com"
	defaultEngine  = "google"
	defaultTimeout = 10 * time.Second
)

// ErrNoResults is returned when the engine answered without organic results.
var ErrNoResults = errors.New("no organic results")

// Config describes how to reach SerpAPI.
type Config struct {
	APIKey  string
	BaseURL string
	Engine  string
	Timeout time.Duration
}

// Client performs single-result searches.
type Client struct {
	apiKey     string
	baseURL    string
	engine     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Result is the subset of the search response the agent consumes.
type Result struct {
	AnswerBox *struct {
		Answer string `json:"answer"`
	} `json:"answer_box"`
	OrganicResults []OrganicResult `json:"organic_results"`
	Error          string          `json:"error"`
}

// OrganicResult is one ranked web result.
type OrganicResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// NewClient returns a client. A missing API key yields a SEARCH_DISABLED error
// so callers can keep the tool registered and report the condition as text.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeSearchDisabled, "serpapi key is not set")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	engine := strings.TrimSpace(cfg.Engine)
	if engine == "" {
		engine = defaultEngine
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		engine:     engine,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("serpapi"),
	}, nil
}

// Search runs query and returns the decoded response.
func (c *Client) Search(ctx context.Context, query string) (*Result, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("api_key", c.apiKey)
	params.Set("engine", c.engine)
	params.Set("num", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search.json?"+params.Encode(), nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "build search request")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveUpstream("serpapi", "search", "error", time.Since(start))
		var timeout interface{ Timeout() bool }
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &timeout) && timeout.Timeout()) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, redact(err, c.apiKey), "search timed out")
		}
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, redact(err, c.apiKey), "search request failed")
	}
	defer resp.Body.Close()
	metrics.ObserveUpstream("serpapi", "search", strconv.Itoa(resp.StatusCode), time.Since(start))
	c.logger.Debug("web search", slog.Int("status", resp.StatusCode), slog.Duration("elapsed", time.Since(start)))

	var result Result
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "read search response")
	}
	decodeErr := json.Unmarshal(body, &result)

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(result.Error)
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, xerrors.New(xerrors.CodeUpstreamStatus,
			fmt.Sprintf("serpapi returned status %d: %s", resp.StatusCode, msg),
			xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode)))
	}
	if decodeErr != nil {
		return nil, xerrors.Wrap(xerrors.CodeDecodeFailure, decodeErr, "decode search response")
	}
	return &result, nil
}

// TopAnswer reduces the response to one line: the answer box first, then the
// first organic snippet, then its title. ErrNoResults signals an empty
// organic list.
func (r *Result) TopAnswer() (string, error) {
	if r.AnswerBox != nil && r.AnswerBox.Answer != "" {
		return r.AnswerBox.Answer, nil
	}
	if len(r.OrganicResults) == 0 {
		return "", ErrNoResults
	}
	first := r.OrganicResults[0]
	if first.Snippet != "" {
		return first.Snippet, nil
	}
	if first.Title != "" {
		return first.Title, nil
	}
	return "No result found.", nil
}

// redact keeps the api key out of transport errors, which embed the request URL.
func redact(err error, apiKey string) error {
	if err == nil || apiKey == "" {
		return err
	}
	msg := strings.ReplaceAll(err.Error(), url.QueryEscape(apiKey), "REDACTED")
	msg = strings.ReplaceAll(msg, apiKey, "REDACTED")
	if msg == err.Error() {
		return err
	}
	return errors.New(msg)
}
