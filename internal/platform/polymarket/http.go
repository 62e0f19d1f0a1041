package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/cenkalti/backoff/v5"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRetries   = 3
	defaultRetryInitial = 500 * time.Millisecond
)

// ClientOptions tunes the shared REST behaviour of the Gamma and Data API
// clients. Zero values fall back to defaults.
type ClientOptions struct {
	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration
	// MaxRetries is the total number of attempts per request.
	MaxRetries int
	// RetryInitial is the first backoff interval.
	RetryInitial time.Duration
	// Limiter, when set, is waited on before every attempt.
	Limiter domain.RateLimiter
	Logger  *slog.Logger
}

// restClient executes GET requests with rate limiting and retry.
type restClient struct {
	baseURL      string
	httpClient   *http.Client
	limiter      domain.RateLimiter
	limiterKey   string
	maxTries     uint
	retryInitial time.Duration
	logger       *slog.Logger
}

func newRESTClient(baseURL string, opts ClientOptions) *restClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	tries := opts.MaxRetries
	if tries <= 0 {
		tries = defaultMaxRetries
	}
	initial := opts.RetryInitial
	if initial <= 0 {
		initial = defaultRetryInitial
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	key := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		key = u.Host
	}
	return &restClient{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: timeout},
		limiter:      opts.Limiter,
		limiterKey:   key,
		maxTries:     uint(tries),
		retryInitial: initial,
		logger:       logger,
	}
}

// doGet sends an unauthenticated GET request and returns the body of the
// first 2xx response. Transport errors, 429 and 5xx are retried with
// exponential backoff; every other status fails immediately.
func (r *restClient) doGet(ctx context.Context, path string, params url.Values) ([]byte, error) {
	target := r.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	op := func() ([]byte, error) {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx, r.limiterKey); err != nil {
				if ctx.Err() != nil {
					return nil, backoff.Permanent(ctx.Err())
				}
				// Fail open when the limiter backend is down.
				r.logger.WarnContext(ctx, "polymarket: rate limiter unavailable, sending unthrottled",
					slog.String("key", r.limiterKey),
					slog.String("error", err.Error()),
				)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := r.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
			if retryableStatus(resp.StatusCode) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return body, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retryInitial
	policy.MaxInterval = r.retryInitial * 10

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(r.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.logger.DebugContext(ctx, "retrying request",
				slog.String("path", path),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()),
			)
		}),
	)
}

// getJSON is doGet followed by decoding the body into out. Decode failures
// wrap domain.ErrParse.
func (r *restClient) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	body, err := r.doGet(ctx, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrParse, path, err)
	}
	return nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	if len(bodyStr) > 512 {
		bodyStr = bodyStr[:512]
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

// listAll walks an offset-paginated endpoint until a short or empty page,
// maxItems results, or maxPages pages. maxItems <= 0 means no item cap.
func listAll[T any](ctx context.Context, pageSize, maxItems, maxPages int, fetch func(ctx context.Context, limit, offset int) ([]T, error)) ([]T, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("list: page size must be positive")
	}
	var out []T
	offset := 0
	for page := 0; maxPages <= 0 || page < maxPages; page++ {
		limit := pageSize
		if maxItems > 0 && maxItems-len(out) < limit {
			limit = maxItems - len(out)
		}
		items, err := fetch(ctx, limit, offset)
		if err != nil {
			return out, err
		}
		out = append(out, items...)
		if len(items) < limit || (maxItems > 0 && len(out) >= maxItems) {
			break
		}
		offset += len(items)
	}
	return out, nil
}
