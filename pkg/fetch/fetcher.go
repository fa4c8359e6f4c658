package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"mime"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/campus-crawler/pkg/config"
	"github.com/Sriram-PR/campus-crawler/pkg/utils"
)

// Response is a fully read HTTP response
type Response struct {
	URL         string // Final URL after redirects
	StatusCode  int
	ContentType string // Media type without parameters, lowercased
	Body        []byte
}

// IsHTML reports whether the response declares an HTML media type, or declares none at all
func (r *Response) IsHTML() bool {
	return r.ContentType == "" || r.ContentType == "text/html" || r.ContentType == "application/xhtml+xml"
}

// HTTPFetcher is the fetch surface shared by the crawler, the storage manager and the robots loader
type HTTPFetcher interface {
	Get(ctx context.Context, rawURL string) (*Response, error)
}

// RetryPolicy controls FetchWithRetry; MaxRetries 0 means a single attempt
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Fetcher handles making HTTP requests with configured retry logic, using an underlying http.Client
type Fetcher struct {
	client       *http.Client // The configured HTTP client to use for requests
	userAgent    string
	retry        RetryPolicy
	maxBodyBytes int64
	hosts        *HostSemaphorePool // Optional; shared with other fetchers
	log          *logrus.Entry
}

var _ HTTPFetcher = (*Fetcher)(nil)

// NewFetcher creates a new Fetcher instance from the crawl configuration
func NewFetcher(client *http.Client, cfg *config.AppConfig, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client:    client,
		userAgent: cfg.UserAgent,
		retry: RetryPolicy{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: cfg.InitialRetryDelay,
			MaxDelay:     cfg.MaxRetryDelay,
		},
		maxBodyBytes: cfg.MaxBodyBytes,
		log:          log,
	}
}

// WithHostPool makes every request hold a permit for its host from pool. Returns f.
func (f *Fetcher) WithHostPool(pool *HostSemaphorePool) *Fetcher {
	f.hosts = pool
	return f
}

// Get issues a GET for rawURL and reads the whole body
// Any non-2xx status is returned as an error wrapping one of the utils HTTP sentinels
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", utils.ErrRequestCreation, rawURL, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	if f.hosts != nil {
		host := req.URL.Host
		if err := f.hosts.Acquire(ctx, host); err != nil {
			return nil, fmt.Errorf("waiting for host %s: %w", host, err)
		}
		defer f.hosts.Release(host)
	}

	resp, err := f.FetchWithRetry(ctx, req)
	if err != nil {
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return nil, err
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if f.maxBodyBytes > 0 {
		// One byte past the limit tells an oversized body from one that fits exactly
		reader = io.LimitReader(resp.Body, f.maxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", utils.ErrResponseBodyRead, rawURL, err)
	}
	if f.maxBodyBytes > 0 && int64(len(body)) > f.maxBodyBytes {
		return nil, utils.WrapErrorf(utils.ErrResponseBodyRead, "%s: body exceeds limit of %d bytes", rawURL, f.maxBodyBytes)
	}

	contentType := ""
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, perr := mime.ParseMediaType(ct); perr == nil {
			contentType = mediaType
		}
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Response{
		URL:         finalURL,
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        body,
	}, nil
}

// backoffDelay returns initial * 2^(attempt-1), capped at MaxDelay, with +/- 10% jitter
func (p RetryPolicy) backoffDelay(attempt int) time.Duration {
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || (p.MaxDelay > 0 && delay > p.MaxDelay) {
		delay = p.MaxDelay
	}
	if delay <= 0 {
		return 0
	}
	var jitter time.Duration
	if window := int64(delay) / 5; window > 0 {
		jitter = time.Duration(rand.Int63n(window)) - delay/10
	}
	if final := delay + jitter; final > 0 {
		return final
	}
	return 0
}

// FetchWithRetry performs an HTTP request associated with the provided context
// Network errors, 5xx and 429 are retried with exponential backoff up to MaxRetries times
// Other 4xx and unexpected statuses return immediately; the caller must close the returned body in that case too
func (f *Fetcher) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	reqLog := f.log.WithField("url", req.URL.String())
	maxRetries := f.retry.MaxRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", err, lastErr)
			}
			return nil, fmt.Errorf("context cancelled before first attempt: %w", err)
		}

		if attempt > 0 {
			delay := f.retry.backoffDelay(attempt)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": delay}).Warn("Retrying request...")
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
			}
		}

		resp, err := f.client.Do(req.WithContext(ctx))
		if err != nil {
			if resp != nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
			// Context errors are never retried
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				reqLog.Warnf("Context cancelled/timed out during HTTP request: %v", err)
				return nil, err
			}
			reqLog.WithField("attempt", attempt).Warnf("Network error: %v", err)
			lastErr = err
			continue
		}

		statusCode := resp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "attempt": attempt})

		switch {
		case statusCode >= 200 && statusCode < 300:
			resLog.Debug("Successfully fetched")
			return resp, nil

		case statusCode >= 500, statusCode == http.StatusTooManyRequests:
			sentinel := utils.ErrServerHTTPError
			if statusCode == http.StatusTooManyRequests {
				sentinel = utils.ErrClientHTTPError
			}
			lastErr = fmt.Errorf("%w: status %d %s", sentinel, statusCode, resp.Status)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			resLog.Warn("Retryable HTTP status")
			continue

		case statusCode >= 400:
			resLog.Debug("Client error (4xx), not retrying")
			return resp, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, resp.Status)

		default:
			resLog.Debugf("Non-retryable/unexpected status: %d", statusCode)
			return resp, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, resp.Status)
		}
	}

	reqLog.Warnf("All %d fetch attempts failed. Last error: %v", maxRetries+1, lastErr)
	if lastErr == nil {
		return nil, utils.ErrRetryFailed
	}
	return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}
