package fetch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/reqagent/ingest-cli/internal/resilience"
)

// Fetch retrieves a URL and returns its bytes with the declared content
// type, or a typed *Error. The security gate runs before any network call;
// retryable failures (timeout, transport error, 429, 5xx) are retried per
// the domain's profile; terminal failures return immediately.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	start := time.Now()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{Kind: KindValidation, URL: rawURL, Detail: "unparseable url", Err: err}
	}
	if err := validateURL(u, f.opts.AllowPrivate); err != nil {
		return nil, &Error{Kind: KindValidation, URL: rawURL, Detail: err.Error()}
	}

	domain := normalizeDomain(u)
	prof := f.registry.Resolve(domain)
	limiter := f.limiterFor(domain, prof)

	policy := prof.RetryPolicy()
	policy.OnRetry = resilience.RetryLogger("fetch", domain)

	attempts := 0
	res, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (*Result, error) {
		// The limiter wait runs inside the retry loop so backed-off
		// attempts still respect the domain's pacing.
		if err := limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}
		attempts++
		return f.attempt(ctx, rawURL, prof.RandomUserAgent())
	})
	if err != nil {
		return nil, f.classify(rawURL, err)
	}

	res.Attempts = attempts
	res.Elapsed = time.Since(start)

	zap.L().Debug("fetched",
		zap.String("url", rawURL),
		zap.Int("attempts", attempts),
		zap.Int("bytes", len(res.Body)),
		zap.String("content_type", res.ContentType),
	)
	return res, nil
}

// attempt performs one HTTP GET. Errors are wrapped as transient where the
// retry policy should take another pass.
func (f *Fetcher) attempt(ctx context.Context, rawURL, userAgent string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, resilience.NewValidationError(err.Error())
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/pdf, text/html;q=0.9, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		// Redirect-gate violations surface as url.Error wrapping our
		// validation message; those are terminal.
		var uerr *url.Error
		if errors.As(err, &uerr) && !uerr.Timeout() && ctx.Err() == nil {
			if !isNetworkErr(uerr.Err) {
				return nil, resilience.NewValidationError(uerr.Error())
			}
		}
		return nil, resilience.NewTransientError(err, 0)
	}
	defer func() { _ = resp.Body.Close() }()

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(
			eris.Errorf("http %d from %s", resp.StatusCode, rawURL), resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("http %d from %s", resp.StatusCode, rawURL)
	}

	limited := io.LimitReader(resp.Body, f.opts.MaxResponseBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "read body"), 0)
	}
	if int64(len(body)) > f.opts.MaxResponseBytes {
		return nil, resilience.NewValidationError(
			eris.Errorf("response exceeds %d byte cap", f.opts.MaxResponseBytes).Error())
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Result{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    finalURL,
	}, nil
}

func isNetworkErr(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded)
}

// classify maps an exhausted or terminal error to the public Error kinds.
func (f *Fetcher) classify(rawURL string, err error) *Error {
	switch {
	case resilience.IsValidation(err):
		return &Error{Kind: KindValidation, URL: rawURL, Detail: "rejected before or during transfer", Err: err}
	case isTimeout(err):
		return &Error{Kind: KindTimeout, URL: rawURL, Detail: "timed out after retries", Err: err}
	case resilience.IsTransient(err):
		return &Error{Kind: KindNetwork, URL: rawURL, Detail: "retries exhausted", Err: err}
	default:
		return &Error{Kind: KindRejected, URL: rawURL, Detail: "remote refused request", Err: err}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
