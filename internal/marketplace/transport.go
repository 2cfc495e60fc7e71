package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/karmacadabra/agent/internal/kerrors"
)

const maxRateLimitRetries = 5

// call issues one marketplace HTTP request, enforcing the mandatory
// inter-call spacing and mapping status codes onto the failure classes of
// spec §4.3/§4.4: 409 on apply is handled by the caller, 422 is permanent,
// 429 retries capped times after sleeping the spacing interval.
func (c *Client) call(ctx context.Context, op, method, path string, query map[string]string, body any, out any) error {
	for attempt := 0; ; attempt++ {
		if err := c.spacing.Wait(ctx); err != nil {
			return kerrors.NetworkFailure(op, err)
		}

		req, err := c.buildRequest(ctx, method, path, query, body)
		if err != nil {
			return kerrors.Wrap(kerrors.KindInvariant, "build marketplace request", err)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.log.Warn("marketplace call failed", zap.String("op", op), zap.Error(err))
			return kerrors.NetworkFailure(op, err)
		}
		elapsed := time.Since(start)

		outcome, retry, handleErr := c.handleResponse(op, resp, out)
		c.log.Info("marketplace call",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", elapsed),
			zap.String("outcome", outcome),
		)

		if retry && attempt < maxRateLimitRetries {
			continue
		}
		return handleErr
	}
}

func (c *Client) buildRequest(ctx context.Context, method, path string, query map[string]string, body any) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		values := url.Values{}
		for k, v := range query {
			values.Set(k, v)
		}
		u += "?" + values.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Agent-Wallet", c.wallet)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// handleResponse classifies resp and decodes out on success. retry is true
// only for a 429 the caller should sleep-and-retry.
func (c *Client) handleResponse(op string, resp *http.Response, out any) (outcome string, retry bool, err error) {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out != nil {
			if decErr := json.NewDecoder(resp.Body).Decode(out); decErr != nil {
				return "decode_error", false, kerrors.Wrap(kerrors.KindInvariant, "decode marketplace response", decErr)
			}
		}
		return "ok", false, nil

	case resp.StatusCode == http.StatusConflict:
		return "conflict", false, kerrors.AlreadyApplied(op)

	case resp.StatusCode == http.StatusUnprocessableEntity:
		payload, _ := io.ReadAll(resp.Body)
		return "schema_invalid", false, kerrors.SchemaInvalid(op, string(payload))

	case resp.StatusCode == http.StatusTooManyRequests:
		return "rate_limited", true, kerrors.RateLimited(resp.Header.Get("Retry-After"))

	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return "unauthorized", false, kerrors.Unauthorized(op)

	default:
		payload, _ := io.ReadAll(resp.Body)
		return "error", false, kerrors.NetworkFailure(op, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, payload))
	}
}
