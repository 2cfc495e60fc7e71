// Package facilitator implements the external settlement interface of
// spec §6: an opaque service that accepts a signed payment authorization
// and later settles it on-chain. The core only produces the authorization
// and observes the settlement outcome; it never drives the chain transfer
// itself.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/karmacadabra/agent/internal/kerrors"
	"github.com/karmacadabra/agent/internal/payment"
)

// Receipt is the facilitator's acknowledgement of a submitted authorization.
type Receipt struct {
	TxHash string `json:"tx_hash"`
	Status string `json:"status"`
}

// Client submits signed authorizations to the facilitator and is the sole
// caller permitted to see a produced Authorization leave the process.
type Client struct {
	baseURL    string
	httpClient *http.Client
	verifier   *payment.Verifier
}

// New constructs a facilitator Client. verifier may be nil, in which case
// Submit skips the self-check and sends auth as signed.
func New(baseURL string, httpClient *http.Client, verifier *payment.Verifier) *Client {
	return &Client{baseURL: baseURL, httpClient: httpClient, verifier: verifier}
}

// Submit verifies auth against its own signature, validity window, and
// nonce history (when a verifier is configured) before posting it to the
// facilitator's settlement endpoint, so a malformed or replayed
// authorization never leaves the process. The facilitator's internal
// settlement mechanics (how it drives the on-chain transfer) are opaque to
// the core.
func (c *Client) Submit(ctx context.Context, auth *payment.Authorization) (Receipt, error) {
	if c.verifier != nil {
		if err := c.verifier.Verify(auth); err != nil {
			return Receipt{}, err
		}
	}
	body := map[string]any{
		"from":         auth.From.Hex(),
		"to":           auth.To.Hex(),
		"value":        auth.Value.String(),
		"valid_after":  auth.ValidAfter,
		"valid_before": auth.ValidBefore,
		"nonce":        auth.NonceHex(),
		"v":            auth.V,
		"r":            fmt.Sprintf("0x%x", auth.R),
		"s":            fmt.Sprintf("0x%x", auth.S),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Receipt{}, kerrors.Wrap(kerrors.KindInvariant, "marshal authorization", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/authorizations", bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, kerrors.Wrap(kerrors.KindNetwork, "build facilitator request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Receipt{}, kerrors.NetworkFailure("facilitator_submit", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Receipt{}, kerrors.NetworkFailure("facilitator_submit", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return Receipt{}, kerrors.Wrap(kerrors.KindInvariant, "decode facilitator receipt", err)
	}
	return receipt, nil
}
