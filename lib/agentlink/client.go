// Package agentlink is a Go client for the Agentlink HTTP API. It
// signs ledger instructions with the caller's ed25519 key and exposes
// the marketplace read and write endpoints behind typed methods.
package agentlink

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentlink/agentlink/internal/ledger"
)

// Client talks to one Agentlink server. The signing key is required
// for instruction methods; the API key is required for marketplace
// writes and the self endpoints.
type Client struct {
	baseURL string
	apiKey  string
	priv    ed25519.PrivateKey
	wallet  ledger.Address
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the bearer key used for marketplace endpoints.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a client for the server at baseURL. seedHex is the
// hex-encoded 32-byte ed25519 seed, or empty for a read-only client.
func New(baseURL, seedHex string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}

	if seedHex != "" {
		seed, err := hex.DecodeString(seedHex)
		if err != nil {
			return nil, fmt.Errorf("decoding signing seed: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
		}
		c.priv = ed25519.NewKeyFromSeed(seed)
		wallet, err := ledger.SignerAddress(c.priv.Public().(ed25519.PublicKey))
		if err != nil {
			return nil, err
		}
		c.wallet = wallet
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Wallet returns the address derived from the signing key. Zero for a
// read-only client.
func (c *Client) Wallet() ledger.Address {
	return c.wallet
}

// APIError is a non-2xx response decoded from the server's error
// envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agentlink: %s (%s, http %d)", e.Message, e.Code, e.Status)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

// signedEnvelope wraps instruction params with the wallet signature.
type signedEnvelope struct {
	Params    interface{}    `json:"params"`
	Signer    ledger.Address `json:"signer"`
	Signature string         `json:"signature"`
}

func (c *Client) sign(params interface{}) (*signedEnvelope, error) {
	if c.priv == nil {
		return nil, fmt.Errorf("agentlink: client has no signing key")
	}
	sig, err := ledger.SignInstruction(c.priv, params)
	if err != nil {
		return nil, fmt.Errorf("signing instruction: %w", err)
	}
	return &signedEnvelope{
		Params:    params,
		Signer:    c.wallet,
		Signature: hex.EncodeToString(sig),
	}, nil
}
