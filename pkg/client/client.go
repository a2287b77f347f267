// Package client provides a Go client for the Contraverify API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a Contraverify API client
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// New creates a new Contraverify client. Verification compiles on the server, so
// the default timeout is generous.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// VerifyRequest is the request for verifying a deployed contract
type VerifyRequest struct {
	ChainID            uint64          `json:"chainId"`
	Address            string          `json:"address"`
	CreationTxHash     string          `json:"creationTransactionHash,omitempty"`
	Language           string          `json:"language,omitempty"`
	CompilerVersion    string          `json:"compilerVersion"`
	ContractIdentifier string          `json:"contractIdentifier"`
	StdJSONInput       json.RawMessage `json:"stdJsonInput"`
}

// VerifyResponse is the result of a successful verification
type VerifyResponse struct {
	ID           string       `json:"id"`
	Stored       bool         `json:"stored"`
	Verification Verification `json:"verification"`
}

// Verification is the part of a verification export most callers need.
type Verification struct {
	Address     string      `json:"address"`
	ChainID     uint64      `json:"chainId"`
	Status      MatchStatus `json:"status"`
	Compilation struct {
		Language           string `json:"language"`
		CompilerVersion    string `json:"compilerVersion"`
		FullyQualifiedName string `json:"fullyQualifiedName"`
	} `json:"compilation"`
	CreationError string `json:"creationError,omitempty"`
}

// MatchStatus holds "perfect", "partial" or "none" per kind; nil when not attempted.
type MatchStatus struct {
	RuntimeMatch  *string `json:"runtimeMatch"`
	CreationMatch *string `json:"creationMatch"`
}

// VerifiedContract is a stored verification
type VerifiedContract struct {
	ID                 string          `json:"id"`
	ChainID            uint64          `json:"chainId"`
	Address            string          `json:"address"`
	Language           string          `json:"language"`
	CompilerVersion    string          `json:"compilerVersion"`
	FullyQualifiedName string          `json:"fullyQualifiedName"`
	RuntimeMatch       string          `json:"runtimeMatch,omitempty"`
	CreationMatch      string          `json:"creationMatch,omitempty"`
	VerifiedAt         string          `json:"verifiedAt"`
	Verification       json.RawMessage `json:"verification,omitempty"`
}

// ListOptions filters and pages List
type ListOptions struct {
	ChainID uint64
	Match   string
	Limit   int
	Cursor  string
}

// ListResponse is a page of verified contracts
type ListResponse struct {
	Data       []VerifiedContract `json:"data"`
	HasMore    bool               `json:"hasMore"`
	NextCursor string             `json:"nextCursor,omitempty"`
}

// APIError represents an API error response
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Verify submits sources for verification
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	var resp VerifyResponse
	if err := c.post(ctx, "/api/v1/verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Get returns the stored verification of an address
func (c *Client) Get(ctx context.Context, chainID uint64, address string) (*VerifiedContract, error) {
	var resp VerifiedContract
	path := fmt.Sprintf("/api/v1/verify/%d/%s", chainID, url.PathEscape(address))
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List lists stored verifications, newest first
func (c *Client) List(ctx context.Context, opts ListOptions) (*ListResponse, error) {
	q := url.Values{}
	if opts.ChainID != 0 {
		q.Set("chainId", strconv.FormatUint(opts.ChainID, 10))
	}
	if opts.Match != "" {
		q.Set("match", opts.Match)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}

	path := "/api/v1/verified"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp ListResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return parseError(resp)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func parseError(resp *http.Response) error {
	var errResp struct {
		Error APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error.Code == "" {
		return &APIError{StatusCode: resp.StatusCode, Code: "http_error", Message: resp.Status}
	}
	errResp.Error.StatusCode = resp.StatusCode
	return &errResp.Error
}
