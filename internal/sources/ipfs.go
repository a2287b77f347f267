package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/mr-tron/base58"
)

// DefaultGateway is used when no gateway is configured.
const DefaultGateway = "https://ipfs.io"

// maxDocumentSize bounds any document fetched from a gateway.
const maxDocumentSize = 8 << 20

var (
	// ErrGateway is returned when the gateway cannot serve a document.
	ErrGateway = errors.New("ipfs gateway error")
	// ErrInvalidCID is returned for a hash that is not a valid CID.
	ErrInvalidCID = errors.New("invalid ipfs cid")
)

// Gateway fetches documents from an HTTP IPFS gateway.
type Gateway struct {
	baseURL string
	client  *http.Client
}

// NewGateway creates a gateway client. An empty baseURL selects DefaultGateway.
func NewGateway(baseURL string, timeout time.Duration) *Gateway {
	if baseURL == "" {
		baseURL = DefaultGateway
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// CIDFromMultihash renders the raw multihash embedded in auxdata as a CID string.
func CIDFromMultihash(multihash []byte) (string, error) {
	c, err := cid.Cast(multihash)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCID, err)
	}
	return c.String(), nil
}

// CIDFromURL extracts the CID from a metadata source URL such as
// "dweb:/ipfs/Qm...". It returns false for other URL schemes.
func CIDFromURL(u string) (string, bool) {
	const prefix = "dweb:/ipfs/"
	if !strings.HasPrefix(u, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(u, prefix)
	// v0 CIDs are base58btc multihashes
	if _, err := base58.Decode(id); err != nil {
		if _, err := cid.Decode(id); err != nil {
			return "", false
		}
	}
	return id, true
}

// Fetch returns the document stored under id.
func (g *Gateway) Fetch(ctx context.Context, id string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/ipfs/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrGateway, id, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrGateway, id, err)
	}
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrGateway, id, maxDocumentSize)
	}
	return data, nil
}
