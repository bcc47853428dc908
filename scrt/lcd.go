// Package scrt provides a thin client for a Secret Network LCD endpoint.
//
// The LCD is public infrastructure and sits outside the reverse proxy, so
// the client is always direct and unauthenticated.
package scrt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/scrtlabs/secret-agent-go/httpx"
)

// NodeInfo is the subset of the LCD node_info response the agent uses.
type NodeInfo struct {
	Network string `json:"network"`
	Moniker string `json:"moniker"`
	Version string `json:"version"`
}

type nodeInfoResponse struct {
	NodeInfo struct {
		Network string `json:"network"`
		Moniker string `json:"moniker"`
		Version string `json:"version"`
	} `json:"node_info"`
}

type latestBlockResponse struct {
	Block struct {
		Header struct {
			Height  string `json:"height"`
			ChainID string `json:"chain_id"`
		} `json:"header"`
	} `json:"block"`
}

// Coin is one denomination balance held by an account.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

type balancesResponse struct {
	Balances []Coin `json:"balances"`
}

// Client talks to a Secret Network LCD server.
type Client struct {
	baseURL string
	chainID string
	wallet  string
	session *httpx.Session
}

// NewClient creates an LCD client rooted at baseURL. chainID is the
// expected network; NodeInfo does not enforce it, callers may. wallet is
// the default account for Balances and may be empty.
func NewClient(session *httpx.Session, baseURL, chainID, wallet string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		chainID: chainID,
		wallet:  wallet,
		session: session,
	}
}

// BaseURL returns the resolved LCD URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ChainID returns the configured chain identifier.
func (c *Client) ChainID() string {
	return c.chainID
}

// WalletAddress returns the configured default account, or "".
func (c *Client) WalletAddress() string {
	return c.wallet
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.session.Get(ctx, c.baseURL+path)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("LCD error (%d): %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Ping checks that the LCD answers at all.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.NodeInfo(ctx)
	return err
}

// NodeInfo fetches node identity; the gateway's connectivity probe.
func (c *Client) NodeInfo(ctx context.Context) (*NodeInfo, error) {
	var wire nodeInfoResponse
	if err := c.getJSON(ctx, "/node_info", &wire); err != nil {
		return nil, err
	}
	return &NodeInfo{
		Network: wire.NodeInfo.Network,
		Moniker: wire.NodeInfo.Moniker,
		Version: wire.NodeInfo.Version,
	}, nil
}

// Balances returns the bank balances for address, falling back to the
// configured wallet when address is empty.
func (c *Client) Balances(ctx context.Context, address string) ([]Coin, error) {
	if address == "" {
		address = c.wallet
	}
	if address == "" {
		return nil, errors.New("no account address configured (set SCRT_WALLET_ADDRESS)")
	}
	var wire balancesResponse
	if err := c.getJSON(ctx, "/cosmos/bank/v1beta1/balances/"+address, &wire); err != nil {
		return nil, err
	}
	return wire.Balances, nil
}

// LatestBlockHeight returns the current chain height.
func (c *Client) LatestBlockHeight(ctx context.Context) (int64, error) {
	var wire latestBlockResponse
	if err := c.getJSON(ctx, "/blocks/latest", &wire); err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(wire.Block.Header.Height, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse block height %q: %w", wire.Block.Header.Height, err)
	}
	return height, nil
}
