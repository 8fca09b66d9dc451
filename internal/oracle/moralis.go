package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Token identifies one asset on the upstream price API.
type Token struct {
	Address string
	ChainID string
}

// MoralisOptions parameterise the HTTP price fetcher.
type MoralisOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
	Tokens    map[Asset]Token
}

// Moralis fetches USD token prices from the Moralis ERC-20 price endpoint.
type Moralis struct {
	opts    MoralisOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewMoralis constructs an HTTP price fetcher.
func NewMoralis(opts MoralisOptions, logger zerolog.Logger) *Moralis {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://deep-index.moralis.io/api/v2.2"
	}

	return &Moralis{
		opts:    opts,
		logger:  logger.With().Str("component", "moralis_oracle").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchUSDPrice retrieves the current USD price for the given asset.
func (m *Moralis) FetchUSDPrice(ctx context.Context, asset Asset) (decimal.Decimal, error) {
	if m.opts.APIKey == "" {
		return decimal.Decimal{}, errors.New("moralis api key not configured")
	}

	token, ok := m.opts.Tokens[asset]
	if !ok || token.Address == "" {
		return decimal.Decimal{}, fmt.Errorf("no token address configured for asset %q", asset)
	}

	endpoint := fmt.Sprintf("%s/erc20/%s/price?chain=%s", m.baseURL, token.Address, url.QueryEscape(token.ChainID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", m.opts.APIKey)
	if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, parseHTTPError(resp.StatusCode, payload)
	}

	var priceRes priceResponse
	if err := json.Unmarshal(payload, &priceRes); err != nil {
		return decimal.Decimal{}, err
	}

	price := decimal.NewFromFloat(priceRes.USDPrice)
	if price.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("upstream returned non-positive price for %s: %s", asset, price)
	}

	return price, nil
}

type priceResponse struct {
	USDPrice     float64 `json:"usdPrice"`
	TokenSymbol  string  `json:"tokenSymbol"`
	TokenAddress string  `json:"tokenAddress"`
	ExchangeName string  `json:"exchangeName"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("oracle api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("oracle api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("oracle api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("oracle api error (%d)", status)
}

var _ PriceFetcher = (*Moralis)(nil)
