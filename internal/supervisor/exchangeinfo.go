package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ExchangeInfoClient fetches the live tradable instrument list. Spec
// §4.2/§6.2: "GET /fapi/v1/exchangeInfo -> instrument universe; used at
// startup to filter symbols to tradable USDT-perps."
type ExchangeInfoClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewExchangeInfoClient creates a client with a 10s timeout, matching the
// REST snapshot timeout convention of spec §5.
func NewExchangeInfoClient(baseURL string) *ExchangeInfoClient {
	return &ExchangeInfoClient{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		ContractType string `json:"contractType"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}

// FetchTradableUSDTPerps returns every symbol with status "TRADING",
// contractType "PERPETUAL", and quoteAsset "USDT".
func (c *ExchangeInfoClient) FetchTradableUSDTPerps(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supervisor: exchangeInfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("supervisor: exchangeInfo status %d", resp.StatusCode)
	}

	var parsed exchangeInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("supervisor: exchangeInfo decode: %w", err)
	}

	var out []string
	for _, s := range parsed.Symbols {
		if s.Status == "TRADING" && s.ContractType == "PERPETUAL" && s.QuoteAsset == "USDT" {
			out = append(out, s.Symbol)
		}
	}
	return out, nil
}
