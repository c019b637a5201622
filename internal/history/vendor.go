package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
)

// vendorTimeout bounds every historical REST call.
const vendorTimeout = 10 * time.Second

// VendorClient fetches 1m aggregates from the market-data vendor's REST API.
// Range bounds on the wire are numeric millisecond epochs, not ISO strings.
type VendorClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewVendorClient creates a client for the given base URL and API key.
func NewVendorClient(baseURL, apiKey string) *VendorClient {
	return &VendorClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: vendorTimeout},
	}
}

type aggsResponse struct {
	Results []struct {
		T int64   `json:"t"`
		O float64 `json:"o"`
		H float64 `json:"h"`
		L float64 `json:"l"`
		C float64 `json:"c"`
		V float64 `json:"v"`
	} `json:"results"`
}

// Fetch1m returns up to limit finalized 1m bars for symbol in [fromMs, toMs].
// Vendor failures are logged with the API key redacted and yield an empty
// slice; the caller decides the fallback.
func (c *VendorClient) Fetch1m(ctx context.Context, symbol string, fromMs, toMs int64, limit int) ([]models.Bar, error) {
	u := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/minute/%d/%d?adjusted=true&sort=asc&limit=%d&apiKey=%s",
		c.baseURL, url.PathEscape(symbol), fromMs, toMs, limit, url.QueryEscape(c.apiKey))
	redacted := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/minute/%d/%d?adjusted=true&sort=asc&limit=%d&apiKey=REDACTED",
		c.baseURL, symbol, fromMs, toMs, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		slog.Error("history: build vendor request", "error", err, "url", redacted)
		return nil, nil
	}

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Warn("history: vendor request failed", "error", err, "url", redacted)
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		slog.Warn("history: vendor non-2xx", "status", resp.StatusCode, "url", redacted)
		return nil, nil
	}

	var body aggsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		slog.Warn("history: decode vendor response", "error", err, "url", redacted)
		return nil, nil
	}

	bars := make([]models.Bar, 0, len(body.Results))
	for _, r := range body.Results {
		barStart := (r.T / 60_000) * 60_000
		bars = append(bars, models.Bar{
			Symbol:    symbol,
			Timeframe: models.TF1m.Label,
			Seq:       models.SeqForStart(barStart),
			BarStart:  barStart,
			BarEnd:    barStart + 60_000,
			Open:      r.O,
			High:      r.H,
			Low:       r.L,
			Close:     r.C,
			Volume:    r.V,
		})
	}
	return bars, nil
}
