package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"svea/internal/market"
	"svea/internal/ratelimit"
	"svea/pkg/model"
)

const yahooBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// YahooProvider fetches market data from the Yahoo Finance chart API.
// Stockholm-listed symbols without an exchange suffix get ".ST" appended.
type YahooProvider struct {
	client   *http.Client
	limiter  *ratelimit.Limiter
	schedule *market.Schedule
	baseURL  string
	rate     int
}

// NewYahoo creates a Yahoo Finance provider
func NewYahoo(schedule *market.Schedule, ratePerMinute int) *YahooProvider {
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	return &YahooProvider{
		client:   &http.Client{Timeout: 15 * time.Second},
		limiter:  ratelimit.NewLimiter("yahoo", ratePerMinute),
		schedule: schedule,
		baseURL:  yahooBaseURL,
		rate:     ratePerMinute,
	}
}

func (y *YahooProvider) Name() string {
	return "yahoo"
}

func (y *YahooProvider) IsAvailable() bool {
	return true
}

func (y *YahooProvider) RateLimit() int {
	return y.rate
}

// yahooSymbol maps a ticker to its Yahoo form. Tickers already carrying an
// exchange suffix (or index symbols) pass through unchanged.
func yahooSymbol(symbol string) string {
	if strings.ContainsAny(symbol, ".^=") {
		return symbol
	}
	s := strings.ReplaceAll(symbol, " ", "-")
	return s + ".ST"
}

type yahooResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string  `json:"currency"`
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (y *YahooProvider) fetch(ctx context.Context, url string) (*yahooResponse, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, &ProviderError{Provider: y.Name(), Err: err, Retryable: false}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ProviderError{Provider: y.Name(), Err: err, Retryable: false}
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: y.Name(), Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		y.limiter.SignalRateLimited()
		return nil, &ProviderError{
			Provider:  y.Name(),
			Err:       fmt.Errorf("rate limited (429)"),
			Retryable: true,
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{
			Provider:  y.Name(),
			Err:       fmt.Errorf("unexpected status %d", resp.StatusCode),
			Retryable: resp.StatusCode >= 500,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: y.Name(), Err: err, Retryable: true}
	}

	var parsed yahooResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ProviderError{Provider: y.Name(), Err: fmt.Errorf("parse response: %w", err), Retryable: false}
	}
	if parsed.Chart.Error != nil {
		return nil, &ProviderError{
			Provider:  y.Name(),
			Err:       fmt.Errorf("%s: %s", parsed.Chart.Error.Code, parsed.Chart.Error.Description),
			Retryable: false,
		}
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, &ProviderError{Provider: y.Name(), Err: fmt.Errorf("no data for request"), Retryable: false}
	}
	y.limiter.ResetBackoff()
	return &parsed, nil
}

// candlesFromResult converts a chart result into candles, dropping bars with
// null fields (Yahoo pads incomplete bars with nulls that decode to zero).
func candlesFromResult(resp *yahooResponse, loc *time.Location) []model.Candle {
	result := resp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil
	}
	quote := result.Indicators.Quote[0]

	candles := make([]model.Candle, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == 0 {
			continue
		}
		candles = append(candles, model.Candle{
			Time:   time.Unix(ts, 0).In(loc),
			Open:   quote.Open[i],
			High:   quote.High[i],
			Low:    quote.Low[i],
			Close:  quote.Close[i],
			Volume: quote.Volume[i],
		})
	}
	return candles
}

func (y *YahooProvider) GetIntradayData(ctx context.Context, symbol string, date time.Time, interval int) (*model.IntradayData, error) {
	sessionOpen, sessionClose := y.schedule.SessionBounds(date)
	// One hour of slack after the close picks up the closing auction print.
	url := fmt.Sprintf("%s/%s?period1=%d&period2=%d&interval=%s",
		y.baseURL, yahooSymbol(symbol),
		sessionOpen.Unix(), sessionClose.Add(time.Hour).Unix(), intervalParam(interval))

	resp, err := y.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	candles := candlesFromResult(resp, y.schedule.Location)
	if len(candles) == 0 {
		return nil, &ProviderError{
			Provider:  y.Name(),
			Err:       fmt.Errorf("no candles for %s on %s", symbol, date.Format("2006-01-02")),
			Retryable: false,
		}
	}

	return &model.IntradayData{
		Ticker:   symbol,
		Date:     y.schedule.DateKey(date),
		Interval: interval,
		Candles:  candles,
	}, nil
}

func (y *YahooProvider) GetMultiDayIntraday(ctx context.Context, symbol string, days int, interval int) ([]model.IntradayData, error) {
	url := fmt.Sprintf("%s/%s?range=%dd&interval=%s",
		y.baseURL, yahooSymbol(symbol), days, intervalParam(interval))

	resp, err := y.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	candles := candlesFromResult(resp, y.schedule.Location)
	if len(candles) == 0 {
		return nil, &ProviderError{
			Provider:  y.Name(),
			Err:       fmt.Errorf("no candles for %s", symbol),
			Retryable: false,
		}
	}

	// Group candles by trading date.
	byDate := make(map[string][]model.Candle)
	var order []string
	for _, c := range candles {
		key := y.schedule.DateKey(c.Time)
		if _, seen := byDate[key]; !seen {
			order = append(order, key)
		}
		byDate[key] = append(byDate[key], c)
	}

	result := make([]model.IntradayData, 0, len(order))
	for _, key := range order {
		result = append(result, model.IntradayData{
			Ticker:   symbol,
			Date:     key,
			Interval: interval,
			Candles:  byDate[key],
		})
	}
	return result, nil
}

func (y *YahooProvider) GetDailyCandles(ctx context.Context, symbol string, days int) ([]model.Candle, error) {
	url := fmt.Sprintf("%s/%s?range=%dd&interval=1d",
		y.baseURL, yahooSymbol(symbol), days)

	resp, err := y.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	candles := candlesFromResult(resp, y.schedule.Location)
	if len(candles) == 0 {
		return nil, &ProviderError{
			Provider:  y.Name(),
			Err:       fmt.Errorf("no daily candles for %s", symbol),
			Retryable: false,
		}
	}
	return candles, nil
}

func (y *YahooProvider) GetQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	url := fmt.Sprintf("%s/%s?range=1d&interval=1m", y.baseURL, yahooSymbol(symbol))

	resp, err := y.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	meta := resp.Chart.Result[0].Meta
	if meta.RegularMarketPrice <= 0 {
		return nil, &ProviderError{
			Provider:  y.Name(),
			Err:       fmt.Errorf("no quote for %s", symbol),
			Retryable: false,
		}
	}
	return &model.Quote{
		Ticker: symbol,
		Price:  meta.RegularMarketPrice,
		AsOf:   time.Unix(meta.RegularMarketTime, 0).In(y.schedule.Location),
	}, nil
}

func intervalParam(minutes int) string {
	switch minutes {
	case 1:
		return "1m"
	case 2:
		return "2m"
	case 5:
		return "5m"
	case 15:
		return "15m"
	case 30:
		return "30m"
	case 60:
		return "60m"
	default:
		return "1m"
	}
}
