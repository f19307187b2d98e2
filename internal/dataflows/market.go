package dataflows

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"
)

// MarketDataClient fetches quotes and historical candles used to feed
// backtest requests.
type MarketDataClient struct {
	cache *CacheManager
}

func NewMarketDataClient(dataDir string, cacheEnabled bool) *MarketDataClient {
	cacheDir := filepath.Join(dataDir, "market_data")
	return &MarketDataClient{
		cache: NewCacheManager(cacheDir, 24*time.Hour, cacheEnabled),
	}
}

// GetQuote gets current quote data for a symbol.
func (mc *MarketDataClient) GetQuote(symbol string) (*MarketData, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	var cached MarketData
	if mc.cache.Get("market", "quote", symbol, &cached) {
		return &cached, nil
	}

	var result *MarketData
	err := WithRetry(DefaultRetryConfig(), func() error {
		q, err := quote.Get(symbol)
		if err != nil {
			return fmt.Errorf("failed to get quote for %s: %w", symbol, err)
		}

		result = &MarketData{
			Symbol:    symbol,
			Date:      time.Now(),
			Open:      decimal.NewFromFloat(q.RegularMarketOpen),
			High:      decimal.NewFromFloat(q.RegularMarketDayHigh),
			Low:       decimal.NewFromFloat(q.RegularMarketDayLow),
			Close:     decimal.NewFromFloat(q.RegularMarketPrice),
			AdjClose:  decimal.NewFromFloat(q.RegularMarketPrice),
			Volume:    int64(q.RegularMarketVolume),
			Timestamp: time.Now(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	mc.cache.Set("market", "quote", symbol, result)
	return result, nil
}

// GetHistoricalData gets daily candles for a symbol over a date range.
func (mc *MarketDataClient) GetHistoricalData(symbol string, start, end time.Time) ([]MarketData, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	cacheKey := map[string]interface{}{
		"symbol": symbol,
		"start":  start.Format("2006-01-02"),
		"end":    end.Format("2006-01-02"),
	}

	var cached []MarketData
	if mc.cache.Get("market", "historical", cacheKey, &cached) {
		return cached, nil
	}

	var result []MarketData
	err := WithRetry(DefaultRetryConfig(), func() error {
		params := &chart.Params{
			Symbol:   symbol,
			Start:    datetime.New(&start),
			End:      datetime.New(&end),
			Interval: datetime.OneDay,
		}

		iter := chart.Get(params)
		result = result[:0]
		for iter.Next() {
			bar := iter.Bar()
			result = append(result, MarketData{
				Symbol:    symbol,
				Date:      time.Unix(int64(bar.Timestamp), 0),
				Open:      bar.Open,
				High:      bar.High,
				Low:       bar.Low,
				Close:     bar.Close,
				AdjClose:  bar.AdjClose,
				Volume:    int64(bar.Volume),
				Timestamp: time.Now(),
			})
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to get historical data for %s: %w", symbol, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	mc.cache.Set("market", "historical", cacheKey, result)
	return result, nil
}

// GetHistoricalDataWindow gets historical data for a rolling window of days.
func (mc *MarketDataClient) GetHistoricalDataWindow(symbol string, days int) ([]MarketData, error) {
	end := time.Now()
	start := end.AddDate(0, 0, -days)
	return mc.GetHistoricalData(symbol, start, end)
}
