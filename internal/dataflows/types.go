package dataflows

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketData represents one bar of stock price data.
type MarketData struct {
	Symbol    string          `json:"symbol"`
	Date      time.Time       `json:"date"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	AdjClose  decimal.Decimal `json:"adj_close"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// DateRange represents a time period for data queries.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
