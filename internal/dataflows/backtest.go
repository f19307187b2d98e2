package dataflows

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantmesh/QuorumGo/internal/models"
)

// BacktestClient talks to the external backtest service over HTTP. It
// satisfies the evolution loop's Evaluator.
type BacktestClient struct {
	client *resty.Client
	logger *logrus.Logger
}

func NewBacktestClient(baseURL string, logger *logrus.Logger) *BacktestClient {
	if logger == nil {
		logger = logrus.New()
	}

	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(60 * time.Second)
	client.SetRetryCount(3)
	client.SetRetryWaitTime(1 * time.Second)
	client.SetRetryMaxWaitTime(30 * time.Second)

	return &BacktestClient{client: client, logger: logger}
}

type backtestRequest struct {
	Strategy models.StrategyDefinition `json:"strategy"`
	Symbol   string                    `json:"symbol,omitempty"`
	Candles  []MarketData              `json:"candles,omitempty"`
}

// BacktestReport is the service's decimal-typed response. Money-adjacent
// fields stay decimal until the float summary is derived.
type BacktestReport struct {
	SharpeRatio  decimal.Decimal   `json:"sharpe_ratio"`
	WinRate      decimal.Decimal   `json:"win_rate"`
	MaxDrawdown  decimal.Decimal   `json:"max_drawdown"`
	ProfitFactor decimal.Decimal   `json:"profit_factor"`
	TotalTrades  int               `json:"total_trades"`
	TotalReturn  decimal.Decimal   `json:"total_return"`
	EquityCurve  []decimal.Decimal `json:"equity_curve,omitempty"`
}

// Backtest submits the strategy and converts the report into the float
// metrics summary. A missing drawdown is recomputed from the equity curve
// when the service supplies one.
func (c *BacktestClient) Backtest(ctx context.Context, strategy models.StrategyDefinition) (models.BacktestMetrics, error) {
	return c.BacktestWithData(ctx, strategy, "", nil)
}

// BacktestWithData additionally ships symbol and candle data for services
// that do not fetch their own.
func (c *BacktestClient) BacktestWithData(ctx context.Context, strategy models.StrategyDefinition, symbol string, candles []MarketData) (models.BacktestMetrics, error) {
	var report BacktestReport

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(backtestRequest{Strategy: strategy, Symbol: symbol, Candles: candles}).
		SetResult(&report).
		Post("/backtest")
	if err != nil {
		return models.BacktestMetrics{}, fmt.Errorf("backtest request: %w", err)
	}
	if resp.IsError() {
		return models.BacktestMetrics{}, fmt.Errorf("backtest service returned %s: %s", resp.Status(), resp.String())
	}

	if report.MaxDrawdown.IsZero() && len(report.EquityCurve) > 1 {
		report.MaxDrawdown = MaxDrawdownFromEquity(report.EquityCurve)
	}

	c.logger.WithFields(logrus.Fields{
		"strategy": strategy.Name,
		"sharpe":   report.SharpeRatio.String(),
		"trades":   report.TotalTrades,
	}).Debug("backtest completed")

	return report.toMetrics(), nil
}

func (r BacktestReport) toMetrics() models.BacktestMetrics {
	return models.BacktestMetrics{
		SharpeRatio:  r.SharpeRatio.InexactFloat64(),
		WinRate:      r.WinRate.InexactFloat64(),
		MaxDrawdown:  r.MaxDrawdown.InexactFloat64(),
		ProfitFactor: r.ProfitFactor.InexactFloat64(),
		TotalTrades:  r.TotalTrades,
		TotalReturn:  r.TotalReturn.InexactFloat64(),
	}
}

// MaxDrawdownFromEquity computes the largest peak-to-trough fraction of an
// equity curve. Returns zero for curves shorter than two points.
func MaxDrawdownFromEquity(curve []decimal.Decimal) decimal.Decimal {
	if len(curve) < 2 {
		return decimal.Zero
	}

	peak := curve[0]
	maxDD := decimal.Zero
	for _, v := range curve[1:] {
		if v.GreaterThan(peak) {
			peak = v
			continue
		}
		if peak.IsZero() {
			continue
		}
		dd := peak.Sub(v).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}
