// Package backtest runs the deterministic trade simulation behind a signal:
// enter at the signal day's close, exit a fixed number of trading rows
// later, and aggregate profit statistics over all trades.
package backtest

import (
	"errors"
	"time"

	"goldenscan/internal/domain"
)

const (
	DefaultShortWindow = 5
	DefaultLongWindow  = 10
	DefaultHoldDays    = 21
)

// ErrNoTrades reports that no entry signal matched the bar series, so no
// statistics exist. Callers must not confuse this with a zero-profit result.
var ErrNoTrades = errors.New("backtest: no trades produced")

// Params configures a simulation run. Zero fields take the defaults above.
type Params struct {
	ShortWindow int `json:"short_window"`
	LongWindow  int `json:"long_window"`
	HoldDays    int `json:"hold_days"`
}

func (p Params) WithDefaults() Params {
	if p.ShortWindow == 0 {
		p.ShortWindow = DefaultShortWindow
	}
	if p.LongWindow == 0 {
		p.LongWindow = DefaultLongWindow
	}
	if p.HoldDays == 0 {
		p.HoldDays = DefaultHoldDays
	}
	return p
}

// Validate rejects invalid parameters before any I/O happens.
func (p Params) Validate() error {
	if p.ShortWindow < 1 {
		return &domain.ParameterError{Name: "short_window", Reason: "must be at least 1"}
	}
	if p.LongWindow <= p.ShortWindow {
		return &domain.ParameterError{Name: "long_window", Reason: "must be greater than short_window"}
	}
	if p.HoldDays < 1 {
		return &domain.ParameterError{Name: "hold_days", Reason: "must be at least 1"}
	}
	return nil
}

// Result aggregates the simulated trades. Values are plain floats with no
// rounding; presentation rounding belongs to the caller.
type Result struct {
	AvgProfit      float64
	AvgProfitRatio float64
	WinProbability float64
	TradeCount     int
}

// Run simulates one position per entry date: open at that day's close,
// close holdDays trading rows later, or at the final row when the series
// ends first. Entry dates not present in the series are ignored.
func Run(bars []domain.Bar, entries []time.Time, holdDays int) (Result, error) {
	if holdDays < 1 {
		return Result{}, &domain.ParameterError{Name: "hold_days", Reason: "must be at least 1"}
	}

	indexByDate := make(map[time.Time]int, len(bars))
	for i, b := range bars {
		indexByDate[dateKey(b.Date)] = i
	}

	var (
		totalProfit float64
		totalRatio  float64
		wins        int
		trades      int
	)
	for _, entry := range entries {
		i, ok := indexByDate[dateKey(entry)]
		if !ok {
			continue
		}
		entryClose := bars[i].Close
		if entryClose == 0 {
			continue
		}

		exit := i + holdDays
		if exit > len(bars)-1 {
			exit = len(bars) - 1
		}
		profit := bars[exit].Close - entryClose

		totalProfit += profit
		totalRatio += profit / entryClose
		if profit > 0 {
			wins++
		}
		trades++
	}

	if trades == 0 {
		return Result{}, ErrNoTrades
	}

	return Result{
		AvgProfit:      totalProfit / float64(trades),
		AvgProfitRatio: totalRatio / float64(trades),
		WinProbability: float64(wins) / float64(trades),
		TradeCount:     trades,
	}, nil
}

func dateKey(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
