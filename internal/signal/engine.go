// Package signal computes indicator series over daily bars and flags golden
// crosses: a short-term line crossing strictly above a longer-term one.
package signal

import (
	"math"
	"time"

	"goldenscan/internal/domain"
)

const (
	DefaultSMAShort = 5
	DefaultSMALong  = 10

	DefaultMACDFast   = 12
	DefaultMACDSlow   = 26
	DefaultMACDSignal = 9
)

// Kind selects the indicator pair used for crossover detection.
type Kind string

const (
	KindSMA  Kind = "sma"
	KindMACD Kind = "macd"
)

func (k Kind) IsValid() bool { return k == KindSMA || k == KindMACD }

// Engine detects crossovers with a fixed parameter set. The zero-value
// windows are filled with the defaults above.
type Engine struct {
	SMAShort, SMALong          int
	MACDFast, MACDSlow, MACDSn int
}

func NewEngine() *Engine {
	return &Engine{
		SMAShort: DefaultSMAShort,
		SMALong:  DefaultSMALong,
		MACDFast: DefaultMACDFast,
		MACDSlow: DefaultMACDSlow,
		MACDSn:   DefaultMACDSignal,
	}
}

// CrossDates returns the dates of every golden cross in bars, ascending.
// Series shorter than the indicator warm-up produce no crosses; that is not
// an error.
func (e *Engine) CrossDates(bars []domain.Bar, kind Kind) []time.Time {
	closes := Closes(bars)
	var idxs []int
	switch kind {
	case KindMACD:
		idxs = MACDCrossIndexes(closes, e.MACDFast, e.MACDSlow, e.MACDSn)
	default:
		idxs = SMACrossIndexes(closes, e.SMAShort, e.SMALong)
	}
	dates := make([]time.Time, 0, len(idxs))
	for _, i := range idxs {
		dates = append(dates, bars[i].Date)
	}
	return dates
}

// RecentCross reports the most recent golden cross if it falls within the
// final lookbackRows rows of the series. Lookback counts trading rows from
// the end of the available series, not calendar days.
func (e *Engine) RecentCross(bars []domain.Bar, kind Kind, lookbackRows int) (time.Time, bool) {
	closes := Closes(bars)
	var idxs []int
	switch kind {
	case KindMACD:
		idxs = MACDCrossIndexes(closes, e.MACDFast, e.MACDSlow, e.MACDSn)
	default:
		idxs = SMACrossIndexes(closes, e.SMAShort, e.SMALong)
	}
	if len(idxs) == 0 {
		return time.Time{}, false
	}
	last := idxs[len(idxs)-1]
	if last < len(bars)-lookbackRows {
		return time.Time{}, false
	}
	return bars[last].Date, true
}

// MinRows is the shortest series the engine can flag a cross on.
func (e *Engine) MinRows(kind Kind) int {
	if kind == KindMACD {
		return e.MACDSlow + e.MACDSn
	}
	return e.SMALong + 1
}

func Closes(bars []domain.Bar) []float64 {
	values := make([]float64, len(bars))
	for i := range bars {
		values[i] = bars[i].Close
	}
	return values
}

// SMASeries computes a simple moving average; positions before the window
// fills are NaN.
func SMASeries(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if window <= 0 || len(values) < window {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// EMASeries computes an exponential moving average seeded with the first
// value, alpha = 2/(period+1), with no warm-up bias correction beyond the
// EMA's own convergence.
func EMASeries(values []float64, period int) []float64 {
	if len(values) == 0 {
		return nil
	}
	alpha := 2.0 / (float64(period) + 1.0)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// MACDSeries returns the MACD line (fast EMA - slow EMA) and its signal
// line (EMA of the MACD line).
func MACDSeries(values []float64, fast, slow, signal int) ([]float64, []float64) {
	fastEMA := EMASeries(values, fast)
	slowEMA := EMASeries(values, slow)
	macdLine := make([]float64, len(values))
	for i := range values {
		macdLine[i] = fastEMA[i] - slowEMA[i]
	}
	signalLine := EMASeries(macdLine, signal)
	return macdLine, signalLine
}

// SMACrossIndexes returns every row where the short MA is strictly above the
// long MA after being at or below it on the previous row. Rows where either
// MA is still NaN never qualify.
func SMACrossIndexes(values []float64, short, long int) []int {
	if short <= 0 || long <= short || len(values) <= long {
		return nil
	}
	shortMA := SMASeries(values, short)
	longMA := SMASeries(values, long)

	var out []int
	for i := long; i < len(values); i++ {
		prevShort, prevLong := shortMA[i-1], longMA[i-1]
		if math.IsNaN(prevShort) || math.IsNaN(prevLong) {
			continue
		}
		if shortMA[i] > longMA[i] && prevShort <= prevLong {
			out = append(out, i)
		}
	}
	return out
}

// MACDCrossIndexes returns every row where the MACD line crosses strictly
// above its signal line. Series shorter than slow+signal rows are treated
// as having no crosses.
func MACDCrossIndexes(values []float64, fast, slow, signal int) []int {
	if fast <= 0 || slow <= fast || signal <= 0 {
		return nil
	}
	if len(values) < slow+signal {
		return nil
	}
	macdLine, signalLine := MACDSeries(values, fast, slow, signal)

	var out []int
	for i := 1; i < len(values); i++ {
		prevDelta := macdLine[i-1] - signalLine[i-1]
		currDelta := macdLine[i] - signalLine[i]
		if prevDelta <= 0 && currDelta > 0 {
			out = append(out, i)
		}
	}
	return out
}
