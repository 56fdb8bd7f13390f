package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// IndexTag identifies a stock index whose membership we track.
type IndexTag string

const (
	IndexHS300 IndexTag = "hs300"
	IndexZZ500 IndexTag = "zz500"
)

var SupportedIndexes = []IndexTag{IndexHS300, IndexZZ500}

func (t IndexTag) IsValid() bool {
	for _, known := range SupportedIndexes {
		if t == known {
			return true
		}
	}
	return false
}

// Instrument is one index constituent. Membership is replaced wholesale on
// every refresh, never merged.
type Instrument struct {
	Code       string   `json:"code"`
	Name       string   `json:"name"`
	Index      IndexTag `json:"index"`
	UpdateDate string   `json:"update_date,omitempty"`
}

// Bar is one daily OHLCV row, uniquely keyed by (Code, Date).
type Bar struct {
	Code       string    `json:"code"`
	Date       time.Time `json:"date"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	Amount     float64   `json:"amount"`
	AdjustFlag string    `json:"adjust_flag,omitempty"`
}

// Validate checks a bar at the ingestion boundary so nothing downstream has
// to re-check field shapes.
func (b Bar) Validate() error {
	if strings.TrimSpace(b.Code) == "" {
		return &ParameterError{Name: "code", Reason: "must not be empty"}
	}
	if b.Date.IsZero() {
		return &ParameterError{Name: "date", Reason: "must not be zero"}
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"open", b.Open}, {"high", b.High}, {"low", b.Low},
		{"close", b.Close}, {"volume", b.Volume}, {"amount", b.Amount},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return &ParameterError{Name: f.name, Reason: "must be a finite number"}
		}
		if f.value < 0 {
			return &ParameterError{Name: f.name, Reason: "must not be negative"}
		}
	}
	return nil
}

// CrossoverEvent is a detected golden cross. It is derived from bar history
// on every detection run and never persisted.
type CrossoverEvent struct {
	Code          string    `json:"code"`
	Name          string    `json:"name"`
	LastCrossDate time.Time `json:"last_cross_date"`
}

// BacktestResult aggregates the simulated trades behind one signal.
type BacktestResult struct {
	Code           string  `json:"code"`
	Name           string  `json:"name"`
	AvgProfit      float64 `json:"avg_profit"`
	AvgProfitRatio float64 `json:"avg_profit_ratio"`
	WinProbability float64 `json:"win_probability"`
	TradeCount     int     `json:"trade_count"`

	// LastCrossDate is set when the result was produced by a scan and
	// identifies the qualifying crossover.
	LastCrossDate time.Time `json:"last_cross_date,omitempty"`
}

// Board names for China A-share listings, derived from the code prefix.
const (
	BoardSHMain  = "sh-main"
	BoardSZMain  = "sz-main"
	BoardSTAR    = "star"
	BoardChiNext = "chinext"
	BoardUnknown = "unknown"
)

// Board classifies a provider-style code such as "sh.600000".
func Board(code string) string {
	if i := strings.IndexByte(code, '.'); i >= 0 {
		code = code[i+1:]
	}
	switch {
	case strings.HasPrefix(code, "688"), strings.HasPrefix(code, "689"):
		return BoardSTAR
	case strings.HasPrefix(code, "300"):
		return BoardChiNext
	case strings.HasPrefix(code, "600"), strings.HasPrefix(code, "601"),
		strings.HasPrefix(code, "603"), strings.HasPrefix(code, "605"):
		return BoardSHMain
	case strings.HasPrefix(code, "000"), strings.HasPrefix(code, "001"),
		strings.HasPrefix(code, "002"):
		return BoardSZMain
	}
	return BoardUnknown
}

func IsMainBoard(code string) bool {
	b := Board(code)
	return b == BoardSHMain || b == BoardSZMain
}

// InsufficientDataError reports that a series is too short for the requested
// computation. It is a validation failure, never silently defaulted.
type InsufficientDataError struct {
	Required int
	Actual   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: need at least %d rows, have %d", e.Required, e.Actual)
}

// ParameterError reports invalid caller input rejected before any I/O.
type ParameterError struct {
	Name   string
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Name, e.Reason)
}
