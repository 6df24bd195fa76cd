package types

import "time"

// Frame is an ordered window of candles enriched with named indicator
// columns by the feature service. Column slices are row-aligned with
// Candles; the feature service always materializes close/high/low/volume
// as float columns alongside the raw candles.
type Frame struct {
	Candles []OHLCV              `json:"candles"`
	Columns map[string][]float64 `json:"columns"`
}

// NewFrame builds a frame from candles, materializing the base price
// columns so indicator math never reaches back into decimals.
func NewFrame(candles []OHLCV) *Frame {
	f := &Frame{
		Candles: candles,
		Columns: make(map[string][]float64, 8),
	}
	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close.InexactFloat64()
		highs[i] = c.High.InexactFloat64()
		lows[i] = c.Low.InexactFloat64()
		volumes[i] = c.Volume.InexactFloat64()
	}
	f.Columns["close"] = closes
	f.Columns["high"] = highs
	f.Columns["low"] = lows
	f.Columns["volume"] = volumes
	return f
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Candles)
}

// IsEmpty reports whether the frame holds no rows.
func (f *Frame) IsEmpty() bool { return f.Len() == 0 }

// Series returns the named column, or nil when absent.
func (f *Frame) Series(name string) []float64 {
	if f == nil || f.Columns == nil {
		return nil
	}
	return f.Columns[name]
}

// Last returns the final value of the named column.
func (f *Frame) Last(name string) (float64, bool) {
	s := f.Series(name)
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1], true
}

// At returns the value of the named column at offset back from the end
// (0 = last row).
func (f *Frame) At(name string, back int) (float64, bool) {
	s := f.Series(name)
	if back < 0 || len(s) <= back {
		return 0, false
	}
	return s[len(s)-1-back], true
}

// TailSeries returns at most n trailing values of the named column.
func (f *Frame) TailSeries(name string, n int) []float64 {
	s := f.Series(name)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// MissingColumns returns the subset of required column names the frame
// does not carry (or carries with no rows).
func (f *Frame) MissingColumns(required []string) []string {
	var missing []string
	for _, name := range required {
		if len(f.Series(name)) == 0 {
			missing = append(missing, name)
		}
	}
	return missing
}

// SetColumn attaches or replaces a column. A single-element value is
// broadcast across all rows, which is how per-cycle scalar features
// (strategy signal encodings) are appended for ML consumption.
func (f *Frame) SetColumn(name string, values []float64) {
	if f.Columns == nil {
		f.Columns = make(map[string][]float64)
	}
	if len(values) == 1 && f.Len() > 1 {
		broadcast := make([]float64, f.Len())
		for i := range broadcast {
			broadcast[i] = values[0]
		}
		f.Columns[name] = broadcast
		return
	}
	f.Columns[name] = values
}

// ColumnNames returns the set of column names carried by the frame.
func (f *Frame) ColumnNames() []string {
	names := make([]string, 0, len(f.Columns))
	for name := range f.Columns {
		names = append(names, name)
	}
	return names
}

// LastClose returns the final close, or zero on an empty frame.
func (f *Frame) LastClose() float64 {
	v, _ := f.Last("close")
	return v
}

// LastTimestamp returns the final candle's timestamp.
func (f *Frame) LastTimestamp() (time.Time, bool) {
	if f.Len() == 0 {
		return time.Time{}, false
	}
	return f.Candles[len(f.Candles)-1].Timestamp, true
}
