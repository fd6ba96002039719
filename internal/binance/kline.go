package binance

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kline is one parsed candle from the klines endpoint.
type Kline struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// parseKlines converts the positional wire format.
//
// Binance kline array layout:
//
//	[0]  Open time       (int64, Unix ms)
//	[1]  Open            (string)
//	[2]  High            (string)
//	[3]  Low             (string)
//	[4]  Close           (string)
//	[5]  Volume          (string, base asset)
//	[6]  Close time      (int64, Unix ms)
//	[7..11]              unused
//
// Any malformed entry fails the whole batch.
func parseKlines(raw [][]json.RawMessage) ([]Kline, error) {
	out := make([]Kline, 0, len(raw))
	for i, r := range raw {
		if len(r) < 7 {
			return nil, fmt.Errorf("kline[%d] has %d fields, want >=7", i, len(r))
		}

		openMs, err := parseInt64(r[0])
		if err != nil {
			return nil, fmt.Errorf("kline[%d] open_time: %w", i, err)
		}
		closeMs, err := parseInt64(r[6])
		if err != nil {
			return nil, fmt.Errorf("kline[%d] close_time: %w", i, err)
		}

		var vals [5]float64
		for j := range vals {
			v, err := parseNumber(r[j+1])
			if err != nil {
				return nil, fmt.Errorf("kline[%d] field %d: %w", i, j+1, err)
			}
			vals[j] = v
		}

		out = append(out, Kline{
			OpenTime:  time.UnixMilli(openMs).UTC(),
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
			CloseTime: time.UnixMilli(closeMs).UTC(),
		})
	}
	return out, nil
}

func parseInt64(raw json.RawMessage) (int64, error) {
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// parseNumber accepts a quoted decimal string (the normal wire form) or a
// bare JSON number. NaN and infinities are rejected.
func parseNumber(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}
