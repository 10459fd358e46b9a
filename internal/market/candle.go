package market

import "time"

// Candle 单根 K 线，时间为毫秒时间戳。
type Candle struct {
	OpenTime  int64   `json:"t"`
	CloseTime int64   `json:"ct,omitempty"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v,omitempty"`
}

// PairRef 标识一个可交易标的：链上地址或交易所符号，按 Venue 区分来源。
type PairRef struct {
	Address string `json:"address,omitempty"`
	Chain   string `json:"chain,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
	Venue   string `json:"venue"` // binance / dex
}

// Key 返回稳定的标识串，链上标的优先使用 chain:address。
func (p PairRef) Key() string {
	if p.Address != "" {
		return p.Chain + ":" + p.Address
	}
	return p.Venue + ":" + p.Symbol
}

// Snapshot 一次评估所用的完整市场切片。产生后不可修改，
// 评估期间由调用方独占持有。
type Snapshot struct {
	Pair      PairRef
	Timeframe string
	Candles   []Candle
	TakenAt   time.Time
}

// Closes 提取收盘价序列。
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Highs 提取最高价序列。
func Highs(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows 提取最低价序列。
func Lows(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

// Volumes 提取成交量序列。
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

// Last 返回最后一根 K 线；序列为空时 ok=false。
func Last(candles []Candle) (Candle, bool) {
	if len(candles) == 0 {
		return Candle{}, false
	}
	return candles[len(candles)-1], true
}
