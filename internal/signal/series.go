package signal

import "sentra/internal/market"

func highestHigh(candles []market.Candle) float64 {
	out := 0.0
	for _, c := range candles {
		if c.High > out {
			out = c.High
		}
	}
	return out
}

func lowestLow(candles []market.Candle) float64 {
	out := 0.0
	for i, c := range candles {
		if i == 0 || c.Low < out {
			out = c.Low
		}
	}
	return out
}

func avgVolume(candles []market.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candles {
		sum += c.Volume
	}
	return sum / float64(len(candles))
}

// avgBody 平均实体幅度，作为“位移是否显著”的基准。
func avgBody(candles []market.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candles {
		body := c.Close - c.Open
		if body < 0 {
			body = -body
		}
		sum += body
	}
	return sum / float64(len(candles))
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
