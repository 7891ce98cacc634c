// Package forecast analyzes hourly price series for contiguous pricing
// windows and generates synthetic forecasts for simulation.
package forecast

import "github.com/homewatt/flex/core/model"

// DefaultPriceKWh is used when a series is empty and callers need "now".
const DefaultPriceKWh = 0.12

// Window is a contiguous run of hours with its average consumer price.
type Window struct {
	StartHour int
	EndHour   int // inclusive
	AvgPrice  float64
}

// Label formats the window as an "hh-hh" range for explanation text.
func (w Window) Label() string {
	return formatHour(w.StartHour) + "-" + formatHour(w.EndHour+1)
}

func formatHour(h int) string {
	h = h % 24
	return string([]byte{byte('0' + h/10), byte('0' + h%10)}) + "h"
}

// CheapestWindow returns the n-hour window minimizing average consumer
// price. Ties break toward the earliest start hour. ok is false when the
// series is shorter than n or n is not positive.
func CheapestWindow(prices []model.HourlyPrice, n int) (Window, bool) {
	return slide(prices, n, func(best, cur float64) bool { return cur < best })
}

// PeakWindow returns the n-hour window maximizing average consumer price,
// earliest start on ties.
func PeakWindow(prices []model.HourlyPrice, n int) (Window, bool) {
	return slide(prices, n, func(best, cur float64) bool { return cur > best })
}

// slide runs one pass over the horizon keeping a running window sum.
func slide(prices []model.HourlyPrice, n int, better func(best, cur float64) bool) (Window, bool) {
	if n <= 0 || len(prices) < n {
		return Window{}, false
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += prices[i].ConsumerPriceKWh
	}
	best, bestStart := sum, 0
	for i := n; i < len(prices); i++ {
		sum += prices[i].ConsumerPriceKWh - prices[i-n].ConsumerPriceKWh
		if better(best, sum) {
			best = sum
			bestStart = i - n + 1
		}
	}
	return Window{StartHour: bestStart, EndHour: bestStart + n - 1, AvgPrice: best / float64(n)}, true
}

// CurrentPrice returns the consumer price at hour 0, or fallback when the
// series is empty.
func CurrentPrice(prices []model.HourlyPrice, fallback float64) float64 {
	if len(prices) == 0 {
		return fallback
	}
	return prices[0].ConsumerPriceKWh
}
