package forecast

import (
	"math"
	"testing"

	"github.com/homewatt/flex/core/model"
)

func series(prices ...float64) []model.HourlyPrice {
	s := make([]model.HourlyPrice, len(prices))
	for i, p := range prices {
		s[i] = model.HourlyPrice{Hour: i, ConsumerPriceKWh: p}
	}
	return s
}

func TestCheapestWindow(t *testing.T) {
	s := series(0.30, 0.10, 0.10, 0.10, 0.30)
	w, ok := CheapestWindow(s, 3)
	if !ok {
		t.Fatal("expected a window")
	}
	if w.StartHour != 1 || w.EndHour != 3 {
		t.Fatalf("expected hours 1-3, got %d-%d", w.StartHour, w.EndHour)
	}
	if math.Abs(w.AvgPrice-0.10) > 1e-9 {
		t.Fatalf("expected avg 0.10, got %v", w.AvgPrice)
	}
}

func TestPeakWindow(t *testing.T) {
	s := series(0.10, 0.20, 0.40, 0.50, 0.10)
	w, ok := PeakWindow(s, 2)
	if !ok {
		t.Fatal("expected a window")
	}
	if w.StartHour != 2 || w.EndHour != 3 {
		t.Fatalf("expected hours 2-3, got %d-%d", w.StartHour, w.EndHour)
	}
	if math.Abs(w.AvgPrice-0.45) > 1e-9 {
		t.Fatalf("expected avg 0.45, got %v", w.AvgPrice)
	}
}

func TestWindowTieBreaksEarliest(t *testing.T) {
	s := series(0.10, 0.10, 0.30, 0.10, 0.10)
	w, ok := CheapestWindow(s, 2)
	if !ok || w.StartHour != 0 {
		t.Fatalf("expected earliest tie at hour 0, got %+v ok=%v", w, ok)
	}
}

func TestWindowTooShort(t *testing.T) {
	if _, ok := CheapestWindow(series(0.1, 0.2), 3); ok {
		t.Fatal("expected no window for short series")
	}
	if _, ok := PeakWindow(nil, 1); ok {
		t.Fatal("expected no window for empty series")
	}
}

func TestCheapestNeverAbovePeak(t *testing.T) {
	s := series(0.31, 0.08, 0.22, 0.45, 0.04, 0.12, 0.39, 0.27)
	for n := 1; n <= len(s); n++ {
		lo, okLo := CheapestWindow(s, n)
		hi, okHi := PeakWindow(s, n)
		if !okLo || !okHi {
			t.Fatalf("expected windows for n=%d", n)
		}
		if lo.AvgPrice > hi.AvgPrice {
			t.Fatalf("n=%d cheapest %v above peak %v", n, lo.AvgPrice, hi.AvgPrice)
		}
	}
}

func TestCurrentPrice(t *testing.T) {
	if p := CurrentPrice(nil, DefaultPriceKWh); p != DefaultPriceKWh {
		t.Fatalf("expected fallback, got %v", p)
	}
	if p := CurrentPrice(series(0.27, 0.1), DefaultPriceKWh); p != 0.27 {
		t.Fatalf("expected 0.27, got %v", p)
	}
}

func TestWindowLabel(t *testing.T) {
	w := Window{StartHour: 1, EndHour: 3}
	if w.Label() != "01h-04h" {
		t.Fatalf("unexpected label %q", w.Label())
	}
}
