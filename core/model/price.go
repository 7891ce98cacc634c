package model

import "time"

// HourlyPrice is one hour of the price forecast. The sequence is immutable
// input; hour 0 is "now".
type HourlyPrice struct {
	Hour               int       `json:"hour"`
	Timestamp          time.Time `json:"timestamp"`
	PriceMWh           float64   `json:"price_mwh"`
	ConsumerPriceKWh   float64   `json:"consumer_price_kwh"`
	DemandFactor       float64   `json:"demand_factor"`
	WindGenFactor      float64   `json:"wind_gen_factor"`
	GridUtilizationPct float64   `json:"grid_utilization_pct"`
}

// Forecast is a region-scoped hourly price series.
type Forecast struct {
	Region string        `json:"region"`
	Prices []HourlyPrice `json:"prices"`
}
