package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// HVACMode describes the operating mode of a household's HVAC system.
type HVACMode string

const (
	ModeHeat HVACMode = "HEAT"
	ModeCool HVACMode = "COOL"
	ModeOff  HVACMode = "OFF"
)

// HVACState is the thermostat state tracked per household.
type HVACState struct {
	CurrentTemp float64 // indoor temperature in °C
	Setpoint    float64 // target temperature in °C
	Mode        HVACMode
}

// DeviceType identifies the class of a household device for rule evaluation
// and command dispatch.
type DeviceType string

const (
	DeviceEVCharger   DeviceType = "ev_charger"
	DeviceThermostat  DeviceType = "thermostat"
	DeviceBattery     DeviceType = "battery"
	DevicePoolPump    DeviceType = "pool_pump"
	DeviceWaterHeater DeviceType = "water_heater"
	DeviceDryer       DeviceType = "dryer"
)

// Device describes one controllable or shiftable device owned by a household.
type Device struct {
	Type        DeviceType
	Name        string
	PowerKW     float64 // nominal draw or charge rate in kW
	CapacityKWh float64 // battery capacity, zero for non-storage devices
	Level       float64 // state of charge or fill level in [0,1], if applicable
}

// Shiftable reports whether the device load can be moved to a cheaper window.
func (d Device) Shiftable() bool {
	switch d.Type {
	case DevicePoolPump, DeviceWaterHeater, DeviceDryer:
		return true
	}
	return false
}

// Household is a participating home with its devices, thermostat state and
// savings balances. It is mutated only through the recommendation engine and
// the settlement ledger.
type Household struct {
	ID            string
	Name          string
	Devices       []Device
	HVAC          HVACState
	Credits       int
	Participation int // accepted recommendation count

	SavingsPending decimal.Decimal
	SavingsPaid    decimal.Decimal

	// DeviceLinkID is the external device-control account, empty for
	// households without linked hardware.
	DeviceLinkID string
	// PayoutAddress is the external payment destination, empty when payouts
	// are not configured.
	PayoutAddress string
}

// Validate checks that the household is well formed.
func (h Household) Validate() error {
	if h.ID == "" {
		return fmt.Errorf("%w: household id required", ErrInvalidInput)
	}
	if h.Credits < 0 {
		return fmt.Errorf("%w: credits must not be negative", ErrInvalidInput)
	}
	if h.SavingsPending.IsNegative() || h.SavingsPaid.IsNegative() {
		return fmt.Errorf("%w: savings balances must not be negative", ErrInvalidInput)
	}
	return nil
}

// FirstDevice returns the first device of the given type, if any.
func (h Household) FirstDevice(t DeviceType) (Device, bool) {
	for _, d := range h.Devices {
		if d.Type == t {
			return d, true
		}
	}
	return Device{}, false
}
