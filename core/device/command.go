package device

import "github.com/homewatt/flex/core/model"

// SwitchState is the string command sent to chargers and switchable loads.
type SwitchState string

const (
	SwitchStart SwitchState = "START"
	SwitchStop  SwitchState = "STOP"
)

// Command is the tagged union of device commands. Each device class carries
// its own well-typed parameters; Kind discriminates on the wire.
type Command interface {
	Kind() string
}

// SwitchCommand starts or stops a charging session or a switchable load.
type SwitchCommand struct {
	State SwitchState
}

func (SwitchCommand) Kind() string { return "switch" }

// ThermostatCommand sets the HVAC mode and the setpoint for that mode.
type ThermostatCommand struct {
	Mode         model.HVACMode
	HeatSetpoint float64 // used when Mode is HEAT
	CoolSetpoint float64 // used when Mode is COOL
}

func (ThermostatCommand) Kind() string { return "thermostat" }

// ScheduleCommand returns the device to its own schedule.
type ScheduleCommand struct{}

func (ScheduleCommand) Kind() string { return "follow_schedule" }

// FromAction builds the command matching an accepted alert action.
func FromAction(a model.AlertAction, hvac model.HVACState) Command {
	switch a.Type {
	case model.ActionPauseCharger:
		return SwitchCommand{State: SwitchStop}
	case model.ActionShiftCharge, model.ActionShiftAppliance, model.ActionChargeBattery, model.ActionDischargeBattery:
		return ScheduleCommand{}
	case model.ActionPreCool:
		return ThermostatCommand{Mode: model.ModeCool, CoolSetpoint: hvac.Setpoint - 2}
	case model.ActionRaiseSetpoint:
		delta := a.Params["delta_c"]
		if delta == 0 {
			delta = 2
		}
		return ThermostatCommand{Mode: hvac.Mode, CoolSetpoint: hvac.Setpoint + delta, HeatSetpoint: hvac.Setpoint - delta}
	default:
		return ScheduleCommand{}
	}
}

// FromSetpoint builds the thermostat command for an accepted recommendation.
func FromSetpoint(hvac model.HVACState, setpoint float64) Command {
	switch hvac.Mode {
	case model.ModeHeat:
		return ThermostatCommand{Mode: model.ModeHeat, HeatSetpoint: setpoint}
	case model.ModeCool:
		return ThermostatCommand{Mode: model.ModeCool, CoolSetpoint: setpoint}
	default:
		return ScheduleCommand{}
	}
}
