package model

// AlertSeverity ranks how strongly an alert should be surfaced.
type AlertSeverity string

const (
	SeverityInfo   AlertSeverity = "info"
	SeverityAdvice AlertSeverity = "advice"
	SeverityUrgent AlertSeverity = "urgent"
)

// ActionType identifies what an alert asks the household to do.
type ActionType string

const (
	ActionPauseCharger     ActionType = "pause_charger"
	ActionShiftCharge      ActionType = "shift_charge"
	ActionPreCool          ActionType = "pre_cool"
	ActionRaiseSetpoint    ActionType = "raise_setpoint"
	ActionChargeBattery    ActionType = "charge_battery"
	ActionDischargeBattery ActionType = "discharge_battery"
	ActionShiftAppliance   ActionType = "shift_appliance"
)

// Alert is a price-window-derived suggestion shown to the household. Alerts
// are ephemeral: one batch per forecast evaluation, consumed or discarded on
// acceptance/decline.
type Alert struct {
	ID          int
	Severity    AlertSeverity
	Title       string
	Description string
}

// AlertAction is the typed action paired with an alert.
type AlertAction struct {
	ID         int
	AlertID    int
	DeviceType DeviceType
	DeviceName string
	Type       ActionType
	Params     map[string]float64
}

// AlertAnalysis carries the numbers behind an alert, used for explanation
// text and for savings accrual on acceptance.
type AlertAnalysis struct {
	ID            int
	AlertID       int
	SavingsUSD    float64
	CurrentPrice  float64
	OptimalPrice  float64
	CurrentWindow string
	OptimalWindow string
}

// AlertBatch groups the triples produced by one rule evaluation pass.
// Identifiers are unique within the batch only.
type AlertBatch struct {
	Alerts   []Alert
	Actions  []AlertAction
	Analyses []AlertAnalysis
}

// ActionFor returns the action correlated with the given alert id.
func (b AlertBatch) ActionFor(alertID int) (AlertAction, bool) {
	for _, a := range b.Actions {
		if a.AlertID == alertID {
			return a, true
		}
	}
	return AlertAction{}, false
}

// AnalysisFor returns the analysis correlated with the given alert id.
func (b AlertBatch) AnalysisFor(alertID int) (AlertAnalysis, bool) {
	for _, a := range b.Analyses {
		if a.AlertID == alertID {
			return a, true
		}
	}
	return AlertAnalysis{}, false
}
