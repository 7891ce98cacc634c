// Package device translates accepted recommendations and alert actions into
// commands for the external device-control provider. Dispatch is strictly
// best-effort: failures are logged and reported but never roll back engine
// state.
package device

import (
	"context"
	"fmt"

	"github.com/homewatt/flex/core/logger"
	"github.com/homewatt/flex/core/model"
)

// LinkedDevice is one device listed by the control provider.
type LinkedDevice struct {
	ID        string
	Type      model.DeviceType
	Reachable bool
}

// Control is the external device-control collaborator.
type Control interface {
	ListDevices(ctx context.Context, externalUserID string) ([]LinkedDevice, error)
	SendCommand(ctx context.Context, deviceID string, cmd Command) (string, error)
}

// Dispatcher resolves the target device for a household and sends the
// command.
type Dispatcher struct {
	control Control
	log     logger.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(control Control, log logger.Logger) (*Dispatcher, error) {
	if control == nil || log == nil {
		return nil, fmt.Errorf("device: nil parameter provided to NewDispatcher")
	}
	return &Dispatcher{control: control, log: log}, nil
}

// Dispatch sends cmd to the household's first linked device of the wanted
// type. A household without a device link, or without a matching device, is
// a recoverable condition: Dispatch returns (false, nil) and the caller
// proceeds without hardware. Provider errors are wrapped in
// model.ErrDeviceControl; callers downgrade them to warnings.
func (d *Dispatcher) Dispatch(ctx context.Context, h model.Household, wanted model.DeviceType, cmd Command) (bool, error) {
	if h.DeviceLinkID == "" {
		d.log.Debugf("household %s has no device link, skipping dispatch", h.ID)
		return false, nil
	}
	devices, err := d.control.ListDevices(ctx, h.DeviceLinkID)
	if err != nil {
		return false, fmt.Errorf("list devices for %s: %w: %v", h.ID, model.ErrDeviceControl, err)
	}
	for _, dev := range devices {
		if dev.Type != wanted {
			continue
		}
		actionID, err := d.control.SendCommand(ctx, dev.ID, cmd)
		if err != nil {
			return false, fmt.Errorf("send %s to %s: %w: %v", cmd.Kind(), dev.ID, model.ErrDeviceControl, err)
		}
		d.log.Infof("sent %s command to device %s (action %s)", cmd.Kind(), dev.ID, actionID)
		return true, nil
	}
	d.log.Debugf("household %s has no linked %s, skipping dispatch", h.ID, wanted)
	return false, nil
}
