package notify

import (
	"context"
	"fmt"

	"github.com/homewatt/flex/core/events"
	"github.com/homewatt/flex/core/logger"
	"github.com/homewatt/flex/core/model"
	"github.com/homewatt/flex/internal/eventbus"
)

// Forwarder subscribes to the event bus and pushes a notification for the
// household-facing events. It owns its subscription and drains until the bus
// closes or the context is cancelled.
type Forwarder struct {
	notifier *Notifier
	bus      eventbus.EventBus
	log      logger.Logger
	done     chan struct{}
}

// NewForwarder wires a Forwarder to the bus. Start must be called.
func NewForwarder(notifier *Notifier, bus eventbus.EventBus, log logger.Logger) (*Forwarder, error) {
	if notifier == nil || bus == nil || log == nil {
		return nil, fmt.Errorf("notify: nil parameter provided to NewForwarder")
	}
	return &Forwarder{notifier: notifier, bus: bus, log: log, done: make(chan struct{})}, nil
}

// Start consumes bus events in a goroutine until ctx is done or the bus
// closes.
func (f *Forwarder) Start(ctx context.Context) {
	sub := f.bus.Subscribe()
	go func() {
		defer close(f.done)
		for {
			select {
			case <-ctx.Done():
				f.bus.Unsubscribe(sub)
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if note, send := f.render(ev); send {
					if err := f.notifier.Push(ctx, note); err != nil {
						f.log.Warnf("notification dropped: %v", err)
					}
				}
			}
		}
	}()
}

// Wait blocks until the forwarder goroutine exits.
func (f *Forwarder) Wait() { <-f.done }

func (f *Forwarder) render(ev eventbus.Event) (Notification, bool) {
	switch e := ev.(type) {
	case events.EventTriggered:
		return Notification{
			Title:    fmt.Sprintf("Grid event: %s", e.Event.Type),
			Message:  fmt.Sprintf("%d households have a new recommendation", e.Recommendations),
			Priority: 3 + e.Event.Severity/2,
			Tags:     []string{"zap"},
		}, true
	case events.AlertRaised:
		return Notification{
			Title:    e.Alert.Title,
			Message:  alertMessage(e),
			Priority: severityPriority(e.Alert.Severity),
			Tags:     severityTags(e.Alert.Severity),
		}, true
	case events.SettlementCompleted:
		return Notification{
			Title:    "Savings paid out",
			Message:  fmt.Sprintf("$%s sent to your account (ref %s)", e.Amount.StringFixed(2), e.TxRef),
			Priority: 3,
			Tags:     []string{"moneybag"},
		}, true
	default:
		return Notification{}, false
	}
}

func alertMessage(e events.AlertRaised) string {
	msg := e.Alert.Description
	if e.Analysis.SavingsUSD > 0 {
		msg = fmt.Sprintf("%s (save $%.2f)", msg, e.Analysis.SavingsUSD)
	}
	return msg
}

func severityPriority(s model.AlertSeverity) int {
	switch s {
	case model.SeverityUrgent:
		return 5
	case model.SeverityAdvice:
		return 3
	default:
		return 2
	}
}

func severityTags(s model.AlertSeverity) []string {
	switch s {
	case model.SeverityUrgent:
		return []string{"rotating_light"}
	case model.SeverityAdvice:
		return []string{"bulb"}
	default:
		return []string{"information_source"}
	}
}
