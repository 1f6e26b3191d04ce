package monitoring

import (
	"context"

	"github.com/ngoclaw/scenegate/internal/domain/service"
	"github.com/ngoclaw/scenegate/internal/infrastructure/eventbus"
)

// Attach feeds the monitor from bus events. Task events carry a
// service.TaskEvent payload.
func (m *Monitor) Attach(bus eventbus.Bus) (detach func()) {
	offTasks := bus.Subscribe(eventbus.EventTaskTransition, func(ctx context.Context, ev eventbus.Event) {
		te, ok := ev.Payload().(service.TaskEvent)
		if !ok {
			return
		}
		m.RecordTransition(te.TaskID, te.To, te.Reason, te.At)
	})
	offMessages := bus.Subscribe(eventbus.EventMessageAppended, func(ctx context.Context, ev eventbus.Event) {
		m.IncMessageAppended()
	})
	return func() {
		offTasks()
		offMessages()
	}
}
