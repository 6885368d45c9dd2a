package replica

import (
	"github.com/erain9/marketreplica/pkg/core"
	"github.com/erain9/marketreplica/pkg/messaging"
)

// Notification is emitted after an event has been fully applied. Order is
// set for order-entered and order-canceled, Trade for trade and Message for
// error.
type Notification struct {
	Kind    messaging.EventKind
	Order   core.Order
	Trade   core.Trade
	Message string
}

// Notifier receives notifications synchronously, in event order. It must
// not call back into the Replicator's Apply.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(n Notification)

// Notify calls f(n)
func (f NotifierFunc) Notify(n Notification) {
	f(n)
}
