package sim

import "log"

// NotificationLogger is a listener that prints every notification it
// receives. Subscribe it with SubscribeAll to trace a run.
type NotificationLogger[T TimeValue[T]] struct {
	*log.Logger
}

// NewNotificationLogger returns a NotificationLogger that writes into
// the given logger.
func NewNotificationLogger[T TimeValue[T]](
	logger *log.Logger,
) *NotificationLogger[T] {
	l := new(NotificationLogger[T])
	l.Logger = logger

	return l
}

// Notify writes the notification into the logger.
func (l *NotificationLogger[T]) Notify(n Notification[T]) {
	switch d := n.Detail.(type) {
	case StateChange:
		l.Printf("%.10f, %s, %s -> %s",
			n.Time.Float(), n.Kind.Name, d.From, d.To)
	case ModelFailure:
		l.Printf("%.10f, %s, %v", n.Time.Float(), n.Kind.Name, d.Err)
	default:
		l.Printf("%.10f, %s", n.Time.Float(), n.Kind.Name)
	}
}
