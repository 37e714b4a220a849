package enums

// NotificationKind classifies buyer notifications produced from order
// lifecycle events.
type NotificationKind string

const (
	NotificationOrderConfirmed NotificationKind = "order_confirmed"
	NotificationOrderCancelled NotificationKind = "order_cancelled"
	NotificationOrderRefunded  NotificationKind = "order_refunded"
)

var validNotificationKinds = []NotificationKind{
	NotificationOrderConfirmed,
	NotificationOrderCancelled,
	NotificationOrderRefunded,
}

func (k NotificationKind) IsValid() bool {
	for _, valid := range validNotificationKinds {
		if k == valid {
			return true
		}
	}
	return false
}

func (k NotificationKind) String() string {
	return string(k)
}
