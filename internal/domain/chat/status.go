package chat

// DeliveryStatus is the sender's view of a message lifecycle.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

func (s DeliveryStatus) rank() int {
	switch s {
	case StatusSending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return -1
	}
}

// Advance applies a candidate status monotonically: a displayed status
// never regresses on the forward path. Failed is an alternate terminal
// reachable only from sending; a retry re-enters sending explicitly.
func Advance(current, next DeliveryStatus) DeliveryStatus {
	if next == StatusFailed {
		if current == StatusSending {
			return StatusFailed
		}
		return current
	}
	if current == StatusFailed {
		if next == StatusSending {
			return StatusSending
		}
		// a late ack after a local timeout still counts
		if next.rank() >= StatusSent.rank() {
			return next
		}
		return current
	}
	if next.rank() > current.rank() {
		return next
	}
	return current
}
