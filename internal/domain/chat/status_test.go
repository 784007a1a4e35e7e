package chat

import "testing"

func TestAdvance_Monotonic(t *testing.T) {
	tests := []struct {
		name    string
		current DeliveryStatus
		next    DeliveryStatus
		want    DeliveryStatus
	}{
		{"sending to sent", StatusSending, StatusSent, StatusSent},
		{"sent to delivered", StatusSent, StatusDelivered, StatusDelivered},
		{"delivered to read", StatusDelivered, StatusRead, StatusRead},
		{"read never regresses to sent", StatusRead, StatusSent, StatusRead},
		{"read never regresses to delivered", StatusRead, StatusDelivered, StatusRead},
		{"delivered ignores late sent", StatusDelivered, StatusSent, StatusDelivered},
		{"skip straight to read", StatusSent, StatusRead, StatusRead},
		{"repeat is a no-op", StatusDelivered, StatusDelivered, StatusDelivered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Advance(tt.current, tt.next); got != tt.want {
				t.Errorf("Advance(%s, %s) = %s, want %s", tt.current, tt.next, got, tt.want)
			}
		})
	}
}

func TestAdvance_Failed(t *testing.T) {
	if got := Advance(StatusSending, StatusFailed); got != StatusFailed {
		t.Errorf("pending send should fail locally, got %s", got)
	}
	if got := Advance(StatusSent, StatusFailed); got != StatusSent {
		t.Errorf("acked send must not regress to failed, got %s", got)
	}
	if got := Advance(StatusFailed, StatusSending); got != StatusSending {
		t.Errorf("retry should re-enter sending, got %s", got)
	}
	// the server completed the original send after the local timeout
	if got := Advance(StatusFailed, StatusSent); got != StatusSent {
		t.Errorf("late ack should recover a failed send, got %s", got)
	}
}
