package chat

import "fmt"

// ValidationError rejects a send before any I/O happens.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "cannot send: " + e.Reason
}

// DeliveryError reports a message that was stored but that the gateway did
// not accept. The stored message keeps its sent status.
type DeliveryError struct {
	MessageID string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("message %s stored but not delivered: %v", e.MessageID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
