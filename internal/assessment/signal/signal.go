// Package signal carries the shared GREEN/RED value that gates editing and submission.
package signal

import (
	"context"
	"encoding/json"
	"strings"
)

// Signal is the broadcast permission value.
type Signal string

const (
	Green Signal = "green"
	Red   Signal = "red"
)

// Parse normalizes a raw channel value. ok is false for anything other than green or red.
func Parse(raw string) (Signal, bool) {
	switch Signal(strings.ToLower(strings.TrimSpace(raw))) {
	case Green:
		return Green, true
	case Red:
		return Red, true
	default:
		return "", false
	}
}

// Frame is the wire shape pushed to subscribers.
type Frame struct {
	Current string `json:"current"`
}

// EncodeFrame renders sig as a JSON frame.
func EncodeFrame(sig Signal) []byte {
	data, _ := json.Marshal(Frame{Current: string(sig)})
	return data
}

// DecodeFrame extracts the raw current value. Malformed payloads yield "".
func DecodeFrame(payload []byte) string {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return ""
	}
	return frame.Current
}

// Handler receives raw values as pushed by the channel; values may be malformed.
type Handler func(value string)

// Channel is a push-based source of signal values. Delivery is at-least-once
// and a subscriber receives the current value when it subscribes.
type Channel interface {
	Subscribe(ctx context.Context, handler Handler) (Subscription, error)
}

// Subscription releases the listener when closed. Close is safe to call more than once.
type Subscription interface {
	Close() error
}
