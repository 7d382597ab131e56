// Package telemetry emits best-effort login events (OTP sent, verified, lockout,
// captcha issued) for the portal's analytics pipeline.
package telemetry

import (
	"context"
	"time"
)

// Event is a single login telemetry event. Phone is always the masked form;
// full MSISDNs never leave the gateway.
type Event struct {
	FlowID    string    `json:"flowId"`
	EventType string    `json:"eventType"`
	Phone     string    `json:"phone,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
}

// Event types emitted by the login flow.
const (
	EventCaptchaIssued = "captcha_issued"
	EventOTPSent       = "otp_sent"
	EventOTPResent     = "otp_resent"
	EventOTPVerified   = "otp_verified"
	EventFlowLocked    = "flow_locked"
)

// EventEmitter emits telemetry events (e.g. to Kafka). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}
