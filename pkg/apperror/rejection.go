package apperror

import "errors"

// Reason codes returned to the presentation layer when a view is refused.
const (
	ReasonProxyDetected           = "proxy_detected"
	ReasonDailyCapReached         = "daily_cap_reached"
	ReasonIPCooldownActive        = "ip_cooldown_active"
	ReasonInvalidSession          = "invalid_session"
	ReasonDurationTooShort        = "duration_too_short"
	ReasonSessionAlreadyCompleted = "session_already_completed"
)

var reasonMessages = map[string]string{
	ReasonProxyDetected:           "proxy or vpn traffic is not eligible for points",
	ReasonDailyCapReached:         "daily point limit reached",
	ReasonIPCooldownActive:        "another view from this ip was credited recently",
	ReasonInvalidSession:          "view session not found",
	ReasonDurationTooShort:        "site was not viewed long enough",
	ReasonSessionAlreadyCompleted: "view session already completed",
}

// RejectionError is a user-facing refusal from the validation pipeline.
// It is never a system fault and is never retried automatically.
type RejectionError struct {
	Reason  string
	Message string
}

func Reject(reason string) *RejectionError {
	msg, ok := reasonMessages[reason]
	if !ok {
		msg = "view rejected"
	}
	return &RejectionError{Reason: reason, Message: msg}
}

func (e *RejectionError) Error() string {
	return e.Reason + ": " + e.Message
}

// Is lets callers match on the taxonomy buckets with errors.Is.
func (e *RejectionError) Is(target error) bool {
	if target == ErrValidationRejected {
		return true
	}
	return target == ErrConflict && e.Reason == ReasonSessionAlreadyCompleted
}

// RejectionReason returns the reason code carried by err, or "".
func RejectionReason(err error) string {
	var rejection *RejectionError
	if errors.As(err, &rejection) {
		return rejection.Reason
	}
	return ""
}
