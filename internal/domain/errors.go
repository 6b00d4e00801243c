package domain

import "errors"

var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrTradeNotFound    = errors.New("trade not found")
	ErrRequestNotFound  = errors.New("request not found")

	ErrNotParticipant = errors.New("not a participant of this trade")
	ErrForbidden      = errors.New("forbidden")

	ErrInvalidState   = errors.New("invalid state for this action")
	ErrInvalidPayload = errors.New("invalid payload")
)

// ErrorCode maps an error to the code carried on outbound error events.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrCampaignNotFound),
		errors.Is(err, ErrTradeNotFound),
		errors.Is(err, ErrRequestNotFound):
		return "not_found"
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	default:
		return "internal"
	}
}
